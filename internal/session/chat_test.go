package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/apiclient"
	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

type fakeLoader struct {
	mu      sync.Mutex
	entries map[int]*apiclient.Entry
	err     error
}

func (f *fakeLoader) LoadEntry(_ context.Context, _, _ string, page int) (*apiclient.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[page], nil
}

type scriptedCompletion struct {
	mu       sync.Mutex
	calls    []apiclient.CompletionRequest
	reply    string
	err      error
	started  chan struct{}
	release  chan struct{}
	blocking bool
}

func (f *scriptedCompletion) Completion(ctx context.Context, req apiclient.CompletionRequest) (*apiclient.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.blocking {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &apiclient.CompletionResponse{Response: f.reply + req.Message}, nil
}

func (f *scriptedCompletion) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestSession(t *testing.T, completion CompletionClient, loader EntryLoader) *Session {
	t.Helper()
	q, _ := newTestQueue(t, &recordingSaver{}, 10*time.Millisecond)
	return New(completion, loader, q, zap.NewNop(), Config{
		UserID:     "u1",
		CuddleID:   cuddle.EllieSr,
		MaxRetries: 3,
		RetryDelay: 3 * time.Millisecond,
	})
}

func TestOpenFreshConversation(t *testing.T) {
	s := newTestSession(t, &scriptedCompletion{reply: "ok: "}, &fakeLoader{})

	resumed, err := s.Open(context.Background())
	if err != nil || resumed {
		t.Fatalf("expected a fresh open, got resumed=%v err=%v", resumed, err)
	}

	msgs := s.Messages()
	persona, _ := cuddle.ByID(cuddle.EllieSr)
	if len(msgs) != 2 || msgs[0].Content != persona.Intro || msgs[1].Content != persona.Prompt {
		t.Errorf("fresh open should show the scripted intro and prompt, got %+v", msgs)
	}
	if s.AwaitingChoice() {
		t.Error("fresh conversations should open input immediately")
	}
}

func TestOpenWelcomeBack(t *testing.T) {
	loader := &fakeLoader{entries: map[int]*apiclient.Entry{
		1: {
			Messages: []store.Message{
				{Role: store.RoleAssistant, Content: "how was today?"},
				{Role: store.RoleUser, Content: "busy but good"},
			},
			CuddleID: cuddle.EllieSr,
			Mode:     store.ModeGuided,
		},
	}}
	s := newTestSession(t, &scriptedCompletion{reply: "ok: "}, loader)

	resumed, err := s.Open(context.Background())
	if err != nil || !resumed {
		t.Fatalf("expected welcome-back branch, got resumed=%v err=%v", resumed, err)
	}

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected loaded messages plus exactly one synthesized prompt, got %d", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Content != "Welcome back! Would you like to continue or finish our conversation?" {
		t.Errorf("unexpected welcome-back text: %q", last.Content)
	}
	if last.Role != store.RoleAssistant {
		t.Errorf("welcome-back prompt must be assistant-authored")
	}
	if !s.AwaitingChoice() {
		t.Error("input must stay hidden until Continue or Finish is chosen")
	}

	// Input is rejected while the choice is pending.
	if res := s.SendMessage(context.Background(), "sneaky", SendOptions{}); res.Success {
		t.Error("sends must be rejected while awaiting the choice")
	}
}

func TestOpenSkipsWelcomeBackForFlatEntries(t *testing.T) {
	loader := &fakeLoader{entries: map[int]*apiclient.Entry{
		1: {
			Messages: []store.Message{{Role: store.RoleUser, Content: "free writing"}},
			CuddleID: cuddle.EllieSr,
			Mode:     store.ModeFlat,
		},
	}}
	s := newTestSession(t, &scriptedCompletion{reply: "ok: "}, loader)

	resumed, _ := s.Open(context.Background())
	if resumed {
		t.Error("flat entries must not trigger the welcome-back branch")
	}
}

func TestContinueRemovesSynthesizedPrompt(t *testing.T) {
	loader := &fakeLoader{entries: map[int]*apiclient.Entry{
		1: {
			Messages: []store.Message{{Role: store.RoleUser, Content: "yesterday's thought"}},
			CuddleID: cuddle.EllieSr,
			Mode:     store.ModeGuided,
		},
	}}
	s := newTestSession(t, &scriptedCompletion{reply: "ok: "}, loader)
	s.Open(context.Background())

	s.Continue()

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Content != "yesterday's thought" {
		t.Errorf("continue should drop only the synthesized prompt, got %+v", msgs)
	}
	if s.AwaitingChoice() {
		t.Error("input should reopen after Continue")
	}
}

func TestSendMessageHappyPath(t *testing.T) {
	completion := &scriptedCompletion{reply: "I hear you.\n\nWhat helped? Re: "}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	res := s.SendMessage(context.Background(), "today was long", SendOptions{})
	if !res.Success || res.ShouldEnd {
		t.Fatalf("unexpected result: %+v", res)
	}

	msgs := s.Messages()
	// intro + prompt + user + two assistant bubbles from the split reply
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d: %+v", len(msgs), msgs)
	}
	user := msgs[2]
	if user.Status != store.StatusSent {
		t.Errorf("user message should be reconciled to sent, got %s", user.Status)
	}
	if msgs[3].Content != "I hear you." {
		t.Errorf("first bubble should be the acknowledgment, got %q", msgs[3].Content)
	}
	if msgs[4].Role != store.RoleAssistant {
		t.Error("second bubble should be assistant-authored")
	}
	if s.Error() != "" || s.Typing() {
		t.Error("success should clear error and typing state")
	}
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	completion := &scriptedCompletion{reply: "ok: "}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	if res := s.SendMessage(context.Background(), "   ", SendOptions{}); res.Success {
		t.Error("blank sends must be rejected")
	}
	if completion.callCount() != 0 {
		t.Error("blank sends must have no side effects")
	}
	if len(s.Messages()) != 2 {
		t.Error("blank sends must not append messages")
	}
}

func TestSendExcludesSceneSettingPairFromHistory(t *testing.T) {
	completion := &scriptedCompletion{reply: "ok: "}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	s.SendMessage(context.Background(), "first real turn", SendOptions{})

	if completion.callCount() != 1 {
		t.Fatalf("expected one completion call, got %d", completion.callCount())
	}
	req := completion.calls[0]
	if len(req.MessageHistory) != 0 {
		t.Errorf("scripted intro and prompt must not reach the model, got %+v", req.MessageHistory)
	}
	if req.Message != "first real turn" {
		t.Errorf("the current turn travels separately: %q", req.Message)
	}
}

func TestRetryThenGiveUp(t *testing.T) {
	completion := &scriptedCompletion{err: soulerr.New(soulerr.KindTransient, "service down")}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	start := time.Now()
	res := s.SendMessage(context.Background(), "can you hear me?", SendOptions{})
	elapsed := time.Since(start)

	if res.Success {
		t.Fatal("exhausted retries must not report success")
	}
	if got := completion.callCount(); got != 3 {
		t.Errorf("expected exactly maxRetries (3) attempts, got %d", got)
	}
	// Linear backoff: delays of 1*retryDelay and 2*retryDelay between the
	// three attempts.
	if elapsed < 9*time.Millisecond {
		t.Errorf("expected linear backoff delays, finished in %v", elapsed)
	}

	msgs := s.Messages()
	user := msgs[len(msgs)-1]
	if user.Role != store.RoleUser || user.Status != store.StatusFailed {
		t.Errorf("originating message should be flagged failed, got %+v", user)
	}
	if s.Error() == "" {
		t.Error("a user-facing error should be populated")
	}
}

func TestRateLimitNotRetried(t *testing.T) {
	completion := &scriptedCompletion{err: soulerr.New(soulerr.KindRateLimited, "slow down")}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	s.SendMessage(context.Background(), "rapid fire", SendOptions{})

	if got := completion.callCount(); got != 1 {
		t.Errorf("rate limiting must not feed the backoff loop, got %d attempts", got)
	}
	if s.Error() == "" {
		t.Error("expected a distinct slow-down message")
	}
}

func TestSingleFlightSupersession(t *testing.T) {
	completion := &scriptedCompletion{
		reply:    "reply to ",
		blocking: true,
		started:  make(chan struct{}, 2),
		release:  make(chan struct{}),
	}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	var wg sync.WaitGroup
	var resA, resB SendResult

	wg.Add(1)
	go func() {
		defer wg.Done()
		resA = s.SendMessage(context.Background(), "a", SendOptions{})
	}()
	<-completion.started // a's request is in flight

	wg.Add(1)
	go func() {
		defer wg.Done()
		resB = s.SendMessage(context.Background(), "b", SendOptions{})
	}()
	<-completion.started // b's request is in flight; a's was canceled

	close(completion.release)
	wg.Wait()

	if resA.Success {
		t.Error("superseded send must not report success")
	}
	if !resB.Success {
		t.Fatal("superseding send should succeed")
	}

	var assistants, aFailed int
	for _, m := range s.Messages() {
		if m.Role == store.RoleAssistant && m.Content == "reply to b" {
			assistants++
		}
		if m.Content == "a" && m.Status == store.StatusFailed {
			aFailed++
		}
	}
	if assistants != 1 {
		t.Errorf("expected exactly one assistant reply (for b), got %d", assistants)
	}
	if aFailed != 0 {
		t.Error("a superseded message must never be marked failed")
	}
}

func TestRetryMessage(t *testing.T) {
	completion := &scriptedCompletion{err: soulerr.New(soulerr.KindTransient, "down")}
	s := newTestSession(t, completion, &fakeLoader{})
	s.Open(context.Background())

	s.SendMessage(context.Background(), "lost words", SendOptions{})
	msgs := s.Messages()
	failed := msgs[len(msgs)-1]
	if failed.Status != store.StatusFailed {
		t.Fatalf("setup: expected a failed message, got %+v", failed)
	}

	// The service recovers; a retry is a full re-send of the original text.
	completion.mu.Lock()
	completion.err = nil
	completion.reply = "ok: "
	completion.mu.Unlock()

	res := s.RetryMessage(context.Background(), failed.ID)
	if !res.Success {
		t.Fatal("retry should succeed once the service recovers")
	}

	var failedCount int
	for _, m := range s.Messages() {
		if m.Status == store.StatusFailed {
			failedCount++
		}
		if m.Content == "lost words" && m.Role == store.RoleUser && m.Status != store.StatusSent {
			t.Errorf("re-sent message should be sent, got %s", m.Status)
		}
	}
	if failedCount != 0 {
		t.Error("the failed original should have been removed")
	}
}

func TestLoadOlderPrependsAndPreservesOrder(t *testing.T) {
	loader := &fakeLoader{entries: map[int]*apiclient.Entry{
		1: {
			Messages: []store.Message{{Role: store.RoleUser, Content: "newer"}},
			CuddleID: cuddle.EllieSr,
			Mode:     store.ModeGuided,
			HasMore:  true,
		},
		2: {
			Messages: []store.Message{{Role: store.RoleUser, Content: "older"}},
			CuddleID: cuddle.EllieSr,
			Mode:     store.ModeGuided,
			HasMore:  false,
		},
	}}
	s := newTestSession(t, &scriptedCompletion{reply: "ok: "}, loader)
	s.Open(context.Background())
	s.Continue()

	if !s.HasMore() {
		t.Fatal("setup: expected more history")
	}
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Content != "older" || msgs[1].Content != "newer" {
		t.Errorf("older page should be prepended, got %+v", msgs)
	}
	if s.HasMore() {
		t.Error("hasMore should reflect the last fetched page")
	}

	// A further fetch with nothing left flips hasMore off and is a no-op.
	if err := s.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older at end: %v", err)
	}
	if len(s.Messages()) != 2 {
		t.Error("loading past the end must not change the list")
	}
}
