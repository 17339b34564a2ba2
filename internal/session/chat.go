package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/apiclient"
	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// CompletionClient produces the next companion turn. Satisfied by
// apiclient.Client.
type CompletionClient interface {
	Completion(ctx context.Context, req apiclient.CompletionRequest) (*apiclient.CompletionResponse, error)
}

// EntryLoader fetches stored entry pages. Satisfied by apiclient.Client.
type EntryLoader interface {
	LoadEntry(ctx context.Context, userID, date string, page int) (*apiclient.Entry, error)
}

type Config struct {
	UserID   string
	CuddleID cuddle.ID
	Mode     store.EntryMode

	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Session owns the ordered message list and turn-taking for one open journal
// conversation. All mutation flows through its methods; overlapping sends
// are single-flight, with a new send superseding the previous one.
type Session struct {
	cfg        Config
	completion CompletionClient
	loader     EntryLoader
	queue      *Queue
	logger     *zap.Logger

	mu             sync.Mutex
	messages       []store.Message
	page           int
	hasMore        bool
	awaitingChoice bool
	typing         bool
	errMsg         string
	retryCount     int
	inflight       context.CancelFunc
	sendGen        uint64
}

func New(completion CompletionClient, loader EntryLoader, queue *Queue, logger *zap.Logger, cfg Config) *Session {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Mode == "" {
		cfg.Mode = store.ModeGuided
	}
	queue.SetContext(PersistenceContext{
		UserID:   cfg.UserID,
		CuddleID: cfg.CuddleID,
		Mode:     cfg.Mode,
	})
	return &Session{
		cfg:        cfg,
		completion: completion,
		loader:     loader,
		queue:      queue,
		logger:     logger,
	}
}

// Open loads today's entry and decides between the welcome-back branch and a
// fresh scripted opening. Returns true when a prior conversation was found
// and the Continue/Finish choice is now pending.
func (s *Session) Open(ctx context.Context) (bool, error) {
	today := store.DateKey(s.cfg.Now())

	entry, err := s.loader.LoadEntry(ctx, s.cfg.UserID, today, 1)
	if err != nil {
		s.logger.Warn("failed to load today's entry, starting fresh", zap.Error(err))
		entry = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry != nil && entry.Mode == store.ModeGuided && len(entry.Messages) > 0 {
		s.messages = append([]store.Message(nil), entry.Messages...)
		s.messages = append(s.messages, store.Message{
			ID:      uuid.NewString(),
			Role:    store.RoleAssistant,
			Content: cuddle.WelcomeBackMessage,
		})
		s.page = 1
		s.hasMore = entry.HasMore
		s.awaitingChoice = true
		return true, nil
	}

	persona, _ := cuddle.ByID(s.cfg.CuddleID)
	s.messages = []store.Message{
		{ID: uuid.NewString(), Role: store.RoleAssistant, Content: persona.Intro},
		{ID: uuid.NewString(), Role: store.RoleAssistant, Content: persona.Prompt},
	}
	s.page = 1
	s.hasMore = false
	return false, nil
}

// Resume restores a conversation from the durable cache mirror, bypassing
// the remote load.
func (s *Session) Resume(conv OngoingConversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]store.Message(nil), conv.Messages...)
	s.page = 1
	s.hasMore = false
	s.awaitingChoice = false
}

// Continue resolves the welcome-back choice by dropping the synthesized
// prompt and reopening input. History keeps everything that was loaded.
func (s *Session) Continue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaitingChoice {
		return
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].Content == cuddle.WelcomeBackMessage {
		s.messages = s.messages[:n-1]
	}
	s.awaitingChoice = false
}

type SendOptions struct {
	ForceEnd bool
	// IsFinishEntry lets an empty send through when the user is wrapping up.
	IsFinishEntry bool
}

type SendResult struct {
	Success   bool
	ShouldEnd bool
}

// SendMessage runs one turn: optimistic append, completion call with linear
// backoff, reconcile, queue persistence. A new send supersedes any prior
// unresolved one; the superseded call returns quietly without marking its
// message failed.
func (s *Session) SendMessage(ctx context.Context, content string, opts SendOptions) SendResult {
	content = strings.TrimSpace(content)
	if content == "" && !opts.ForceEnd && !opts.IsFinishEntry {
		return SendResult{}
	}

	sendCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.awaitingChoice {
		s.mu.Unlock()
		cancel()
		return SendResult{}
	}
	// Single-flight: starting this send aborts the previous one's transport.
	if s.inflight != nil {
		s.inflight()
	}
	s.inflight = cancel
	s.sendGen++
	gen := s.sendGen

	var userID string
	if content != "" {
		userID = uuid.NewString()
		s.messages = append(s.messages, store.Message{
			ID:        userID,
			Role:      store.RoleUser,
			Content:   content,
			Timestamp: s.cfg.Now().UTC().Format(time.RFC3339),
			Status:    store.StatusSending,
		})
	}
	s.typing = true
	s.errMsg = ""
	history := outboundHistory(s.messages, userID)
	s.mu.Unlock()

	if content != "" {
		s.enqueue()
	}

	req := apiclient.CompletionRequest{
		Message:        content,
		CuddleID:       s.cfg.CuddleID,
		MessageHistory: history,
		ForceEnd:       opts.ForceEnd,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		reqCtx, cancelReq := context.WithTimeout(sendCtx, s.cfg.RequestTimeout)
		resp, err := s.completion.Completion(reqCtx, req)
		cancelReq()

		if err == nil {
			return s.acceptReply(gen, userID, cancel, resp)
		}
		if soulerr.IsCanceled(err) {
			// Superseded or torn down. Silent no-op: the user message keeps
			// its sending status for the superseding call's transcript.
			s.settle(gen, cancel)
			return SendResult{}
		}
		lastErr = err
		if !soulerr.Retryable(err) {
			break
		}
		if attempt < s.cfg.MaxRetries {
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.RetryDelay):
			case <-sendCtx.Done():
				s.settle(gen, cancel)
				return SendResult{}
			}
		}
	}

	s.failSend(gen, userID, cancel, lastErr)
	return SendResult{}
}

func (s *Session) acceptReply(gen uint64, userMsgID string, cancel context.CancelFunc, resp *apiclient.CompletionResponse) SendResult {
	now := s.cfg.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	s.markStatus(userMsgID, store.StatusSent)
	for _, bubble := range splitReply(resp.Response) {
		s.messages = append(s.messages, store.Message{
			ID:        uuid.NewString(),
			Role:      store.RoleAssistant,
			Content:   bubble,
			Timestamp: now,
		})
	}
	s.typing = false
	s.errMsg = ""
	s.retryCount = 0
	if s.sendGen == gen {
		s.inflight = nil
	}
	s.mu.Unlock()

	cancel()
	s.enqueue()
	return SendResult{Success: true, ShouldEnd: resp.ShouldEnd}
}

func (s *Session) failSend(gen uint64, userMsgID string, cancel context.CancelFunc, err error) {
	kind := soulerr.KindOf(err)
	s.logger.Warn("send failed after retries",
		zap.String("kind", string(kind)),
		zap.Error(err))

	s.mu.Lock()
	s.markStatus(userMsgID, store.StatusFailed)
	s.typing = false
	s.errMsg = userMessageForKind(kind)
	s.retryCount++
	if s.sendGen == gen {
		s.inflight = nil
	}
	s.mu.Unlock()

	cancel()
}

// settle clears in-flight bookkeeping after a superseded send without
// touching message state. The superseding send owns the typing flag now.
func (s *Session) settle(gen uint64, cancel context.CancelFunc) {
	s.mu.Lock()
	if s.sendGen == gen {
		s.typing = false
		s.inflight = nil
	}
	s.mu.Unlock()
	cancel()
}

// RetryMessage removes a failed user message and re-sends its original
// content as a brand new turn.
func (s *Session) RetryMessage(ctx context.Context, id string) SendResult {
	s.mu.Lock()
	content := ""
	for i, m := range s.messages {
		if m.ID == id && m.Role == store.RoleUser && m.Status == store.StatusFailed {
			content = m.Content
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if content == "" {
		return SendResult{}
	}
	return s.SendMessage(ctx, content, SendOptions{})
}

// LoadOlder fetches the next page of history and prepends it, preserving
// conversation order. hasMore turns false once a fetch comes back empty.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	next := s.page + 1
	s.mu.Unlock()

	today := store.DateKey(s.cfg.Now())
	entry, err := s.loader.LoadEntry(ctx, s.cfg.UserID, today, next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry == nil || len(entry.Messages) == 0 {
		s.hasMore = false
		return nil
	}
	s.messages = append(append([]store.Message(nil), entry.Messages...), s.messages...)
	s.page = next
	s.hasMore = entry.HasMore
	return nil
}

// Teardown aborts any in-flight completion and flushes pending persistence.
func (s *Session) Teardown() bool {
	s.mu.Lock()
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	s.mu.Unlock()
	return s.queue.FlushBeforeUnload()
}

func (s *Session) enqueue() {
	s.mu.Lock()
	snapshot := append([]store.Message(nil), s.messages...)
	s.mu.Unlock()
	s.queue.Enqueue(snapshot, EnqueueOptions{})
}

// Messages returns a copy of the conversation in canonical order.
func (s *Session) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}

// AwaitingChoice reports whether input is hidden pending Continue/Finish.
func (s *Session) AwaitingChoice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingChoice
}

func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Error returns the current user-facing error string, empty when none.
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// markStatus must be called with s.mu held.
func (s *Session) markStatus(id string, status store.MessageStatus) {
	if id == "" {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Status = status
			return
		}
	}
}

// outboundHistory builds what the completion service sees: failed sends are
// dropped, the leading scripted pair is excluded only when both of the first
// two turns are assistant-authored, and the message being sent right now is
// carried separately from the history.
func outboundHistory(messages []store.Message, currentID string) []store.Message {
	history := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if m.Status == store.StatusFailed {
			continue
		}
		if currentID != "" && m.ID == currentID {
			continue
		}
		history = append(history, m)
	}
	if len(history) >= 2 && history[0].Role == store.RoleAssistant && history[1].Role == store.RoleAssistant {
		history = history[2:]
	}
	return history
}

// splitReply breaks a two-paragraph reply into separate bubbles: the
// emotional acknowledgment, then the practical nudge. Further paragraphs
// stay with the second bubble.
func splitReply(response string) []string {
	first, rest, _ := strings.Cut(response, "\n\n")
	first = strings.TrimSpace(first)
	rest = strings.TrimSpace(rest)
	if first == "" && rest == "" {
		return nil
	}
	if first == "" {
		return []string{rest}
	}
	if rest == "" {
		return []string{first}
	}
	return []string{first, rest}
}

func userMessageForKind(kind soulerr.Kind) string {
	switch kind {
	case soulerr.KindTimeout:
		return "That took too long to send. Check your connection and try again."
	case soulerr.KindRateLimited:
		return "You're sending messages very quickly. Take a breath and try again in a moment."
	case soulerr.KindTransient:
		return "Something went wrong on our end. Please try again."
	case soulerr.KindValidation:
		return "That message couldn't be sent. Please try rephrasing it."
	default:
		return "Something went wrong. Please try again."
	}
}
