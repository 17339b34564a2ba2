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

type recordingSaver struct {
	mu    sync.Mutex
	calls []apiclient.SaveChatRequest
	err   error
}

func (r *recordingSaver) SaveChat(_ context.Context, req apiclient.SaveChatRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return r.err
}

func (r *recordingSaver) saved() []apiclient.SaveChatRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]apiclient.SaveChatRequest(nil), r.calls...)
}

func newTestQueue(t *testing.T, saver Saver, debounce time.Duration) (*Queue, *Cache) {
	t.Helper()
	cache := newTestCache(t)
	q := NewQueue(saver, cache, zap.NewNop(), WithDebounce(debounce))
	q.SetContext(PersistenceContext{UserID: "u1", CuddleID: cuddle.EllieSr, Mode: store.ModeGuided})
	return q, cache
}

func turns(contents ...string) []store.Message {
	var out []store.Message
	for _, c := range contents {
		out = append(out, store.Message{Role: store.RoleUser, Content: c})
	}
	return out
}

func TestDebounceCoalescesToLastList(t *testing.T) {
	saver := &recordingSaver{}
	q, _ := newTestQueue(t, saver, 40*time.Millisecond)

	q.Enqueue(turns("one"), EnqueueOptions{})
	q.Enqueue(turns("one", "two"), EnqueueOptions{})
	done := q.Enqueue(turns("one", "two", "three"), EnqueueOptions{})

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("save reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("save never fired")
	}

	calls := saver.saved()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one coalesced save, got %d", len(calls))
	}
	if len(calls[0].Messages) != 3 {
		t.Errorf("expected the last list (3 messages), got %d", len(calls[0].Messages))
	}
}

func TestCacheWrittenSynchronouslyBeforeTimerFires(t *testing.T) {
	saver := &recordingSaver{}
	q, cache := newTestQueue(t, saver, 500*time.Millisecond)

	q.Enqueue(turns("unsaved yet"), EnqueueOptions{})

	// Read the cache immediately, without waiting for the debounce.
	conv, err := cache.GetOngoing()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv == nil || len(conv.Messages) != 1 || conv.Messages[0].Content != "unsaved yet" {
		t.Fatalf("cache should reflect the list before any network save, got %+v", conv)
	}
	if len(saver.saved()) != 0 {
		t.Error("remote save must not have fired yet")
	}
}

func TestEmptyListClearsCache(t *testing.T) {
	saver := &recordingSaver{}
	q, cache := newTestQueue(t, saver, 20*time.Millisecond)

	q.Enqueue(turns("something"), EnqueueOptions{})
	done := q.Enqueue(nil, EnqueueOptions{})

	if conv, _ := cache.GetOngoing(); conv != nil {
		t.Errorf("empty list should remove the cache entry, got %+v", conv)
	}

	// An empty save is a successful no-op, not an error.
	select {
	case ok := <-done:
		if !ok {
			t.Error("nothing to persist should still report success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush never resolved")
	}
	if calls := saver.saved(); len(calls) != 0 {
		t.Errorf("no remote save expected for an empty list, got %d", len(calls))
	}
}

func TestContextReadAtFireTime(t *testing.T) {
	saver := &recordingSaver{}
	q, _ := newTestQueue(t, saver, 40*time.Millisecond)

	done := q.Enqueue(turns("hello"), EnqueueOptions{})
	// Persona switches after scheduling but before the flush fires; the
	// later context must win.
	q.SetContext(PersistenceContext{UserID: "u1", CuddleID: cuddle.OllyJr, Mode: store.ModeGuided})

	<-done
	calls := saver.saved()
	if len(calls) != 1 {
		t.Fatalf("expected one save, got %d", len(calls))
	}
	if calls[0].CuddleID != cuddle.OllyJr {
		t.Errorf("flush should read the context at fire time, got cuddle %s", calls[0].CuddleID)
	}
}

func TestImmediateSave(t *testing.T) {
	saver := &recordingSaver{}
	q, _ := newTestQueue(t, saver, time.Hour)

	done := q.Enqueue(turns("now"), EnqueueOptions{Immediate: true})
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("immediate save reported failure")
		}
	default:
		t.Fatal("immediate save should resolve synchronously")
	}
	if len(saver.saved()) != 1 {
		t.Fatal("immediate save should bypass the debounce")
	}
}

func TestSaveWithoutOwnerFails(t *testing.T) {
	saver := &recordingSaver{}
	q, _ := newTestQueue(t, saver, time.Hour)
	q.SetContext(PersistenceContext{CuddleID: cuddle.EllieSr})

	done := q.Enqueue(turns("orphan"), EnqueueOptions{Immediate: true})
	if ok := <-done; ok {
		t.Error("saving without a userId must report failure")
	}
	if len(saver.saved()) != 0 {
		t.Error("no remote call should be made without an owner")
	}
}

func TestSaveErrorToleratedAndReported(t *testing.T) {
	saver := &recordingSaver{err: soulerr.New(soulerr.KindTransient, "store down")}
	q, cache := newTestQueue(t, saver, time.Hour)

	done := q.Enqueue(turns("precious words"), EnqueueOptions{Immediate: true})
	if ok := <-done; ok {
		t.Error("failed save must report false")
	}
	// The mirror is the safety net; it must still hold the data.
	conv, _ := cache.GetOngoing()
	if conv == nil || conv.Messages[0].Content != "precious words" {
		t.Errorf("cache mirror should survive a failed save, got %+v", conv)
	}
}

func TestFlushBeforeUnload(t *testing.T) {
	saver := &recordingSaver{}
	q, _ := newTestQueue(t, saver, time.Hour)

	q.Enqueue(turns("last words"), EnqueueOptions{})
	if ok := q.FlushBeforeUnload(); !ok {
		t.Fatal("flush reported failure")
	}
	if len(saver.saved()) != 1 {
		t.Fatalf("expected one save from the unload flush, got %d", len(saver.saved()))
	}

	// The debounce timer was canceled; no second save may fire later.
	time.Sleep(50 * time.Millisecond)
	if len(saver.saved()) != 1 {
		t.Error("unload flush and debounce timer double-fired")
	}

	if ok := q.FlushBeforeUnload(); !ok {
		t.Error("flushing with nothing pending should succeed")
	}
}

func TestClearDropsStateAndCache(t *testing.T) {
	saver := &recordingSaver{}
	q, cache := newTestQueue(t, saver, 30*time.Millisecond)

	q.Enqueue(turns("abandoned"), EnqueueOptions{})
	q.Clear()

	if conv, _ := cache.GetOngoing(); conv != nil {
		t.Errorf("clear should remove the cache entry, got %+v", conv)
	}
	time.Sleep(60 * time.Millisecond)
	if len(saver.saved()) != 0 {
		t.Error("cleared queue must not fire its pending save")
	}
}
