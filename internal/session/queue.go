package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/apiclient"
	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/store"
)

const (
	// DefaultDebounce is how long the queue waits for the burst of message
	// changes to stop before saving.
	DefaultDebounce = 800 * time.Millisecond

	defaultSaveTimeout = 10 * time.Second
)

// Saver performs the remote upsert. Satisfied by apiclient.Client.
type Saver interface {
	SaveChat(ctx context.Context, req apiclient.SaveChatRequest) error
}

// PersistenceContext identifies who and what a flush saves for. It is read
// when the debounce timer fires, not captured when a save is scheduled, so a
// persona or mode switch before the flush is honored.
type PersistenceContext struct {
	UserID   string
	CuddleID cuddle.ID
	Mode     store.EntryMode
}

// Queue decouples "message list changed" from "network write happened". It
// mirrors state into the durable cache synchronously, then saves remotely on
// a trailing debounce; only the most recent list is ever sent.
type Queue struct {
	saver  Saver
	cache  *Cache
	logger *zap.Logger

	debounce    time.Duration
	saveTimeout time.Duration

	mu         sync.Mutex
	pctx       PersistenceContext
	timer      *time.Timer
	pending    []store.Message
	hasPending bool
	waiters    []chan bool
}

type QueueOption func(*Queue)

func WithDebounce(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.debounce = d
	}
}

func NewQueue(saver Saver, cache *Cache, logger *zap.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		saver:       saver,
		cache:       cache,
		logger:      logger,
		debounce:    DefaultDebounce,
		saveTimeout: defaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetContext replaces the persistence context cell.
func (q *Queue) SetContext(pctx PersistenceContext) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pctx = pctx
}

// EnqueueOptions tweaks a single Enqueue call. Mode and CuddleID update the
// context cell for every later flush, not just this one.
type EnqueueOptions struct {
	// Immediate skips the debounce and saves right away.
	Immediate bool
	// SkipCache suppresses the durable-cache mirror for this call.
	SkipCache bool
	Mode      store.EntryMode
	CuddleID  cuddle.ID
}

// Enqueue records the latest message list for saving. Failed sends are
// filtered out; the durable cache is updated synchronously before any timer
// is armed or network call made. The returned channel reports the outcome of
// the save this payload ends up in (a superseding call's save counts).
func (q *Queue) Enqueue(messages []store.Message, opts EnqueueOptions) <-chan bool {
	messages = store.DropFailed(messages)

	q.mu.Lock()
	if opts.Mode != "" {
		q.pctx.Mode = opts.Mode
	}
	if opts.CuddleID != "" {
		q.pctx.CuddleID = opts.CuddleID
	}
	mirrorCuddle := q.pctx.CuddleID
	q.mu.Unlock()

	if !opts.SkipCache {
		q.mirror(messages, mirrorCuddle)
	}

	done := make(chan bool, 1)

	q.mu.Lock()
	q.pending = messages
	q.hasPending = true
	q.waiters = append(q.waiters, done)
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if opts.Immediate {
		q.mu.Unlock()
		q.flush()
		return done
	}
	q.timer = time.AfterFunc(q.debounce, q.flush)
	q.mu.Unlock()
	return done
}

// mirror synchronously writes (or clears) the durable cache so the data
// survives even if the process dies before the network save fires.
func (q *Queue) mirror(messages []store.Message, cuddleID cuddle.ID) {
	var err error
	if len(messages) > 0 {
		err = q.cache.PutOngoing(OngoingConversation{Messages: messages, Cuddle: cuddleID})
	} else {
		err = q.cache.DeleteOngoing()
	}
	if err != nil {
		q.logger.Warn("failed to mirror conversation to local cache", zap.Error(err))
	}
}

func (q *Queue) flush() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if !q.hasPending {
		waiters := q.waiters
		q.waiters = nil
		q.mu.Unlock()
		notify(waiters, true)
		return
	}
	messages := q.pending
	waiters := q.waiters
	pctx := q.pctx // read at fire time
	q.pending = nil
	q.hasPending = false
	q.waiters = nil
	q.mu.Unlock()

	ok := q.save(pctx, messages)
	notify(waiters, ok)
}

func (q *Queue) save(pctx PersistenceContext, messages []store.Message) bool {
	messages = store.Sanitize(messages)
	if len(messages) == 0 {
		// Nothing to persist is not an error.
		return true
	}
	if pctx.UserID == "" {
		q.logger.Warn("skipping save without an owner")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.saveTimeout)
	defer cancel()

	err := q.saver.SaveChat(ctx, apiclient.SaveChatRequest{
		Messages: messages,
		UserID:   pctx.UserID,
		CuddleID: pctx.CuddleID,
		Mode:     pctx.Mode,
	})
	if err != nil {
		// Tolerated: the cache mirror already holds the data for recovery.
		q.logger.Warn("persistence save failed",
			zap.String("userId", pctx.UserID),
			zap.Error(err))
		return false
	}
	return true
}

// FlushBeforeUnload cancels any pending debounce and saves whatever was last
// queued. Call from the teardown path; the cache mirror covers the case
// where teardown outruns the network.
func (q *Queue) FlushBeforeUnload() bool {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if !q.hasPending {
		waiters := q.waiters
		q.waiters = nil
		q.mu.Unlock()
		notify(waiters, true)
		return true
	}
	messages := q.pending
	waiters := q.waiters
	pctx := q.pctx
	q.pending = nil
	q.hasPending = false
	q.waiters = nil
	q.mu.Unlock()

	ok := q.save(pctx, messages)
	notify(waiters, ok)
	return ok
}

// Clear drops queued state and the cache entry; used when a conversation is
// finished or abandoned.
func (q *Queue) Clear() {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	waiters := q.waiters
	q.pending = nil
	q.hasPending = false
	q.waiters = nil
	q.mu.Unlock()

	notify(waiters, true)
	if err := q.cache.DeleteOngoing(); err != nil {
		q.logger.Warn("failed to clear local cache", zap.Error(err))
	}
}

func notify(waiters []chan bool, ok bool) {
	for _, w := range waiters {
		select {
		case w <- ok:
		default:
		}
	}
}
