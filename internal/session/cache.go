// Package session implements the journal conversation engine: the durable
// local cache, the debounced persistence queue, and the message state
// machine with single-flight completion calls.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/store"
)

const (
	ongoingBucket   = "ongoing"
	submittedBucket = "submitted_days"

	// ongoingKey is the fixed key for the in-flight conversation; absence
	// means there is nothing to resume.
	ongoingKey = "ongoing_journal_conversation"
)

// OngoingConversation is the cache mirror of the in-flight conversation. It
// is written synchronously before any network save so a crash or close never
// loses unsaved turns.
type OngoingConversation struct {
	Messages []store.Message `json:"messages"`
	Cuddle   cuddle.ID       `json:"cuddle"`
}

// Cache is a synchronous key-value store backed by a local bolt file. The
// file is opened per operation so writes are durable the moment a method
// returns.
type Cache struct {
	path string
}

func NewCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{path: path}, nil
}

func (c *Cache) update(fn func(tx *bolt.Tx) error) error {
	db, err := bolt.Open(c.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() { _ = db.Close() }()
	return db.Update(fn)
}

func (c *Cache) view(fn func(tx *bolt.Tx) error) error {
	db, err := bolt.Open(c.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() { _ = db.Close() }()
	return db.View(fn)
}

// PutOngoing stashes the conversation mirror.
func (c *Cache) PutOngoing(conv OngoingConversation) error {
	enc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return c.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ongoingBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(ongoingKey), enc)
	})
}

// GetOngoing returns the stashed conversation, or nil when there is nothing
// to resume.
func (c *Cache) GetOngoing() (*OngoingConversation, error) {
	var conv *OngoingConversation
	err := c.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ongoingBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(ongoingKey))
		if len(v) == 0 {
			return nil
		}
		var out OngoingConversation
		if err := json.Unmarshal(v, &out); err != nil {
			// A corrupt mirror is treated as absent rather than fatal.
			return nil
		}
		conv = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteOngoing removes the mirror; called when a conversation is finished
// or abandoned.
func (c *Cache) DeleteOngoing() error {
	return c.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ongoingBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(ongoingKey))
	})
}

// MarkSubmitted records that the day's entry was completed, used to suppress
// duplicate prompts.
func (c *Cache) MarkSubmitted(date string) error {
	return c.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(submittedBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(date), []byte("1"))
	})
}

// Submitted reports whether the day's entry was already completed.
func (c *Cache) Submitted(date string) (bool, error) {
	var ok bool
	err := c.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(submittedBucket))
		if b == nil {
			return nil
		}
		ok = b.Get([]byte(date)) != nil
		return nil
	})
	return ok, err
}
