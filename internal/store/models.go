package store

import (
	"strings"
	"time"

	"github.com/seeyara/whispr/internal/cuddle"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message is one turn of a journal conversation. Slice order is the
// canonical conversation order.
type Message struct {
	ID        string        `json:"id,omitempty"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Timestamp string        `json:"timestamp,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
}

// EntryMode distinguishes the guided companion flow from free-form writing.
type EntryMode string

const (
	ModeGuided EntryMode = "guided"
	ModeFlat   EntryMode = "flat"
)

// ChatEntry is the stored transcript for one user on one calendar date.
// Keyed by (user_id, entry_date); saves replace the whole transcript.
type ChatEntry struct {
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	CuddleID  cuddle.ID `json:"cuddleId"`
	Mode      EntryMode `json:"mode"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Unfinished describes the tail of the newest entry when its last word was
// the user's, i.e. they never got or never saved a reply.
type Unfinished struct {
	Mode    EntryMode `json:"mode"`
	Content string    `json:"content"`
}

// Question is a community board post.
type Question struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	AnswerCount int       `json:"answerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Answer struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"questionId"`
	UserID     string    `json:"userId"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sanitize trims every message, drops empties, and keeps only user and
// assistant roles. Runs before every persist; an empty result means there is
// nothing worth saving.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		m.Content = content
		out = append(out, m)
	}
	return out
}

// DropFailed removes messages whose send was given up on; they never reach
// the store or the completion history.
func DropFailed(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Status == StatusFailed {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DateKey formats t as the YYYY-MM-DD entry key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
