// Package journal turns an open conversation into a finished, saved entry
// with a persona farewell appended.
package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

type Params struct {
	UserID   string
	CuddleID cuddle.ID
	Messages []store.Message
	Mode     store.EntryMode
	Date     string
	// Forced selects the forced farewell table, used when the exchange
	// ceiling ended the conversation rather than the user.
	Forced bool
}

type Result struct {
	FarewellMessage string
	Messages        []store.Message
}

type Service struct {
	store  *store.SQLiteStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(st *store.SQLiteStore, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger, now: time.Now}
}

// Complete sanitizes the transcript, appends the farewell, and performs
// exactly one upsert. The final message list comes back so the caller can
// render it without a re-fetch.
func (s *Service) Complete(ctx context.Context, p Params) (*Result, error) {
	if p.UserID == "" {
		return nil, soulerr.New(soulerr.KindValidation, "userId is required")
	}
	if !cuddle.IsValid(p.CuddleID) {
		return nil, soulerr.New(soulerr.KindValidation, "unknown cuddle id")
	}

	messages := dropWelcomeBack(store.Sanitize(store.DropFailed(p.Messages)))
	if len(messages) == 0 {
		return nil, soulerr.New(soulerr.KindValidation, "no messages to save")
	}

	variant := cuddle.FarewellFinish
	if p.Forced {
		variant = cuddle.FarewellForce
	}
	farewell := cuddle.FarewellMessage(p.CuddleID, variant)
	// A forced end has usually already delivered the farewell as the last
	// reply; the stored entry carries it once.
	if last := messages[len(messages)-1]; last.Role != store.RoleAssistant || last.Content != farewell {
		messages = append(messages, store.Message{
			Role:    store.RoleAssistant,
			Content: farewell,
		})
	}

	date := p.Date
	if date == "" {
		date = store.DateKey(s.now())
	}
	mode := p.Mode
	if mode == "" {
		mode = store.ModeGuided
	}

	entry := store.ChatEntry{
		UserID:   p.UserID,
		Date:     date,
		CuddleID: p.CuddleID,
		Mode:     mode,
		Messages: messages,
	}
	if err := s.store.UpsertEntry(ctx, entry); err != nil {
		s.logger.Error("failed to save completed entry",
			zap.String("userId", p.UserID),
			zap.String("date", date),
			zap.Error(err))
		return nil, soulerr.Wrap(soulerr.KindTransient, "failed to save entry", err)
	}

	return &Result{FarewellMessage: farewell, Messages: messages}, nil
}

// dropWelcomeBack removes the synthesized continue-or-finish prompt. It is a
// UI line; choosing Finish right at that prompt must not persist it.
func dropWelcomeBack(messages []store.Message) []store.Message {
	out := make([]store.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == store.RoleAssistant && m.Content == cuddle.WelcomeBackMessage {
			continue
		}
		out = append(out, m)
	}
	return out
}
