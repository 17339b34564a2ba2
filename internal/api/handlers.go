package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/journal"
	"github.com/seeyara/whispr/internal/llm"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

// CompletionService produces the next companion turn. Satisfied by
// llm.Service; faked in handler tests.
type CompletionService interface {
	Complete(ctx context.Context, req llm.Request) (llm.Reply, error)
}

type Handler struct {
	store      *store.SQLiteStore
	completion CompletionService
	journal    *journal.Service
	logger     *zap.Logger
	now        func() time.Time
}

func NewHandler(st *store.SQLiteStore, completion CompletionService, js *journal.Service, logger *zap.Logger) *Handler {
	return &Handler{
		store:      st,
		completion: completion,
		journal:    js,
		logger:     logger,
		now:        time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusForKind(kind soulerr.Kind) int {
	switch kind {
	case soulerr.KindValidation:
		return http.StatusBadRequest
	case soulerr.KindRateLimited:
		return http.StatusTooManyRequests
	case soulerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type ChatCompletionRequest struct {
	Message        string          `json:"message"`
	CuddleID       cuddle.ID       `json:"cuddleId"`
	MessageHistory []store.Message `json:"messageHistory"`
	ForceEnd       bool            `json:"forceEnd,omitempty"`
}

type ChatCompletionResponse struct {
	Response  string `json:"response"`
	ShouldEnd bool   `json:"shouldEnd"`
}

func (h *Handler) ChatCompletionHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reply, err := h.completion.Complete(r.Context(), llm.Request{
		Message:  req.Message,
		CuddleID: req.CuddleID,
		History:  req.MessageHistory,
		ForceEnd: req.ForceEnd,
	})
	if err != nil {
		kind := soulerr.KindOf(err)
		if kind != soulerr.KindValidation {
			h.logger.Error("completion failed",
				zap.String("cuddleId", string(req.CuddleID)),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
		writeError(w, statusForKind(kind), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatCompletionResponse{
		Response:  reply.Response,
		ShouldEnd: reply.ShouldEnd,
	})
}

type SaveChatRequest struct {
	Messages []store.Message `json:"messages"`
	UserID   string          `json:"userId"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	Mode     store.EntryMode `json:"mode,omitempty"`
	Date     string          `json:"date,omitempty"`
}

func (h *Handler) SaveChatHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	messages := store.Sanitize(req.Messages)
	if len(messages) == 0 {
		// Nothing to persist is not an error.
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	date := req.Date
	if date == "" {
		date = store.DateKey(h.now())
	}

	entry := store.ChatEntry{
		UserID:   req.UserID,
		Date:     date,
		CuddleID: req.CuddleID,
		Mode:     req.Mode,
		Messages: messages,
	}
	if err := h.store.UpsertEntry(r.Context(), entry); err != nil {
		h.logger.Error("failed to save chat entry",
			zap.String("userId", req.UserID),
			zap.String("date", date),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type entryData struct {
	Messages []store.Message `json:"messages"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	HasMore  bool            `json:"hasMore"`
	Mode     store.EntryMode `json:"mode,omitempty"`
}

func (h *Handler) LoadChatHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("userId")
	date := q.Get("date")
	unfinished := q.Get("unfinished")

	if userID == "" || (date == "" && unfinished != "1") {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	if unfinished == "1" && date == "" {
		tail, err := h.store.LastUnfinished(r.Context(), userID)
		if err != nil {
			h.logger.Error("failed to probe unfinished entry", zap.String("userId", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load chat")
			return
		}
		if tail == nil {
			writeJSON(w, http.StatusOK, map[string]any{"data": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"lastUnfinished": tail},
		})
		return
	}

	page := 1
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}

	entry, err := h.store.GetEntry(r.Context(), userID, date, page)
	if err != nil {
		h.logger.Error("failed to load chat entry",
			zap.String("userId", userID),
			zap.String("date", date),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load chat")
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": entryData{
			Messages: entry.Messages,
			CuddleID: entry.CuddleID,
			HasMore:  entry.HasMore,
			Mode:     entry.Mode,
		},
	})
}

type JournalCompleteRequest struct {
	UserID   string          `json:"userId"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	Messages []store.Message `json:"messages"`
	Mode     store.EntryMode `json:"mode,omitempty"`
	Date     string          `json:"date,omitempty"`
	Forced   bool            `json:"forced,omitempty"`
}

type JournalCompleteResponse struct {
	Success         bool            `json:"success"`
	FarewellMessage string          `json:"farewellMessage"`
	Messages        []store.Message `json:"messages"`
}

func (h *Handler) JournalCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req JournalCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.journal.Complete(r.Context(), journal.Params{
		UserID:   req.UserID,
		CuddleID: req.CuddleID,
		Messages: req.Messages,
		Mode:     req.Mode,
		Date:     req.Date,
		Forced:   req.Forced,
	})
	if err != nil {
		kind := soulerr.KindOf(err)
		if kind == soulerr.KindValidation {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to complete journal entry")
		return
	}

	writeJSON(w, http.StatusOK, JournalCompleteResponse{
		Success:         true,
		FarewellMessage: res.FarewellMessage,
		Messages:        res.Messages,
	})
}

func (h *Handler) StreakHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	dates, err := h.store.EntryDates(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load entry dates", zap.String("userId", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to compute streak")
		return
	}

	writeJSON(w, http.StatusOK, store.ComputeStreak(dates, h.now().UTC()))
}
