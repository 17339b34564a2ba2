package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/seeyara/whispr/internal/store"
)

type CreateQuestionRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
}

func (h *Handler) CreateQuestionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	q, err := h.store.CreateQuestion(r.Context(), req.UserID, strings.TrimSpace(req.Title), strings.TrimSpace(req.Body))
	if err != nil {
		h.logger.Error("failed to create question", zap.String("userId", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create question")
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) ListQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	questions, err := h.store.ListQuestions(r.Context(), 20)
	if err != nil {
		h.logger.Error("failed to list questions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list questions")
		return
	}
	if questions == nil {
		questions = []store.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

type CreateAnswerRequest struct {
	UserID string `json:"userId"`
	Body   string `json:"body"`
}

func (h *Handler) CreateAnswerHandler(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")

	var req CreateAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	a, err := h.store.CreateAnswer(r.Context(), questionID, req.UserID, strings.TrimSpace(req.Body))
	if err != nil {
		h.logger.Error("failed to create answer", zap.String("questionId", questionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create answer")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "Question not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) ListAnswersHandler(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "questionID")

	answers, err := h.store.ListAnswers(r.Context(), questionID)
	if err != nil {
		h.logger.Error("failed to list answers", zap.String("questionId", questionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list answers")
		return
	}
	if answers == nil {
		answers = []store.Answer{}
	}
	writeJSON(w, http.StatusOK, answers)
}
