package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Post("/chat-completion", h.ChatCompletionHandler)
		r.Post("/chat", h.SaveChatHandler)
		r.Get("/chat", h.LoadChatHandler)
		r.Post("/journal/complete", h.JournalCompleteHandler)
		r.Get("/streak", h.StreakHandler)

		r.Route("/community", func(r chi.Router) {
			r.Get("/questions", h.ListQuestionsHandler)
			r.Post("/questions", h.CreateQuestionHandler)
			r.Get("/questions/{questionID}/answers", h.ListAnswersHandler)
			r.Post("/questions/{questionID}/answers", h.CreateAnswerHandler)
		})
	})

	return r
}
