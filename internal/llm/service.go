// Package llm backs the chat-completion endpoint with Gemini, applying the
// persona system prompt and the exchange ceiling.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

const (
	defaultChatModelName = "gemini-1.5-flash-latest"

	// MaxExchanges is the hard ceiling on completed user turns per entry.
	// The in-flight message travels separately from History, so the ceiling
	// first bites on the eleventh turn: once ten exchanges are already in
	// history, every further call force-ends regardless of the caller's
	// flag, and the conversation cannot run unbounded.
	MaxExchanges = 10

	replyContract = "Reply in exactly two short paragraphs separated by a blank line: " +
		"first a warm emotional acknowledgment of what they shared, " +
		"then one gentle practical nudge or question. Keep each paragraph to one or two sentences."
)

type Request struct {
	Message  string
	CuddleID cuddle.ID
	History  []store.Message
	ForceEnd bool
}

type Reply struct {
	Response  string
	ShouldEnd bool
}

type Service struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewService(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Service, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultChatModelName
	}
	return &Service{client: client, model: model, logger: logger}, nil
}

func (s *Service) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", zap.Error(err))
		}
	}
}

// Complete produces the next companion turn. When the exchange ceiling has
// been hit, or the caller asked for a forced end, the reply is the persona's
// forced farewell and no model round-trip happens.
func (s *Service) Complete(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.Message) == "" && !req.ForceEnd {
		return Reply{}, soulerr.New(soulerr.KindValidation, "message is required")
	}
	persona, ok := cuddle.ByID(req.CuddleID)
	if !ok {
		return Reply{}, soulerr.New(soulerr.KindValidation, "unknown cuddle id")
	}

	history := ConversationalHistory(req.History)
	if req.ForceEnd || ExchangeCount(history) >= MaxExchanges {
		return Reply{
			Response:  cuddle.FarewellMessage(req.CuddleID, cuddle.FarewellForce),
			ShouldEnd: true,
		}, nil
	}

	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction(persona))},
	}

	chatSession := model.StartChat()
	chatSession.History = toGenaiHistory(history)

	resp, err := chatSession.SendMessage(ctx, genai.Text(req.Message))
	if err != nil {
		return Reply{}, classify(err)
	}

	text := foldResponse(resp)
	if text == "" {
		s.logger.Warn("gemini returned no usable text",
			zap.String("cuddle", string(req.CuddleID)))
		return Reply{Response: "I'm here with you. Could you tell me that again?"}, nil
	}

	return Reply{Response: text}, nil
}

func systemInstruction(persona cuddle.Cuddle) string {
	return fmt.Sprintf("You are %s, %s. You are a journaling companion helping someone reflect on their day. %s",
		persona.Name, persona.Traits, replyContract)
}

// ConversationalHistory strips the scripted scene-setting pair and any
// failed sends from what reaches the model. The pair is excluded only when
// it is actually present (two leading assistant turns); a resumed session
// without it keeps its full history.
func ConversationalHistory(history []store.Message) []store.Message {
	history = store.DropFailed(history)
	if len(history) >= 2 && history[0].Role == store.RoleAssistant && history[1].Role == store.RoleAssistant {
		history = history[2:]
	}
	return history
}

// ExchangeCount counts completed user turns in conversational history.
func ExchangeCount(history []store.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == store.RoleUser {
			n++
		}
	}
	return n
}

func toGenaiHistory(history []store.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return out
}

func foldResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return soulerr.Wrap(soulerr.KindCanceled, "completion superseded", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return soulerr.Wrap(soulerr.KindTimeout, "completion timed out", err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return soulerr.Wrap(soulerr.FromStatusCode(gerr.Code), "gemini request failed", err)
	}
	return soulerr.Wrap(soulerr.KindTransient, "gemini request failed", err)
}
