package services

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"visionchat_go_backend/internal/models"
)

// DefaultSystemPrompt is prepended when the caller-supplied history carries
// no system message, so the endpoint always sees exactly one.
const DefaultSystemPrompt = "You are a helpful assistant that provides clear, well-formatted responses. " +
	"Use markdown formatting for code blocks, headings, and lists. For code, use triple backticks with the language specified."

// FallbackReply is what the user sees when the completion endpoint cannot
// be reached or returns nothing usable. The client never errors outward.
const FallbackReply = "I apologize, but I encountered an error while processing your request. Please try again later."

// ChatTurn is one role/content pair of the completion request history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionService talks to the hosted chat-completion deployment.
type CompletionService struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	topP        float64
	log         zerolog.Logger
}

func NewCompletionService(baseURL, apiKey, model string, temperature float64, maxTokens int64, topP float64, log zerolog.Logger) *CompletionService {
	options := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		options = append(options, option.WithAPIKey(apiKey))
	}
	return &CompletionService{
		client:      openai.NewClient(options...),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		topP:        topP,
		log:         log,
	}
}

// Generate sends the history and returns the assistant text. Any failure
// degrades into FallbackReply.
func (s *CompletionService) Generate(ctx context.Context, history []ChatTurn) string {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)

	hasSystem := false
	for _, turn := range history {
		if turn.Role == models.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem {
		messages = append(messages, openai.SystemMessage(DefaultSystemPrompt))
	}

	for _, turn := range history {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       s.model,
		Temperature: openai.Float(s.temperature),
		MaxTokens:   openai.Int(s.maxTokens),
		TopP:        openai.Float(s.topP),
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Completion request failed")
		return FallbackReply
	}
	if len(resp.Choices) == 0 {
		s.log.Error().Msg("Completion response carried no choices")
		return FallbackReply
	}
	return resp.Choices[0].Message.Content
}
