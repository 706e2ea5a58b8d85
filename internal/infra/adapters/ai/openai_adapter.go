package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ChatResponder = (*OpenAIResponder)(nil)

// OpenAIResponder answers through any OpenAI-compatible Chat Completions API.
type OpenAIResponder struct {
	client openai.Client
	model  string
}

func NewOpenAIResponder(apiKey, baseURL, model string) (*OpenAIResponder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIResponder{client: openai.NewClient(opts...), model: model}, nil
}

func (o *OpenAIResponder) Name() string { return "openai" }

func (o *OpenAIResponder) Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(OrchestratorPrompt))
	for _, m := range history {
		if strings.EqualFold(m.Role, model.RoleAssistant) {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
			continue
		}
		msgs = append(msgs, openai.UserMessage(m.Content))
	}
	msgs = append(msgs, openai.UserMessage(message))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("no choice content")
}
