// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/domain/ports/adapter"
)

var _ adapter.ChatResponder = (*GeminiResponder)(nil)

// OrchestratorPrompt frames every LLM-backed reply.
const OrchestratorPrompt = "You are NeuroForge, an orchestrator that helps users fine-tune open language models " +
	"(Llama 3 8B, Mistral 7B v0.3, Gemma 2B, Phi-3 Mini). Ask for a base model and a dataset path when they are missing. " +
	"Keep answers short."

type GeminiResponder struct {
	client       *genai.Client
	defaultModel string
	maxOut       int
}

// NewGeminiResponder creates a Gemini responder using the official SDK.
func NewGeminiResponder(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiResponder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiResponder{client: c, defaultModel: defaultModel, maxOut: maxOut}, nil
}

func (g *GeminiResponder) Name() string { return "gemini" }

func (g *GeminiResponder) Respond(ctx context.Context, message string, history []model.ChatMessage) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("gemini: empty message")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: OrchestratorPrompt}}},
	}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = int32(g.maxOut)
	}
	chat, err := g.client.Chats.Create(ctx, g.defaultModel, cfg, toGenAIHistory(history))
	if err != nil {
		return "", err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", err
	}

	// Extract text
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var b strings.Builder
		for _, p := range resp.Candidates[0].Content.Parts {
			if p != nil {
				b.WriteString(p.Text)
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", errors.New("gemini: empty response")
}

func toGenAIHistory(msgs []model.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if strings.EqualFold(m.Role, model.RoleAssistant) || strings.EqualFold(m.Role, "model") {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}
