package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/infra/metrics"
)

var _ adapter.GenerationClient = (*GeminiClient)(nil)

// GeminiClient is the Gemini counterpart of OpenAIClient.
type GeminiClient struct {
	client  *genai.Client
	history adapter.HistorySource
	model   string
	limit   int
}

func NewGeminiClient(ctx context.Context, apiKey, model string, history adapter.HistorySource, historyLimit int) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if historyLimit <= 0 {
		historyLimit = 15
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{client: c, history: history, model: model, limit: historyLimit}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, chatID string) (*model.GenerationResult, error) {
	msgs, err := g.history.Recent(ctx, chatID, g.limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("gemini: no history for chat " + chatID)
	}
	last := msgs[len(msgs)-1]
	if strings.ToLower(last.Role) != "user" {
		return nil, errors.New("gemini: last message must be from user")
	}

	chat, err := g.client.Chats.Create(ctx, g.model, nil, toGenAIHistory(msgs[:len(msgs)-1]))
	if err != nil {
		return nil, err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
	if err != nil {
		return nil, err
	}

	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil && len(resp.Candidates[0].Content.Parts) > 0 {
		text = resp.Candidates[0].Content.Parts[0].Text
	}
	if text == "" {
		return nil, errors.New("gemini: empty candidate")
	}

	result := &model.GenerationResult{Content: text, Model: g.model}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	metrics.ObserveProviderTokens("gemini", g.model, result.PromptTokens, result.CompletionTokens)
	return result, nil
}

func toGenAIHistory(msgs []model.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}
