package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/infra/metrics"
)

// Compile-time assurance this client satisfies the port
var _ adapter.GenerationClient = (*OpenAIClient)(nil)

// OpenAIClient generates replies straight from OpenAI, used when no REST
// backend is configured (dev / self-hosted). The chat's recent history
// comes from the HistorySource.
type OpenAIClient struct {
	client  openai.Client
	history adapter.HistorySource
	model   string
	limit   int
}

func NewOpenAIClient(apiKey, model string, history adapter.HistorySource, historyLimit int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if historyLimit <= 0 {
		historyLimit = 15
	}
	return &OpenAIClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		history: history,
		model:   model,
		limit:   historyLimit,
	}, nil
}

func (o *OpenAIClient) Generate(ctx context.Context, chatID string) (*model.GenerationResult, error) {
	msgs, err := o.history.Recent(ctx, chatID, o.limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("no history for chat " + chatID)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("no choice content")
	}

	prompt := int(resp.Usage.PromptTokens)
	completion := int(resp.Usage.CompletionTokens)
	if prompt == 0 {
		prompt = o.countPromptTokens(msgs)
	}
	metrics.ObserveProviderTokens("openai", o.model, prompt, completion)

	return &model.GenerationResult{
		MessageID:        resp.ID,
		Content:          resp.Choices[0].Message.Content,
		Model:            o.model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}, nil
}

// countPromptTokens is a best-effort local count for when the provider
// omits usage (some OpenAI-compatible gateways do).
func (o *OpenAIClient) countPromptTokens(msgs []model.ChatMessage) int {
	enc, err := tiktoken.EncodingForModel(o.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	total := 0
	for _, m := range msgs {
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}
