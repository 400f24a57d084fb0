package adapter

import (
	"context"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
)

// GenerationClient performs one generation request against whatever
// produces assistant replies (the REST backend, or a provider directly).
// It must honor ctx cancellation promptly and may return a
// *model.ErrorPayload as the error to carry a backend classification.
type GenerationClient interface {
	Generate(ctx context.Context, chatID string) (*model.GenerationResult, error)
}

// Invalidator drops a named query key so subscribed views refetch.
// Fire-and-forget: implementations swallow transport errors and calling
// with a key nobody subscribes to is harmless.
type Invalidator interface {
	Invalidate(ctx context.Context, key string)
}

// HistorySource yields a chat's most recent messages, oldest first.
type HistorySource interface {
	Recent(ctx context.Context, chatID string, limit int) ([]model.ChatMessage, error)
}
