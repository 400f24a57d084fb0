package repository

import (
	"context"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
)

// GenerationAttemptRepository persists the audit trail of settled
// generation attempts.
type GenerationAttemptRepository interface {
	Save(ctx context.Context, attempt *model.GenerationAttempt) error
	ListRecent(ctx context.Context, chatID string, limit int) ([]*model.GenerationAttempt, error)
}
