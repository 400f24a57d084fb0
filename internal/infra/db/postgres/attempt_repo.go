package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/yifany-github/intellispark-chat/internal/domain"
	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/repository"
)

var _ repository.GenerationAttemptRepository = (*attemptRepo)(nil)

type attemptRepo struct {
	pool *pgxpool.Pool
}

func NewAttemptRepo(pool *pgxpool.Pool) *attemptRepo {
	return &attemptRepo{pool: pool}
}

// Save upserts one settled attempt. Replays of the same attempt id keep
// the latest outcome, so the audit hook is safe to call twice.
func (r *attemptRepo) Save(ctx context.Context, a *model.GenerationAttempt) error {
	const q = `
INSERT INTO generation_attempts (id, chat_id, outcome, error_code, latency_ms, started_at, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  outcome = EXCLUDED.outcome,
  error_code = EXCLUDED.error_code,
  latency_ms = EXCLUDED.latency_ms,
  settled_at = EXCLUDED.settled_at;`

	_, err := r.pool.Exec(ctx, q,
		a.ID, a.ChatID, string(a.Outcome), a.ErrorCode, a.LatencyMs, a.StartedAt, a.SettledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			// chat row vanished under us; the audit log is best-effort
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *attemptRepo) ListRecent(ctx context.Context, chatID string, limit int) ([]*model.GenerationAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, chat_id, outcome, error_code, latency_ms, started_at, settled_at
FROM generation_attempts
WHERE chat_id = $1
ORDER BY settled_at DESC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, chatID, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []*model.GenerationAttempt
	for rows.Next() {
		var a model.GenerationAttempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.ChatID, &outcome, &a.ErrorCode, &a.LatencyMs, &a.StartedAt, &a.SettledAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		a.Outcome = model.AttemptOutcome(outcome)
		out = append(out, &a)
	}
	return out, rows.Err()
}
