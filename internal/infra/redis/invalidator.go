package redis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/infra/metrics"
)

// Compile-time check
var _ adapter.Invalidator = (*Invalidator)(nil)

// Invalidator drops cached query keys and fans the key out on a pub/sub
// channel so connected browser sessions refetch. Both operations are
// best-effort; failures are logged and swallowed.
type Invalidator struct {
	client  RedisClient
	channel string
	log     *zerolog.Logger
}

func NewInvalidator(client RedisClient, channel string, log *zerolog.Logger) *Invalidator {
	return &Invalidator{client: client, channel: channel, log: log}
}

func (i *Invalidator) Invalidate(ctx context.Context, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := "ok"
	if err := i.client.Del(ctx, "query:"+key); err != nil {
		result = "error"
		i.log.Warn().Err(err).Str("key", key).Msg("cache key delete failed")
	}
	if err := i.client.Publish(ctx, i.channel, key); err != nil {
		result = "error"
		i.log.Warn().Err(err).Str("key", key).Msg("invalidation publish failed")
	}
	metrics.IncCacheInvalidation(result)
}
