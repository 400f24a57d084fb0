package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
)

// maxHistoryLen caps the per-chat list so it never grows unbounded.
const maxHistoryLen = 100

// Compile-time check
var _ adapter.HistorySource = (*HistoryCache)(nil)

// HistoryCache keeps each chat's recent messages in a capped Redis list.
// The web layer appends as messages flow through the realtime feed; the
// direct-provider clients read it back to build their prompt. With a
// cipher configured, message content is sealed before it leaves the
// process.
type HistoryCache struct {
	client RedisClient
	ttl    time.Duration
	cipher ContentCipher // nil: store plaintext
}

// ContentCipher seals and opens message content at rest.
type ContentCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

func NewHistoryCache(client RedisClient, ttl time.Duration) *HistoryCache {
	return &HistoryCache{client: client, ttl: ttl}
}

// WithCipher enables content encryption at rest.
func (h *HistoryCache) WithCipher(c ContentCipher) *HistoryCache {
	h.cipher = c
	return h
}

func historyKey(chatID string) string { return "chat_history:" + chatID }

func (h *HistoryCache) Append(ctx context.Context, chatID string, msg model.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if h.cipher != nil {
		sealed, err := h.cipher.Encrypt(msg.Content)
		if err != nil {
			return err
		}
		msg.Content = sealed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := historyKey(chatID)
	if err := h.client.RPush(ctx, key, data); err != nil {
		return err
	}
	if err := h.client.LTrim(ctx, key, -maxHistoryLen, -1); err != nil {
		return err
	}
	return h.client.Expire(ctx, key, h.ttl)
}

// Recent returns up to limit messages, oldest first.
func (h *HistoryCache) Recent(ctx context.Context, chatID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > maxHistoryLen {
		limit = maxHistoryLen
	}
	raw, err := h.client.LRange(ctx, historyKey(chatID), int64(-limit), -1)
	if err != nil {
		return nil, err
	}
	msgs := make([]model.ChatMessage, 0, len(raw))
	for _, r := range raw {
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		if h.cipher != nil {
			opened, err := h.cipher.Decrypt(m.Content)
			if err != nil {
				// Entries written before encryption was enabled.
				msgs = append(msgs, m)
				continue
			}
			m.Content = opened
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
