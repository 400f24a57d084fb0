package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/infra/security"
)

// fakeRedis keeps counters and lists in memory and records publishes
// and deletes for assertions.
type fakeRedis struct {
	mu        sync.Mutex
	counters  map[string]int64
	lists     map[string][]string
	deleted   []string
	published []string
	failIncr  bool
}

var _ RedisClient = (*fakeRedis)(nil)

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counters: make(map[string]int64), lists: make(map[string][]string)}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("not found")
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIncr {
		return 0, errors.New("redis down")
	}
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeRedis) Publish(ctx context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel+":"+payload)
	return nil
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		switch x := v.(type) {
		case string:
			f.lists[key] = append(f.lists[key], x)
		case []byte:
			f.lists[key] = append(f.lists[key], string(x))
		default:
			return errors.New("unsupported value type")
		}
	}
	return nil
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return append([]string(nil), l[start:stop+1]...), nil
}

func (f *fakeRedis) LTrim(ctx context.Context, key string, start, stop int64) error { return nil }

func (f *fakeRedis) Close() error { return nil }

func TestHistoryCache_RoundTrip(t *testing.T) {
	fr := newFakeRedis()
	h := NewHistoryCache(fr, time.Hour)
	ctx := context.Background()

	for _, content := range []string{"hello", "hi there", "how are you"} {
		if err := h.Append(ctx, "c1", model.ChatMessage{Role: "user", Content: content}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	msgs, err := h.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	// Oldest first, capped to the most recent entries.
	if msgs[0].Content != "hi there" || msgs[1].Content != "how are you" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestHistoryCache_EncryptsAtRest(t *testing.T) {
	fr := newFakeRedis()
	cipher, err := security.NewEncryptionService("0123456789abcdef")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	h := NewHistoryCache(fr, time.Hour).WithCipher(cipher)
	ctx := context.Background()

	const secret = "my private message"
	if err := h.Append(ctx, "c1", model.ChatMessage{Role: "user", Content: secret}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Raw storage must not contain the plaintext.
	raw := fr.lists["chat_history:c1"]
	if len(raw) != 1 {
		t.Fatalf("stored %d entries, want 1", len(raw))
	}
	if strings.Contains(raw[0], secret) {
		t.Fatal("plaintext leaked into the cache")
	}

	msgs, err := h.Recent(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != secret {
		t.Fatalf("msgs = %+v, want the decrypted content", msgs)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	fr := newFakeRedis()
	rl := NewRateLimiter(fr)
	ctx := context.Background()
	key := TriggerKey("u1", "c1")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v, want allowed", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("4th request allowed past a limit of 3")
	}
}

func TestRateLimiter_PropagatesRedisErrors(t *testing.T) {
	fr := newFakeRedis()
	fr.failIncr = true
	rl := NewRateLimiter(fr)

	if _, err := rl.Allow(context.Background(), "k", 3, time.Minute); err == nil {
		t.Fatal("expected the redis error to surface")
	}
}

func TestInvalidator_DeletesAndPublishes(t *testing.T) {
	fr := newFakeRedis()
	log := zerolog.Nop()
	inv := NewInvalidator(fr, "cache.invalidate", &log)

	inv.Invalidate(context.Background(), "/chats/c1/messages")
	inv.Invalidate(context.Background(), "") // ignored

	if len(fr.deleted) != 1 || fr.deleted[0] != "query:/chats/c1/messages" {
		t.Fatalf("deleted = %v", fr.deleted)
	}
	if len(fr.published) != 1 || fr.published[0] != "cache.invalidate:/chats/c1/messages" {
		t.Fatalf("published = %v", fr.published)
	}
}
