package application

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/repository"
	"github.com/yifany-github/intellispark-chat/internal/usecase"
)

// GenerationService owns one orchestrator per chat. Orchestrators are
// created lazily on first use and torn down on Remove/Close, which is
// the unmount equivalent: their in-flight attempts are cancelled so no
// dangling request can mutate state afterwards.
type GenerationService struct {
	client   adapter.GenerationClient
	cache    adapter.Invalidator
	attempts repository.GenerationAttemptRepository // nil disables auditing
	clk      clock.Clock
	log      *zerolog.Logger

	timeout    time.Duration
	globalKeys []string

	mu            sync.Mutex
	orchestrators map[string]usecase.GenerationOrchestrator
	lastUsed      map[string]time.Time
	closed        bool
}

func NewGenerationService(
	client adapter.GenerationClient,
	cache adapter.Invalidator,
	attempts repository.GenerationAttemptRepository,
	clk clock.Clock,
	log *zerolog.Logger,
	timeout time.Duration,
	globalKeys []string,
) *GenerationService {
	if clk == nil {
		clk = clock.New()
	}
	return &GenerationService{
		client:        client,
		cache:         cache,
		attempts:      attempts,
		clk:           clk,
		log:           log,
		timeout:       timeout,
		globalKeys:    globalKeys,
		orchestrators: make(map[string]usecase.GenerationOrchestrator),
		lastUsed:      make(map[string]time.Time),
	}
}

// For returns the chat's orchestrator, creating it on first use.
func (s *GenerationService) For(chatID string) usecase.GenerationOrchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed[chatID] = s.clk.Now()
	if o, ok := s.orchestrators[chatID]; ok {
		return o
	}
	o := usecase.NewGenerationOrchestrator(s.client, s.cache, s.clk, s.log, usecase.GenerationOptions{
		ChatID:         chatID,
		MessagesKey:    "/chats/" + chatID + "/messages",
		InvalidateKeys: s.globalKeys,
		Timeout:        s.timeout,
		OnSettled:      s.recordAttempt,
	})
	if s.closed {
		o.Close()
		return o
	}
	s.orchestrators[chatID] = o
	return o
}

// Remove tears down the chat's orchestrator if one exists.
func (s *GenerationService) Remove(chatID string) {
	s.mu.Lock()
	o, ok := s.orchestrators[chatID]
	delete(s.orchestrators, chatID)
	delete(s.lastUsed, chatID)
	s.mu.Unlock()
	if ok {
		o.Close()
	}
}

// SweepIdle tears down orchestrators untouched for longer than maxIdle.
// Chats with an attempt still in flight are spared regardless of age.
func (s *GenerationService) SweepIdle(maxIdle time.Duration) int {
	cutoff := s.clk.Now().Add(-maxIdle)
	s.mu.Lock()
	var victims []usecase.GenerationOrchestrator
	for chatID, o := range s.orchestrators {
		if s.lastUsed[chatID].After(cutoff) {
			continue
		}
		if o.State().Pending {
			continue
		}
		victims = append(victims, o)
		delete(s.orchestrators, chatID)
		delete(s.lastUsed, chatID)
	}
	s.mu.Unlock()
	for _, o := range victims {
		o.Close()
	}
	return len(victims)
}

// Close tears down every orchestrator. Further For calls return
// already-closed orchestrators whose operations are no-ops.
func (s *GenerationService) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]usecase.GenerationOrchestrator, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		all = append(all, o)
	}
	s.orchestrators = make(map[string]usecase.GenerationOrchestrator)
	s.lastUsed = make(map[string]time.Time)
	s.mu.Unlock()
	for _, o := range all {
		o.Close()
	}
}

func (s *GenerationService) recordAttempt(a *model.GenerationAttempt) {
	if s.attempts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.attempts.Save(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("attempt audit save failed")
	}
}

// RecentAttempts lists the audit trail for a chat, newest first.
// Returns nil when auditing is disabled.
func (s *GenerationService) RecentAttempts(ctx context.Context, chatID string, limit int) ([]*model.GenerationAttempt, error) {
	if s.attempts == nil {
		return nil, nil
	}
	return s.attempts.ListRecent(ctx, chatID, limit)
}
