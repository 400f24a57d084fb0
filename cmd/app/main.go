// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/yifany-github/intellispark-chat/internal/application"
	"github.com/yifany-github/intellispark-chat/internal/config"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/repository"
	aiAdapters "github.com/yifany-github/intellispark-chat/internal/infra/adapters/ai"
	"github.com/yifany-github/intellispark-chat/internal/infra/adapters/backend"
	pg "github.com/yifany-github/intellispark-chat/internal/infra/db/postgres"
	"github.com/yifany-github/intellispark-chat/internal/infra/i18n"
	"github.com/yifany-github/intellispark-chat/internal/infra/logging"
	"github.com/yifany-github/intellispark-chat/internal/infra/metrics"
	red "github.com/yifany-github/intellispark-chat/internal/infra/redis"
	"github.com/yifany-github/intellispark-chat/internal/infra/scheduler"
	"github.com/yifany-github/intellispark-chat/internal/infra/security"
	"github.com/yifany-github/intellispark-chat/internal/infra/web"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (relaxed auth, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	invalidator := red.NewInvalidator(redisClient, cfg.Cache.Channel, logger)
	historyCache := red.NewHistoryCache(redisClient, cfg.Redis.TTL)
	if cfg.Security.HistoryEncryptionKey != "" {
		cipher, err := security.NewEncryptionService(cfg.Security.HistoryEncryptionKey)
		if err != nil {
			log.Fatalf("history encryption: %v", err)
		}
		historyCache = historyCache.WithCipher(cipher)
		logger.Info().Msg("chat history encryption at rest enabled")
	}
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Generation client (backend -> OpenAI -> Gemini) ----
	var client adapter.GenerationClient
	if cfg.Backend.BaseURL != "" {
		client, err = backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.ServiceToken)
		if err != nil {
			log.Fatalf("backend client: %v", err)
		}
		logger.Info().Str("base", cfg.Backend.BaseURL).Msg("generation client: REST backend")
	} else if cfg.AI.OpenAIKey != "" {
		client, err = aiAdapters.NewOpenAIClient(cfg.AI.OpenAIKey, cfg.AI.DefaultModel, historyCache, cfg.AI.HistoryLimit)
		if err != nil {
			log.Fatalf("openai client: %v", err)
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("generation client: OpenAI direct")
	} else {
		client, err = aiAdapters.NewGeminiClient(ctx, cfg.AI.GeminiKey, cfg.AI.DefaultModel, historyCache, cfg.AI.HistoryLimit)
		if err != nil {
			log.Fatalf("gemini client: %v", err)
		}
		logger.Info().Str("model", cfg.AI.DefaultModel).Msg("generation client: Gemini direct")
	}

	// ---- Attempt audit log (optional) ----
	var attempts repository.GenerationAttemptRepository
	if cfg.Database.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		attempts = pg.NewAttemptRepo(pool)
	} else {
		logger.Info().Msg("attempt audit log disabled (no database.url)")
	}

	// ---- i18n ----
	bundle, err := i18n.NewBundle(i18n.LocalesFS, []string{"en", "zh"}, cfg.I18n.DefaultLocale)
	if err != nil {
		log.Fatalf("i18n: %v", err)
	}

	// ---- Generation service + HTTP ----
	svc := application.NewGenerationService(
		client, invalidator, attempts, clock.New(), logger,
		cfg.Backend.Timeout, cfg.Cache.GlobalKeys,
	)
	defer svc.Close()

	sweep := scheduler.NewScheduler(cfg.Chats.SweepInterval, cfg.Chats.IdleTTL, svc, clock.New(), logger)
	sweep.Start(ctx)
	defer sweep.Stop()

	server := web.NewServer(svc, historyCache, rateLimiter, bundle, cfg.Auth.JWTSecret, cfg.Runtime.Dev, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
