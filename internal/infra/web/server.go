package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/application"
	"github.com/yifany-github/intellispark-chat/internal/infra/i18n"
	red "github.com/yifany-github/intellispark-chat/internal/infra/redis"
)

// Trigger rate limit per user+chat; generous because the orchestrator's
// single-flight guard already absorbs double-clicks.
const (
	triggerLimit  = 20
	triggerWindow = time.Minute
)

// Server exposes the generation orchestrator per chat over HTTP.
type Server struct {
	svc       *application.GenerationService
	history   *red.HistoryCache
	limiter   *red.RateLimiter
	bundle    *i18n.Bundle
	jwtSecret string
	dev       bool
	log       *zerolog.Logger
}

func NewServer(
	svc *application.GenerationService,
	history *red.HistoryCache,
	limiter *red.RateLimiter,
	bundle *i18n.Bundle,
	jwtSecret string,
	dev bool,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		svc:       svc,
		history:   history,
		limiter:   limiter,
		bundle:    bundle,
		jwtSecret: jwtSecret,
		dev:       dev,
		log:       logger,
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/chats/{chatID}", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Route("/generation", func(r chi.Router) {
			r.Get("/", s.handleState)
			r.Post("/", s.handleTrigger)
			r.Delete("/", s.handleCancel)
			r.Post("/retry", s.handleRetry)
			r.Delete("/error", s.handleClearError)
			r.Get("/attempts", s.handleAttempts)
		})
		r.Post("/messages", s.handleAppendMessage)
		r.Delete("/", s.handleCloseChat)
	})
	return r
}
