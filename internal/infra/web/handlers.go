package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	red "github.com/yifany-github/intellispark-chat/internal/infra/redis"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// snapshot renders the orchestrator state for a chat, attaching the
// localized error detail for the requester's language.
func (s *Server) snapshot(r *http.Request, chatID string) model.GenerationState {
	state := s.svc.For(chatID).State()
	if state.Error != nil && s.bundle != nil {
		tr := s.bundle.For(preferredLocale(r))
		if state.Error.RetryAfterSeconds > 0 {
			state.ErrorDetail = tr.T(state.Error.MessageKey, state.Error.RetryAfterSeconds)
		} else {
			state.ErrorDetail = tr.T(state.Error.MessageKey)
		}
	}
	return state
}

// preferredLocale takes the first language subtag of Accept-Language.
// Weighted lists collapse to their first entry; the bundle falls back
// to the default locale for anything unknown.
func preferredLocale(r *http.Request) string {
	al := r.Header.Get("Accept-Language")
	if al == "" {
		return ""
	}
	first := strings.TrimSpace(strings.SplitN(al, ",", 2)[0])
	first = strings.SplitN(first, ";", 2)[0]
	if i := strings.IndexRune(first, '-'); i > 0 {
		first = first[:i]
	}
	return strings.ToLower(first)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	writeJSON(w, http.StatusOK, s.snapshot(r, chatID))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !s.allowTrigger(r, chatID) {
		w.Header().Set("Retry-After", strconv.Itoa(int(triggerWindow.Seconds())))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	s.svc.For(chatID).Trigger()
	writeJSON(w, http.StatusAccepted, s.snapshot(r, chatID))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if !s.allowTrigger(r, chatID) {
		w.Header().Set("Retry-After", strconv.Itoa(int(triggerWindow.Seconds())))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	s.svc.For(chatID).Retry()
	writeJSON(w, http.StatusAccepted, s.snapshot(r, chatID))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.svc.For(chi.URLParam(r, "chatID")).Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	s.svc.For(chi.URLParam(r, "chatID")).ClearError()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	s.svc.Remove(chi.URLParam(r, "chatID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	attempts, err := s.svc.RecentAttempts(r.Context(), chatID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("attempt listing failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	type attemptDTO struct {
		ID        string    `json:"id"`
		Outcome   string    `json:"outcome"`
		ErrorCode string    `json:"error_code,omitempty"`
		LatencyMs int64     `json:"latency_ms"`
		SettledAt time.Time `json:"settled_at"`
	}
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptDTO{
			ID:        a.ID,
			Outcome:   string(a.Outcome),
			ErrorCode: a.ErrorCode,
			LatencyMs: a.LatencyMs,
			SettledAt: a.SettledAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAppendMessage feeds the realtime stream into the history cache.
// Assistant messages additionally stop the typing indicator, covering
// completions learned out-of-band from the attempt's own response.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var in struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	switch in.Role {
	case "user", "assistant", "system":
	default:
		http.Error(w, "Bad Request: unknown role", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		http.Error(w, "Bad Request: empty content", http.StatusBadRequest)
		return
	}

	if s.history != nil {
		msg := model.ChatMessage{Role: in.Role, Content: in.Content, CreatedAt: time.Now()}
		if err := s.history.Append(r.Context(), chatID, msg); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("history append failed")
		}
	}
	if in.Role == "assistant" {
		s.svc.For(chatID).HandleAssistantMessage()
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) allowTrigger(r *http.Request, chatID string) bool {
	if s.limiter == nil {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), red.TriggerKey(userID(r), chatID), triggerLimit, triggerWindow)
	if err != nil {
		// Redis trouble must not block chatting.
		s.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}
