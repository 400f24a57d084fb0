package model

import (
	"errors"
	"fmt"
	"time"
)

// Error codes the orchestrator itself produces. Backend-supplied codes
// pass through unchanged next to these.
const (
	ErrCodeChatNotFound     = "chat_not_found"
	ErrCodeTimeout          = "timeout"
	ErrCodeGenerationFailed = "generation_failed"
	ErrCodeUpstream         = "upstream_error"
)

// Message keys resolved by the i18n layer before anything is shown to a user.
const (
	MsgKeyChatNotFound     = "errors.chat_not_found"
	MsgKeyTimeout          = "errors.generation_timeout"
	MsgKeyGenerationFailed = "errors.generation_failed"
	MsgKeyUpstream         = "errors.upstream_error"
)

// ErrorPayload is the classified shape every generation failure is reduced
// to before it is stored or surfaced. It doubles as an error value, so the
// backend client can return one directly and the orchestrator recovers it
// with errors.As.
type ErrorPayload struct {
	Code              string `json:"code"`
	MessageKey        string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (e *ErrorPayload) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("generation failed: %s (retry after %ds)", e.Code, e.RetryAfterSeconds)
	}
	return "generation failed: " + e.Code
}

// AsErrorPayload unwraps a structured payload from an error chain.
func AsErrorPayload(err error) (*ErrorPayload, bool) {
	var p *ErrorPayload
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// ErrorState is the orchestrator's error register: either idle (nil
// Payload) or holding the last failure with its cooldown boundary.
// A zero RetryAvailableAt means no cooldown applies.
type ErrorState struct {
	Payload          *ErrorPayload
	AppearedAt       time.Time
	RetryAvailableAt time.Time
}

// GenerationResult is the payload of a successful attempt.
type GenerationResult struct {
	MessageID        string `json:"message_id"`
	Content          string `json:"content"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// GenerationState is the snapshot a UI needs to drive the generation
// surface: typing indicator, pending flag, last error, live countdown.
// RetryCountdown is nil when no cooldown is active.
type GenerationState struct {
	Typing         bool          `json:"typing"`
	Pending        bool          `json:"pending"`
	Error          *ErrorPayload `json:"error,omitempty"`
	ErrorDetail    string        `json:"error_detail,omitempty"`
	RetryCountdown *int          `json:"retry_countdown,omitempty"`
}

type AttemptOutcome string

const (
	AttemptOutcomeSuccess AttemptOutcome = "success"
	AttemptOutcomeError   AttemptOutcome = "error"
	AttemptOutcomeTimeout AttemptOutcome = "timeout"
)

// GenerationAttempt is the audit record of one settled attempt.
// Suppressed attempts (cancelled or superseded) never produce one.
type GenerationAttempt struct {
	ID        string
	ChatID    string
	Outcome   AttemptOutcome
	ErrorCode string
	LatencyMs int64
	StartedAt time.Time
	SettledAt time.Time
}

// ChatMessage is one entry of a chat's recent history as kept by the
// history cache. Role is "user", "assistant" or "system".
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
