// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
	"github.com/yifany-github/intellispark-chat/internal/infra/metrics"
)

// DefaultGenerationTimeout bounds a single attempt end to end.
const DefaultGenerationTimeout = 30 * time.Second

// Compile-time check
var _ GenerationOrchestrator = (*generationOrchestrator)(nil)

// GenerationOrchestrator drives at most one in-flight generation attempt
// for a chat: trigger, cooldown-gated retry, cancellation, timeout
// enforcement, failure classification and the retry countdown.
type GenerationOrchestrator interface {
	// Trigger starts a new attempt. No-op while an attempt is pending.
	Trigger()
	// Retry behaves like Trigger but additionally no-ops while the
	// cooldown from the last failure has not elapsed.
	Retry()
	// Cancel aborts the outstanding attempt, if any, and stops the
	// typing indicator. Idempotent.
	Cancel()
	// ClearError resets the error register and countdown without
	// touching the in-flight attempt.
	ClearError()
	// HandleAssistantMessage reports that an assistant message was
	// observed out-of-band (realtime feed): stops typing and clears the
	// error, leaving the network attempt alone.
	HandleAssistantMessage()
	// State returns a point-in-time snapshot for rendering.
	State() model.GenerationState
	// Close cancels everything and makes all further operations no-ops.
	Close()
}

// GenerationOptions configures one orchestrator instance.
type GenerationOptions struct {
	// ChatID may be empty before the chat exists; triggering then yields
	// a chat_not_found error through the normal error path.
	ChatID string
	// MessagesKey is the primary query key invalidated on success.
	MessagesKey string
	// InvalidateKeys are additional query keys invalidated on success.
	InvalidateKeys []string
	// Timeout defaults to DefaultGenerationTimeout when <= 0.
	Timeout time.Duration

	OnSuccess func(*model.GenerationResult)
	OnError   func(*model.ErrorPayload)
	// OnSettled receives the audit record of every settled attempt.
	// Suppressed attempts (cancelled, superseded, closed) do not settle.
	OnSettled func(*model.GenerationAttempt)
}

type attemptStatus int

const (
	statusIdle attemptStatus = iota
	statusPending
	statusSettled
)

// attempt is one in-flight generation request. Its identity (pointer
// equality against o.current) gates every state-mutating continuation,
// so late arrivals from a superseded attempt can never leak into state.
type attempt struct {
	id        string
	chatID    string
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

type generationOrchestrator struct {
	client adapter.GenerationClient
	cache  adapter.Invalidator
	clk    clock.Clock
	log    *zerolog.Logger
	opts   GenerationOptions

	mu      sync.Mutex
	status  attemptStatus
	typing  bool
	current *attempt
	closed  bool

	errPayload *model.ErrorPayload
	appearedAt time.Time
	retryAt    time.Time // zero: no cooldown

	countdownVal  *int
	countdownStop chan struct{}
}

func NewGenerationOrchestrator(
	client adapter.GenerationClient,
	cache adapter.Invalidator,
	clk clock.Clock,
	log *zerolog.Logger,
	opts GenerationOptions,
) *generationOrchestrator {
	if clk == nil {
		clk = clock.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGenerationTimeout
	}
	return &generationOrchestrator{
		client: client,
		cache:  cache,
		clk:    clk,
		log:    log,
		opts:   opts,
	}
}

func (o *generationOrchestrator) Trigger() { o.start(false) }

func (o *generationOrchestrator) Retry() { o.start(true) }

func (o *generationOrchestrator) start(gated bool) {
	o.mu.Lock()
	if o.closed || o.status == statusPending {
		o.mu.Unlock()
		return
	}
	if gated && !o.retryAt.IsZero() && o.clk.Now().Before(o.retryAt) {
		o.mu.Unlock()
		return
	}
	if o.opts.ChatID == "" {
		p := &model.ErrorPayload{Code: model.ErrCodeChatNotFound, MessageKey: model.MsgKeyChatNotFound}
		o.storeFailureLocked(p)
		onError := o.opts.OnError
		o.mu.Unlock()
		metrics.ObserveGeneration(string(model.AttemptOutcomeError), p.Code, 0)
		if onError != nil {
			onError(p)
		}
		return
	}

	// Supersede anything still lingering, then open a fresh attempt.
	if prev := o.current; prev != nil {
		o.current = nil
		prev.cancel()
	}
	o.clearErrorLocked()
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:        ulid.Make().String(),
		chatID:    o.opts.ChatID,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: o.clk.Now(),
	}
	o.current = a
	o.status = statusPending
	o.typing = true
	o.mu.Unlock()

	o.log.Debug().Str("attempt_id", a.id).Str("chat_id", a.chatID).Msg("generation attempt started")
	go o.run(a)
}

type callOutcome struct {
	result *model.GenerationResult
	err    error
}

// run races the network call against the timeout timer. Whichever side
// settles first wins; the loser is cleaned up (timer stopped on return,
// call aborted on timer fire) and its effects are dropped by the
// attempt-identity check in settle.
func (o *generationOrchestrator) run(a *attempt) {
	timer := o.clk.Timer(o.opts.Timeout)
	defer timer.Stop()

	done := make(chan callOutcome, 1)
	go func() {
		res, err := o.client.Generate(a.ctx, a.chatID)
		done <- callOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			o.settleError(a, classifyError(out.err))
			return
		}
		o.settleSuccess(a, out.result)
	case <-timer.C:
		a.cancel()
		o.settleError(a, timeoutPayload())
	}
}

// classifyError reduces any attempt failure to a payload. An abort seen
// as the call's own failure is indistinguishable from the timer path by
// design; explicitly cancelled attempts never reach state because they
// are no longer current.
func classifyError(err error) *model.ErrorPayload {
	if p, ok := model.AsErrorPayload(err); ok {
		return p
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return timeoutPayload()
	}
	return &model.ErrorPayload{Code: model.ErrCodeGenerationFailed, MessageKey: model.MsgKeyGenerationFailed}
}

func timeoutPayload() *model.ErrorPayload {
	return &model.ErrorPayload{Code: model.ErrCodeTimeout, MessageKey: model.MsgKeyTimeout}
}

func (o *generationOrchestrator) settleSuccess(a *attempt, res *model.GenerationResult) {
	o.mu.Lock()
	if o.closed || o.current != a {
		o.mu.Unlock()
		return
	}
	o.current = nil
	o.status = statusSettled
	o.typing = false
	o.clearErrorLocked()
	now := o.clk.Now()
	keys := o.invalidationKeys()
	onSuccess := o.opts.OnSuccess
	onSettled := o.opts.OnSettled
	o.mu.Unlock()

	for _, k := range keys {
		o.cache.Invalidate(context.Background(), k)
	}

	latency := now.Sub(a.startedAt).Milliseconds()
	metrics.ObserveGeneration(string(model.AttemptOutcomeSuccess), "", latency)
	o.log.Debug().Str("attempt_id", a.id).Str("chat_id", a.chatID).Int64("latency_ms", latency).
		Msg("generation attempt succeeded")

	if onSettled != nil {
		onSettled(&model.GenerationAttempt{
			ID:        a.id,
			ChatID:    a.chatID,
			Outcome:   model.AttemptOutcomeSuccess,
			LatencyMs: latency,
			StartedAt: a.startedAt,
			SettledAt: now,
		})
	}
	if onSuccess != nil {
		onSuccess(res)
	}
}

func (o *generationOrchestrator) settleError(a *attempt, p *model.ErrorPayload) {
	o.mu.Lock()
	if o.closed || o.current != a {
		// Superseded or explicitly cancelled: suppress entirely.
		o.mu.Unlock()
		return
	}
	o.current = nil
	o.storeFailureLocked(p)
	now := o.appearedAt
	onError := o.opts.OnError
	onSettled := o.opts.OnSettled
	o.mu.Unlock()

	outcome := model.AttemptOutcomeError
	if p.Code == model.ErrCodeTimeout {
		outcome = model.AttemptOutcomeTimeout
	}
	latency := now.Sub(a.startedAt).Milliseconds()
	metrics.ObserveGeneration(string(outcome), p.Code, latency)
	o.log.Warn().Str("attempt_id", a.id).Str("chat_id", a.chatID).Str("code", p.Code).
		Int64("latency_ms", latency).Msg("generation attempt failed")

	if onSettled != nil {
		onSettled(&model.GenerationAttempt{
			ID:        a.id,
			ChatID:    a.chatID,
			Outcome:   outcome,
			ErrorCode: p.Code,
			LatencyMs: latency,
			StartedAt: a.startedAt,
			SettledAt: now,
		})
	}
	if onError != nil {
		onError(p)
	}
}

// storeFailureLocked fills the error register and arms the countdown
// when the payload carries a cooldown hint.
func (o *generationOrchestrator) storeFailureLocked(p *model.ErrorPayload) {
	o.status = statusSettled
	o.typing = false
	o.stopCountdownLocked()
	now := o.clk.Now()
	o.errPayload = p
	o.appearedAt = now
	if p.RetryAfterSeconds > 0 {
		o.retryAt = now.Add(time.Duration(p.RetryAfterSeconds) * time.Second)
		o.startCountdownLocked()
	} else {
		o.retryAt = time.Time{}
		o.countdownVal = nil
	}
}

func (o *generationOrchestrator) Cancel() {
	o.mu.Lock()
	a := o.current
	o.current = nil
	if a != nil {
		o.status = statusIdle
	}
	o.typing = false
	o.mu.Unlock()
	if a != nil {
		a.cancel()
		o.log.Debug().Str("attempt_id", a.id).Str("chat_id", a.chatID).Msg("generation attempt cancelled")
	}
}

func (o *generationOrchestrator) ClearError() {
	o.mu.Lock()
	o.clearErrorLocked()
	if o.status == statusSettled {
		o.status = statusIdle
	}
	o.mu.Unlock()
}

func (o *generationOrchestrator) HandleAssistantMessage() {
	o.mu.Lock()
	o.typing = false
	o.clearErrorLocked()
	o.mu.Unlock()
}

func (o *generationOrchestrator) State() model.GenerationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := model.GenerationState{
		Typing:  o.typing,
		Pending: o.status == statusPending,
	}
	if o.errPayload != nil {
		p := *o.errPayload
		s.Error = &p
	}
	if o.countdownVal != nil {
		v := *o.countdownVal
		s.RetryCountdown = &v
	}
	return s
}

func (o *generationOrchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	a := o.current
	o.current = nil
	o.typing = false
	o.status = statusIdle
	o.clearErrorLocked()
	o.mu.Unlock()
	if a != nil {
		a.cancel()
	}
}

func (o *generationOrchestrator) clearErrorLocked() {
	o.errPayload = nil
	o.appearedAt = time.Time{}
	o.retryAt = time.Time{}
	o.stopCountdownLocked()
	o.countdownVal = nil
}

// invalidationKeys dedupes the messages key plus configured extras,
// preserving order.
func (o *generationOrchestrator) invalidationKeys() []string {
	seen := make(map[string]struct{}, len(o.opts.InvalidateKeys)+1)
	keys := make([]string, 0, len(o.opts.InvalidateKeys)+1)
	for _, k := range append([]string{o.opts.MessagesKey}, o.opts.InvalidateKeys...) {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Countdown lifetime is tied to the error register: armed alongside a
// cooldown, torn down on clear, new attempt or Close. The tick handler
// re-checks its stop channel identity so a stale ticker can never write
// over a newer countdown.
func (o *generationOrchestrator) startCountdownLocked() {
	remaining := o.remainingLocked(o.clk.Now())
	o.countdownVal = &remaining
	stop := make(chan struct{})
	o.countdownStop = stop
	ticker := o.clk.Ticker(time.Second)
	go o.runCountdown(ticker, stop)
}

func (o *generationOrchestrator) stopCountdownLocked() {
	if o.countdownStop != nil {
		close(o.countdownStop)
		o.countdownStop = nil
	}
}

func (o *generationOrchestrator) runCountdown(t *clock.Ticker, stop chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			o.mu.Lock()
			if o.countdownStop != stop {
				o.mu.Unlock()
				return
			}
			r := o.remainingLocked(o.clk.Now())
			o.countdownVal = &r
			if r <= 0 {
				// Keep the zero on display; the retry gate reads
				// retryAt, not this number.
				o.countdownStop = nil
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
		}
	}
}

// remainingLocked is ceil(milliseconds-remaining / 1000), floored at zero.
func (o *generationOrchestrator) remainingLocked(now time.Time) int {
	ms := o.retryAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
