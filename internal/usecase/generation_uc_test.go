// File: internal/usecase/generation_uc_test.go
package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
)

type testHarness struct {
	orch    *generationOrchestrator
	client  *fakeGenClient
	cache   *recInvalidator
	clk     *clock.Mock
	success chan *model.GenerationResult
	failure chan *model.ErrorPayload
	settled chan *model.GenerationAttempt
}

func newHarness(opts GenerationOptions) *testHarness {
	h := &testHarness{
		client:  newFakeGenClient(),
		cache:   &recInvalidator{},
		clk:     clock.NewMock(),
		success: make(chan *model.GenerationResult, 16),
		failure: make(chan *model.ErrorPayload, 16),
		settled: make(chan *model.GenerationAttempt, 16),
	}
	opts.OnSuccess = func(r *model.GenerationResult) { h.success <- r }
	opts.OnError = func(p *model.ErrorPayload) { h.failure <- p }
	opts.OnSettled = func(a *model.GenerationAttempt) { h.settled <- a }
	log := zerolog.Nop()
	h.orch = NewGenerationOrchestrator(h.client, h.cache, h.clk, &log, opts)
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func waitStarted(t *testing.T, h *testHarness) {
	t.Helper()
	select {
	case <-h.client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation call never started")
	}
}

func recvError(t *testing.T, h *testHarness) *model.ErrorPayload {
	t.Helper()
	select {
	case p := <-h.failure:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no error callback")
		return nil
	}
}

func countdown(h *testHarness) (int, bool) {
	s := h.orch.State()
	if s.RetryCountdown == nil {
		return 0, false
	}
	return *s.RetryCountdown, true
}

func TestTrigger_NoChatID(t *testing.T) {
	h := newHarness(GenerationOptions{})

	h.orch.Trigger()

	p := recvError(t, h)
	if p.Code != model.ErrCodeChatNotFound {
		t.Fatalf("code = %q, want %q", p.Code, model.ErrCodeChatNotFound)
	}
	s := h.orch.State()
	if s.Typing || s.Pending {
		t.Fatalf("typing=%v pending=%v, want both false", s.Typing, s.Pending)
	}
	if h.client.callCount() != 0 {
		t.Fatalf("network call issued for missing chat id")
	}
}

func TestTrigger_SingleFlight(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	before := h.orch.State()

	h.orch.Trigger() // must be a no-op while pending

	if got := h.client.callCount(); got != 1 {
		t.Fatalf("network calls = %d, want 1", got)
	}
	after := h.orch.State()
	if before != after {
		t.Fatalf("state changed by no-op trigger: %+v -> %+v", before, after)
	}

	h.client.succeed(&model.GenerationResult{Content: "hi"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
}

func TestTrigger_ConcurrentCallers(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	const K = 32
	var wg sync.WaitGroup
	wg.Add(K)
	for i := 0; i < K; i++ {
		go func() {
			defer wg.Done()
			h.orch.Trigger()
		}()
	}
	wg.Wait()
	waitStarted(t, h)

	if got := h.client.callCount(); got != 1 {
		t.Fatalf("network calls = %d, want 1", got)
	}
	h.client.succeed(&model.GenerationResult{Content: "hi"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
}

func TestSuccess_InvalidatesDedupedKeys(t *testing.T) {
	h := newHarness(GenerationOptions{
		ChatID:         "c1",
		MessagesKey:    "/messages/c1",
		InvalidateKeys: []string{"/chats", "/messages/c1", "/chats"},
	})

	h.orch.Trigger()
	waitStarted(t, h)
	h.client.succeed(&model.GenerationResult{MessageID: "m1", Content: "hello"})

	select {
	case res := <-h.success:
		if res.MessageID != "m1" {
			t.Fatalf("result id = %q, want m1", res.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no success callback")
	}
	select {
	case res := <-h.success:
		t.Fatalf("success callback fired twice: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	keys := h.cache.invalidated()
	want := []string{"/messages/c1", "/chats"}
	if len(keys) != len(want) {
		t.Fatalf("invalidated %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("invalidated %v, want %v", keys, want)
		}
	}

	s := h.orch.State()
	if s.Typing || s.Pending || s.Error != nil || s.RetryCountdown != nil {
		t.Fatalf("state after success = %+v, want fully cleared", s)
	}
}

func TestTimeout_AbortsAndReports(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	if !h.orch.State().Typing {
		t.Fatal("typing should be true while pending")
	}

	h.clk.Add(DefaultGenerationTimeout)

	p := recvError(t, h)
	if p.Code != model.ErrCodeTimeout {
		t.Fatalf("code = %q, want %q", p.Code, model.ErrCodeTimeout)
	}
	select {
	case <-h.client.lastCtx().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("network call was not aborted on timeout")
	}
	s := h.orch.State()
	if s.Typing || s.Pending {
		t.Fatalf("typing=%v pending=%v after timeout, want both false", s.Typing, s.Pending)
	}
	if s.Error == nil || s.Error.Code != model.ErrCodeTimeout {
		t.Fatalf("stored error = %+v, want timeout", s.Error)
	}
}

func TestAbort_ReportedAsTimeout(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	// The transport reports an abort on its own, without our cancel.
	h.client.fail(context.Canceled)

	p := recvError(t, h)
	if p.Code != model.ErrCodeTimeout {
		t.Fatalf("code = %q, want %q (abort unified with timeout)", p.Code, model.ErrCodeTimeout)
	}
}

func TestBackendError_CooldownGatesRetry(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.client.fail(&model.ErrorPayload{
		Code:              "rate_limited",
		MessageKey:        "errors.rate_limited",
		RetryAfterSeconds: 10,
	})

	p := recvError(t, h)
	if p.Code != "rate_limited" {
		t.Fatalf("code = %q, want rate_limited (backend code passes through)", p.Code)
	}
	if v, ok := countdown(h); !ok || v != 10 {
		t.Fatalf("countdown = %v,%v, want 10,true", v, ok)
	}

	h.orch.Retry() // gated
	if h.client.callCount() != 1 {
		t.Fatal("retry bypassed the cooldown")
	}

	h.clk.Add(5 * time.Second)
	waitFor(t, func() bool { v, ok := countdown(h); return ok && v == 5 }, "countdown at 5")
	h.orch.Retry() // still gated
	if h.client.callCount() != 1 {
		t.Fatal("retry bypassed the cooldown at 5s")
	}

	h.clk.Add(5 * time.Second)
	waitFor(t, func() bool { v, ok := countdown(h); return ok && v == 0 }, "countdown at 0")

	h.orch.Retry()
	waitStarted(t, h)
	if h.client.callCount() != 2 {
		t.Fatalf("network calls = %d, want 2 after cooldown elapsed", h.client.callCount())
	}
	// A fresh attempt clears the old error and countdown.
	s := h.orch.State()
	if s.Error != nil || s.RetryCountdown != nil {
		t.Fatalf("state on new attempt = %+v, want error cleared", s)
	}
	h.client.succeed(&model.GenerationResult{Content: "ok"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
}

func TestRetry_ImmediateWithoutHint(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.client.fail(errors.New("boom"))

	p := recvError(t, h)
	if p.Code != model.ErrCodeGenerationFailed {
		t.Fatalf("code = %q, want %q", p.Code, model.ErrCodeGenerationFailed)
	}
	if _, ok := countdown(h); ok {
		t.Fatal("countdown armed without a hint")
	}

	h.orch.Retry()
	waitStarted(t, h)
	if h.client.callCount() != 2 {
		t.Fatalf("network calls = %d, want 2", h.client.callCount())
	}
	h.client.succeed(&model.GenerationResult{Content: "ok"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
}

func TestCancel_SuppressesErrorReporting(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.orch.Cancel()

	select {
	case <-h.client.lastCtx().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not abort the network call")
	}
	// The aborted call settles inside the client; nothing may surface.
	select {
	case p := <-h.failure:
		t.Fatalf("cancelled attempt reported error %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
	s := h.orch.State()
	if s.Typing || s.Pending || s.Error != nil {
		t.Fatalf("state after cancel = %+v, want cleared", s)
	}
}

func TestCancel_IdempotentWhenIdle(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	before := h.orch.State()
	h.orch.Cancel()
	h.orch.Cancel()
	after := h.orch.State()

	if before != after {
		t.Fatalf("idle cancel changed state: %+v -> %+v", before, after)
	}
}

func TestClose_TearsDownAndDisables(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.orch.Close()

	select {
	case <-h.client.lastCtx().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("close did not abort the network call")
	}
	select {
	case p := <-h.failure:
		t.Fatalf("closed orchestrator reported error %+v", p)
	case <-time.After(50 * time.Millisecond):
	}

	h.orch.Trigger()
	select {
	case <-h.client.started:
		t.Fatal("closed orchestrator issued a network call")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleAssistantMessage_StopsTypingKeepsAttempt(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1", MessagesKey: "/messages/c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.orch.HandleAssistantMessage()

	s := h.orch.State()
	if s.Typing {
		t.Fatal("typing should stop when the reply arrives out-of-band")
	}
	if !s.Pending {
		t.Fatal("the attempt itself must stay outstanding")
	}

	// Single-flight still holds while the attempt is outstanding.
	h.orch.Trigger()
	if h.client.callCount() != 1 {
		t.Fatalf("network calls = %d, want 1", h.client.callCount())
	}

	h.client.succeed(&model.GenerationResult{Content: "late"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
	if got := h.cache.invalidated(); len(got) != 1 || got[0] != "/messages/c1" {
		t.Fatalf("invalidated %v, want [/messages/c1]", got)
	}
}

func TestClearError_ResetsErrorAndCountdown(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.client.fail(&model.ErrorPayload{Code: "rate_limited", MessageKey: "errors.rate_limited", RetryAfterSeconds: 30})
	recvError(t, h)

	h.orch.ClearError()

	s := h.orch.State()
	if s.Error != nil || s.RetryCountdown != nil {
		t.Fatalf("state after clear = %+v, want error and countdown gone", s)
	}
	// With the cooldown cleared, retry is accepted immediately.
	h.orch.Retry()
	waitStarted(t, h)
	if h.client.callCount() != 2 {
		t.Fatalf("network calls = %d, want 2", h.client.callCount())
	}
	h.client.succeed(&model.GenerationResult{Content: "ok"})
	waitFor(t, func() bool { return !h.orch.State().Pending }, "attempt settled")
}

func TestSettledHook_ReceivesAuditRecords(t *testing.T) {
	h := newHarness(GenerationOptions{ChatID: "c1"})

	h.orch.Trigger()
	waitStarted(t, h)
	h.client.succeed(&model.GenerationResult{Content: "ok"})

	select {
	case a := <-h.settled:
		if a.Outcome != model.AttemptOutcomeSuccess || a.ChatID != "c1" || a.ID == "" {
			t.Fatalf("audit record = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit record for success")
	}

	h.orch.Trigger()
	waitStarted(t, h)
	h.clk.Add(DefaultGenerationTimeout)

	select {
	case a := <-h.settled:
		if a.Outcome != model.AttemptOutcomeTimeout || a.ErrorCode != model.ErrCodeTimeout {
			t.Fatalf("audit record = %+v, want timeout", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit record for timeout")
	}
}
