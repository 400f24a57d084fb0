// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sync"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
)

// fakeGenClient is a controllable GenerationClient. Each Generate call
// signals started and then waits for a script entry, or for ctx
// cancellation, whichever comes first.
type fakeGenClient struct {
	mu      sync.Mutex
	calls   int
	ctxs    []context.Context
	started chan struct{}
	script  chan genReply
}

type genReply struct {
	result *model.GenerationResult
	err    error
}

func newFakeGenClient() *fakeGenClient {
	return &fakeGenClient{
		started: make(chan struct{}, 16),
		script:  make(chan genReply, 16),
	}
}

func (f *fakeGenClient) Generate(ctx context.Context, chatID string) (*model.GenerationResult, error) {
	f.mu.Lock()
	f.calls++
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	f.started <- struct{}{}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.script:
		return r.result, r.err
	}
}

func (f *fakeGenClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGenClient) lastCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ctxs) == 0 {
		return nil
	}
	return f.ctxs[len(f.ctxs)-1]
}

// succeed and fail feed the next pending Generate call.
func (f *fakeGenClient) succeed(res *model.GenerationResult) { f.script <- genReply{result: res} }
func (f *fakeGenClient) fail(err error)                      { f.script <- genReply{err: err} }

var _ adapter.GenerationClient = (*fakeGenClient)(nil)

// recInvalidator records every invalidated key in order.
type recInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recInvalidator) Invalidate(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recInvalidator) invalidated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(r.keys))
	copy(cp, r.keys)
	return cp
}

var _ adapter.Invalidator = (*recInvalidator)(nil)
