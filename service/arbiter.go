package service

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/pairgate/core"
)

// Arbiter resolves one connect request with the first of several racing results.
// Later offers are dropped.
type Arbiter struct {
	mu       sync.Mutex
	resolved bool
	result   core.ConnectResult
	done     chan struct{}
}

// NewArbiter creates an unresolved arbiter
func NewArbiter() *Arbiter {
	return &Arbiter{done: make(chan struct{})}
}

// Offer proposes r as the response and reports whether it won
func (a *Arbiter) Offer(r core.ConnectResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resolved {
		return false
	}
	a.resolved = true
	a.result = r
	close(a.done)
	return true
}

// Done is closed once a result has been accepted
func (a *Arbiter) Done() <-chan struct{} {
	return a.done
}

// Result returns the accepted result, if any
func (a *Arbiter) Result() (core.ConnectResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.result, a.resolved
}

// Wait blocks until a result is accepted, the deadline fires or ctx ends.
// A deadline resolves as ResultWaiting and a cancelled ctx as an error; both
// still lose against a result offered first.
func (a *Arbiter) Wait(ctx context.Context, deadline <-chan time.Time) core.ConnectResult {
	select {
	case <-a.done:
	case <-deadline:
		a.Offer(core.ConnectResult{Kind: core.ResultWaiting})
	case <-ctx.Done():
		a.Offer(core.ErrorResult("", ctx.Err()))
	}

	r, _ := a.Result()
	return r
}
