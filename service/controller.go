package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Controller owns the connection sessions of every identity handled by this process.
// Each identity gets at most one supervisor task, which outlives the requests that
// started or attached to it.
type Controller struct {
	env *env

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[core.Identity]*supervisor
	closed   bool
}

// NewController creates a lifecycle controller
func NewController(store ports.CredentialStore, protocol ports.Protocol, cfg Config, opts ...Option) *Controller {
	e := &env{
		cfg:      cfg.withDefaults(),
		store:    store,
		protocol: protocol,
		metrics:  noopMetrics{},
		clock:    clock.New(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("lifecycle")

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		env:      e,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[core.Identity]*supervisor),
	}
}

// Connect starts or resumes the session of id and returns exactly one result:
// a bootstrap credential, a connected confirmation, "waiting" once the response
// deadline passes, or an error. The session keeps running after Connect returns.
func (c *Controller) Connect(ctx context.Context, id core.Identity) core.ConnectResult {
	if id == "" {
		return core.ErrorResult(id, core.ErrInvalidIdentity)
	}

	arb := NewArbiter()
	sv, err := c.attach(id, arb)
	if err != nil {
		return core.ErrorResult(id, err)
	}
	defer sv.detach(arb)

	timer := c.env.clock.Timer(c.env.cfg.ResponseTimeout)
	defer timer.Stop()

	res := arb.Wait(ctx, timer.C)
	res.Identity = id
	c.env.metrics.ConnectResolved(res.Kind)
	return res
}

// attach hands arb to the live supervisor of id, spawning one when there is none
func (c *Controller) attach(id core.Identity, arb *Arbiter) (*supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, core.ErrShuttingDown
	}
	var prev <-chan struct{}
	if sv, ok := c.sessions[id]; ok {
		if sv.attach(arb) {
			return sv, nil
		}
		// still cleaning up; the successor starts once it is gone
		prev = sv.done
	}

	sv := newSupervisor(c.ctx, c.env, id, prev, c.forget)
	sv.attach(arb)
	c.sessions[id] = sv
	go sv.run()

	return sv, nil
}

func (c *Controller) forget(sv *supervisor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[sv.id] == sv {
		delete(c.sessions, sv.id)
	}
}

func (c *Controller) live(id core.Identity) *supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessions[id]
}

// Info reports the stored state of id, plus its phase when a session runs here
func (c *Controller) Info(ctx context.Context, id core.Identity) (core.SessionInfo, error) {
	info, err := c.env.store.Info(ctx, id)
	if err != nil {
		return core.SessionInfo{}, err
	}
	if sv := c.live(id); sv != nil {
		info.Phase = sv.phase()
	}
	return info, nil
}

// List reports every identity in the store's identity set
func (c *Controller) List(ctx context.Context) ([]core.SessionInfo, error) {
	ids, err := c.env.store.List(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]core.SessionInfo, 0, len(ids))
	for _, id := range ids {
		info, err := c.Info(ctx, id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Stats counts known identities and those with a live connected marker
func (c *Controller) Stats(ctx context.Context) (core.Stats, error) {
	infos, err := c.List(ctx)
	if err != nil {
		return core.Stats{}, err
	}

	stats := core.Stats{Total: len(infos)}
	for _, info := range infos {
		if info.Connected {
			stats.Active++
		}
	}
	stats.Inactive = stats.Total - stats.Active
	return stats, nil
}

// Delete stops the session of id, if any, and removes all of its stored state
func (c *Controller) Delete(ctx context.Context, id core.Identity) error {
	if sv := c.live(id); sv != nil {
		sv.stop(core.ErrSessionDeleted)
		select {
		case <-sv.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for session %s to stop: %w", id, ctx.Err())
		}
	}

	if err := c.env.store.Delete(ctx, id); err != nil {
		return err
	}

	c.env.log.Info("session deleted", zap.String("identity", string(id)))
	c.env.publish(core.LifecycleEvent{Type: core.EventDeleted, Identity: id})
	return nil
}

// Shutdown stops every session and waits for them to flush their state
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	running := make([]*supervisor, 0, len(c.sessions))
	for _, sv := range c.sessions {
		running = append(running, sv)
	}
	c.mu.Unlock()

	for _, sv := range running {
		sv.stop(core.ErrShuttingDown)
	}
	c.cancel()

	var errs error
	for _, sv := range running {
		select {
		case <-sv.done:
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("session %s did not stop: %w", sv.id, ctx.Err()))
		}
	}

	published := make(chan struct{})
	go func() {
		c.env.bg.Wait()
		close(published)
	}()
	select {
	case <-published:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("pending lifecycle events: %w", ctx.Err()))
	}

	return errs
}

// supervisor runs the successive connection sessions of one identity.
// A reconnect replaces the Session; the loop, not recursion, carries on.
type supervisor struct {
	id     core.Identity
	env    *env
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	prev   <-chan struct{}
	onExit func(*supervisor)

	mu        sync.Mutex
	listeners map[*Arbiter]struct{}
	latest    *core.ConnectResult
	session   *Session
	current   core.Phase
	finished  bool
}

func newSupervisor(parent context.Context, e *env, id core.Identity, prev <-chan struct{}, onExit func(*supervisor)) *supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &supervisor{
		id:        id,
		env:       e,
		log:       e.log.With(zap.String("identity", string(id))),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		prev:      prev,
		onExit:    onExit,
		listeners: make(map[*Arbiter]struct{}),
		current:   core.PhaseIdle,
	}
}

// attach registers a pending request. A request arriving after the bootstrap
// credential or the open confirmation was produced receives it immediately.
func (sv *supervisor) attach(a *Arbiter) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.finished {
		return false
	}
	if sv.latest != nil {
		a.Offer(*sv.latest)
		return true
	}
	sv.listeners[a] = struct{}{}
	return true
}

func (sv *supervisor) detach(a *Arbiter) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	delete(sv.listeners, a)
}

// deliver offers r to every pending request; each request resolves once
func (sv *supervisor) deliver(r core.ConnectResult) {
	r.Identity = sv.id

	sv.mu.Lock()
	defer sv.mu.Unlock()

	if r.IsBootstrap() || r.Kind == core.ResultConnected {
		latest := r
		sv.latest = &latest
	}
	for a := range sv.listeners {
		a.Offer(r)
		delete(sv.listeners, a)
	}
}

func (sv *supervisor) phase() core.Phase {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sv.session != nil {
		return sv.session.State().Phase
	}
	return sv.current
}

func (sv *supervisor) setPhase(p core.Phase) {
	sv.mu.Lock()
	sv.current = p
	sv.mu.Unlock()
}

// finish stops accepting requests and answers the pending ones with r, if any
func (sv *supervisor) finish(r *core.ConnectResult) {
	sv.mu.Lock()
	sv.finished = true
	sv.current = core.PhaseTerminated
	sv.mu.Unlock()

	if r != nil {
		sv.deliver(*r)
	}
}

// stop ends the supervisor, answering pending requests with err
func (sv *supervisor) stop(err error) {
	res := core.ErrorResult(sv.id, err)
	sv.finish(&res)
	sv.cancel()
}

func (sv *supervisor) run() {
	sv.env.metrics.SessionStarted()
	defer sv.exit()

	if sv.prev != nil {
		<-sv.prev
		if sv.ctx.Err() != nil {
			return
		}
	}

	attempts := 0
	for generation := 0; ; generation++ {
		final, opened, err := sv.runGeneration(generation, attempts)
		if sv.ctx.Err() != nil {
			return
		}
		if err != nil {
			if generation == 0 {
				sv.fail(err)
				return
			}
			sv.log.Warn("reconnect attempt failed", zap.Int("attempt", attempts), zap.Error(err))
			final = &core.ConnectionUpdate{State: core.StateClose, Reason: core.ReasonConnectionLost, Err: err}
		}
		if opened {
			attempts = 0
		}
		if final.Reason == core.ReasonNone && final.Err != nil {
			final.Reason = core.ReasonConnectionLost
		}

		decision := Decide(final.Reason)
		sv.env.metrics.Disconnected(final.Reason, decision)
		sv.env.publish(core.LifecycleEvent{
			Type:     core.EventClosed,
			Identity: sv.id,
			Reason:   final.Reason.String(),
			Decision: decision,
		})

		switch decision {
		case core.DecisionTerminate:
			sv.terminate(final.Reason)
			return
		case core.DecisionIgnore:
			sv.log.Info("session closed without error, not reconnecting")
			sv.finish(nil)
			return
		}

		if !sv.env.cfg.Reconnect.Allow(attempts) {
			sv.log.Warn("giving up after consecutive reconnects", zap.Int("attempts", attempts))
			res := core.ErrorResult(sv.id, core.ErrReconnectExhausted)
			sv.finish(&res)
			return
		}
		attempts++

		sv.setPhase(core.PhaseReconnecting)
		delay := sv.env.cfg.Reconnect.delay()
		sv.log.Info("reconnecting",
			zap.Stringer("reason", final.Reason),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay))

		select {
		case <-sv.ctx.Done():
			return
		case <-sv.env.clock.After(delay):
		}
	}
}

// runGeneration loads the credential, dials and runs one Session to completion
func (sv *supervisor) runGeneration(generation, attempts int) (*core.ConnectionUpdate, bool, error) {
	sv.setPhase(core.PhaseIdle)

	cred, found, err := sv.env.store.Load(sv.ctx, sv.id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		cred = core.Credential{}
	}

	conn, err := sv.env.protocol.Dial(sv.ctx, sv.id, cred)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", core.ErrSetupFailed, err)
	}

	sess := newSession(sv.env, sv.id, uuid.NewString(), conn, cred, attempts, sv.deliver)

	sv.mu.Lock()
	sv.session = sess
	sv.mu.Unlock()

	sv.log.Info("connection session started",
		zap.Int("round", generation),
		zap.Bool("resumed", found))
	final := sess.Run(sv.ctx)

	sv.mu.Lock()
	sv.session = nil
	sv.latest = nil
	if !sv.finished {
		sv.current = sess.State().Phase
	}
	sv.mu.Unlock()

	return final, sess.Opened(), nil
}

// fail handles a first generation that could not be set up
func (sv *supervisor) fail(err error) {
	res := core.ErrorResult(sv.id, err)
	if errors.Is(err, core.ErrStoreUnavailable) {
		sv.log.Error("session store unavailable", zap.Error(err))
		sv.finish(&res)
		return
	}

	sv.log.Error("session setup failed, clearing stored state", zap.Error(err))
	ctx, cancel := sv.env.storeContext()
	defer cancel()
	if derr := sv.env.store.Delete(ctx, sv.id); derr != nil {
		sv.log.Warn("failed to clear state after setup failure", zap.Error(derr))
	}
	sv.finish(&res)
}

// terminate abandons the identity after a terminal disconnect
func (sv *supervisor) terminate(reason core.DisconnectReason) {
	sv.mu.Lock()
	sv.finished = true
	sv.mu.Unlock()
	sv.log.Info("session terminated, clearing stored state", zap.Stringer("reason", reason))

	ctx, cancel := sv.env.storeContext()
	defer cancel()
	if err := sv.env.store.Delete(ctx, sv.id); err != nil {
		sv.log.Warn("failed to clear state after logout", zap.Error(err))
	}

	res := core.ErrorResult(sv.id, fmt.Errorf("%w: %s", core.ErrLoggedOut, reason))
	sv.finish(&res)
	sv.env.publish(core.LifecycleEvent{Type: core.EventLoggedOut, Identity: sv.id, Reason: reason.String()})
}

func (sv *supervisor) exit() {
	sv.mu.Lock()
	sv.finished = true
	sv.mu.Unlock()

	sv.onExit(sv)
	sv.cancel()
	sv.env.metrics.SessionStopped()
	close(sv.done)
}
