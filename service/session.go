package service

import (
	"context"
	"errors"
	"sync"

	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/zap"
)

var errEventStreamEnded = errors.New("protocol event stream ended")

// State is the in-memory connection state of a session
type State struct {
	Phase      core.Phase
	LastReason core.DisconnectReason
	// Reconnects counts consecutive transient reconnects that preceded this session.
	Reconnects int
}

// Session drives one protocol connection for an identity, from dial to close.
// Reconnecting means a new Session; a Session is never restarted.
type Session struct {
	id         core.Identity
	generation string
	conn       ports.Conn
	env        *env
	emit       func(core.ConnectResult)
	log        *zap.Logger

	mu      sync.Mutex
	state   State
	opened  bool
	cred    core.Credential
	pending core.Credential

	wake    chan struct{}
	pairing sync.Once
	tasks   sync.WaitGroup
	// marks tracks connected-marker writes so closing never races them.
	marks sync.WaitGroup
}

func newSession(e *env, id core.Identity, generation string, conn ports.Conn, cred core.Credential, reconnects int, emit func(core.ConnectResult)) *Session {
	return &Session{
		id:         id,
		generation: generation,
		conn:       conn,
		env:        e,
		emit:       emit,
		log:        e.log.With(zap.String("identity", string(id)), zap.String("generation", generation)),
		state:      State{Phase: core.PhaseIdle, Reconnects: reconnects},
		cred:       cred.Clone(),
		wake:       make(chan struct{}, 1),
	}
}

// State returns a snapshot of the connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Credential returns a copy of the credential as currently known to the session
func (s *Session) Credential() core.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred.Clone()
}

// Opened reports whether the connection reached open at least once
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opened
}

func (s *Session) setPhase(p core.Phase) {
	s.mu.Lock()
	s.state.Phase = p
	s.mu.Unlock()

	s.log.Debug("session phase changed", zap.String("phase", string(p)))
}

// Run processes protocol events until the connection closes or ctx ends and
// returns the closing update. Pending credential writes are flushed before it returns.
func (s *Session) Run(ctx context.Context) *core.ConnectionUpdate {
	s.setPhase(core.PhaseConnecting)

	persisted := make(chan struct{})
	go s.persistLoop(persisted)

	defer func() {
		if err := s.conn.Close(); err != nil {
			s.log.Debug("failed to close protocol connection", zap.Error(err))
		}
		close(s.wake)
		<-persisted
		s.tasks.Wait()
	}()

	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.closing(core.ReasonNone)
			return &core.ConnectionUpdate{State: core.StateClose, Reason: core.ReasonNone}

		case ev, ok := <-events:
			if !ok {
				s.closing(core.ReasonConnectionLost)
				return &core.ConnectionUpdate{State: core.StateClose, Reason: core.ReasonConnectionLost, Err: errEventStreamEnded}
			}
			if ev.Credentials != nil {
				s.rotate(*ev.Credentials)
			}
			if ev.Connection != nil && s.handle(ctx, ev.Connection) {
				return ev.Connection
			}
		}
	}
}

// handle applies one connection update and reports whether it closed the connection
func (s *Session) handle(ctx context.Context, u *core.ConnectionUpdate) bool {
	if u.QR != "" {
		s.setPhase(core.PhaseAwaitingCredential)
		s.bootstrap(ctx, u.QR)
	}

	switch u.State {
	case core.StateOpen:
		s.open(u.Account)
	case core.StateClose:
		s.log.Info("protocol connection closed", zap.Stringer("reason", u.Reason), zap.Error(u.Err))
		s.closing(u.Reason)
		return true
	}
	return false
}

// bootstrap hands out the bootstrap credential for the configured mode
func (s *Session) bootstrap(ctx context.Context, qr string) {
	if s.env.cfg.Mode == ModeQR {
		s.emit(core.ConnectResult{Kind: core.ResultQR, QR: qr})
		s.env.publish(core.LifecycleEvent{Type: core.EventBootstrapReady, Identity: s.id, Generation: s.generation})
		return
	}

	// one pairing code per connection attempt; QR refreshes are ignored
	s.pairing.Do(func() {
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()

			pctx, cancel := context.WithTimeout(ctx, s.env.cfg.PairingTimeout)
			defer cancel()

			code, err := s.conn.RequestPairingCode(pctx, string(s.id))
			if err != nil {
				s.log.Warn("failed to request pairing code", zap.Error(err))
				s.emit(core.ErrorResult(s.id, err))
				return
			}
			s.log.Info("pairing code generated")
			s.emit(core.ConnectResult{Kind: core.ResultPairingCode, PairingCode: code})
			s.env.publish(core.LifecycleEvent{Type: core.EventBootstrapReady, Identity: s.id, Generation: s.generation})
		}()
	})
}

func (s *Session) open(account *core.Account) {
	s.mu.Lock()
	s.state.Phase = core.PhaseOpen
	s.state.Reconnects = 0
	s.opened = true
	s.mu.Unlock()

	var userID string
	if account != nil {
		userID = account.ID
	}
	s.log.Info("protocol connection open", zap.String("user_id", userID))
	s.emit(core.ConnectResult{Kind: core.ResultConnected, UserID: userID})

	s.marks.Add(1)
	go func() {
		defer s.marks.Done()

		ctx, cancel := s.env.storeContext()
		defer cancel()

		if err := s.env.store.MarkConnected(ctx, s.id, s.env.cfg.ConnectedTTL); err != nil {
			s.log.Warn("failed to mark session connected", zap.Error(err))
		}
		if account == nil {
			s.log.Warn("account metadata unavailable on open")
		} else if err := s.env.store.SaveAccount(ctx, s.id, *account); err != nil {
			s.log.Warn("failed to save account metadata", zap.Error(err))
		}
	}()

	s.env.publish(core.LifecycleEvent{Type: core.EventOpened, Identity: s.id, Generation: s.generation, UserID: userID})
}

func (s *Session) closing(reason core.DisconnectReason) {
	s.mu.Lock()
	s.state.Phase = core.PhaseClosing
	s.state.LastReason = reason
	s.mu.Unlock()

	s.marks.Wait()
	ctx, cancel := s.env.storeContext()
	defer cancel()
	if err := s.env.store.ClearConnected(ctx, s.id); err != nil {
		s.log.Warn("failed to clear connected marker", zap.Error(err))
	}
}

// rotate records a credential update and hands it to the persister without waiting
func (s *Session) rotate(update core.Credential) {
	s.mu.Lock()
	s.cred.Merge(update)
	s.pending.Accumulate(update)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) persistLoop(done chan<- struct{}) {
	defer close(done)

	for range s.wake {
		s.flush()
	}
	s.flush()
}

// flush writes the pending batch. A failed batch is put back in front of newer updates.
func (s *Session) flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = core.Credential{}
	s.mu.Unlock()

	if batch.IsEmpty() {
		return
	}

	ctx, cancel := s.env.storeContext()
	defer cancel()

	err := s.env.store.Save(ctx, s.id, batch)
	s.env.metrics.CredentialPersisted(err)
	if err == nil {
		return
	}

	s.log.Warn("failed to persist credential update", zap.Error(err))
	s.mu.Lock()
	batch.Accumulate(s.pending)
	s.pending = batch
	s.mu.Unlock()
}
