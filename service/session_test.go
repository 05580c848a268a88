package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/pairgate/adapters/store"
	"github.com/layer-3/pairgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyStore fails the first failures credential writes
type flakyStore struct {
	*store.MemoryStore

	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) Save(ctx context.Context, id core.Identity, cred core.Credential) error {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()

	if fail {
		return core.ErrStoreUnavailable
	}
	return s.MemoryStore.Save(ctx, id, cred)
}

func newTestSession(t *testing.T, st *flakyStore, conn *fakeConn, emit func(core.ConnectResult)) *Session {
	t.Helper()

	e := &env{
		cfg:     testConfig().withDefaults(),
		store:   st,
		metrics: noopMetrics{},
		clock:   clock.New(),
		log:     zaptest.NewLogger(t),
	}
	return newSession(e, testIdentity, "gen-1", conn, core.Credential{}, 2, emit)
}

func newTestConn() *fakeConn {
	return &fakeConn{
		id:     testIdentity,
		code:   "ABCD1234",
		events: make(chan core.Event, 16),
		closed: make(chan struct{}),
	}
}

func runSession(s *Session) <-chan *core.ConnectionUpdate {
	out := make(chan *core.ConnectionUpdate, 1)
	go func() {
		out <- s.Run(context.Background())
	}()
	return out
}

func awaitClose(t *testing.T, done <-chan *core.ConnectionUpdate) *core.ConnectionUpdate {
	t.Helper()

	select {
	case u := <-done:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSession_FailedWritesAreRetried(t *testing.T) {
	mem := store.NewMemoryStore(nil, store.DefaultOptions(), zaptest.NewLogger(t))
	st := &flakyStore{MemoryStore: mem, failures: 1}
	conn := newTestConn()
	s := newTestSession(t, st, conn, func(core.ConnectResult) {})

	done := runSession(s)
	conn.rotate(core.Credential{Primary: []byte(`{"me":"x"}`)})
	conn.rotate(core.Credential{Keys: map[string]map[string][]byte{"pre-key": {"1": []byte("a"), "2": []byte("b")}}})
	conn.rotate(core.Credential{Keys: map[string]map[string][]byte{"pre-key": {"1": nil}}})
	conn.close(core.ReasonConnectionLost)

	final := awaitClose(t, done)
	assert.Equal(t, core.ReasonConnectionLost, final.Reason)

	cred, found, err := mem.Load(context.Background(), testIdentity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"me":"x"}`, string(cred.Primary))
	_, ok := cred.Key("pre-key", "1")
	assert.False(t, ok, "deleted key survived")
	v, ok := cred.Key("pre-key", "2")
	require.True(t, ok)
	assert.Equal(t, []byte("b"), v)

	// in-memory view follows every rotation
	assert.Equal(t, 1, s.Credential().KeyCount())
}

func TestSession_StateTransitions(t *testing.T) {
	mem := store.NewMemoryStore(nil, store.DefaultOptions(), zaptest.NewLogger(t))
	conn := newTestConn()

	var mu sync.Mutex
	var emitted []core.ConnectResult
	s := newTestSession(t, &flakyStore{MemoryStore: mem}, conn, func(r core.ConnectResult) {
		mu.Lock()
		emitted = append(emitted, r)
		mu.Unlock()
	})
	assert.Equal(t, State{Phase: core.PhaseIdle, Reconnects: 2}, s.State())

	done := runSession(s)
	conn.qr("qr")
	require.Eventually(t, func() bool {
		return s.State().Phase == core.PhaseAwaitingCredential
	}, 2*time.Second, 5*time.Millisecond)

	conn.open(&core.Account{ID: "u1"})
	require.Eventually(t, func() bool {
		return s.State().Phase == core.PhaseOpen
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Opened())
	assert.Zero(t, s.State().Reconnects)

	conn.close(core.ReasonBadSession)
	awaitClose(t, done)

	state := s.State()
	assert.Equal(t, core.PhaseClosing, state.Phase)
	assert.Equal(t, core.ReasonBadSession, state.LastReason)
	assert.True(t, conn.isClosed())

	info, err := mem.Info(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.False(t, info.Connected, "connected marker left behind")

	mu.Lock()
	defer mu.Unlock()
	kinds := make([]core.ResultKind, 0, len(emitted))
	for _, r := range emitted {
		kinds = append(kinds, r.Kind)
	}
	assert.ElementsMatch(t, []core.ResultKind{core.ResultPairingCode, core.ResultConnected}, kinds)
}

func TestSession_EventStreamEnded(t *testing.T) {
	mem := store.NewMemoryStore(nil, store.DefaultOptions(), zaptest.NewLogger(t))
	conn := newTestConn()
	s := newTestSession(t, &flakyStore{MemoryStore: mem}, conn, func(core.ConnectResult) {})

	done := runSession(s)
	close(conn.events)

	final := awaitClose(t, done)
	assert.Equal(t, core.ReasonConnectionLost, final.Reason)
	assert.True(t, errors.Is(final.Err, errEventStreamEnded))
}

func TestSession_PairingFailureIsReported(t *testing.T) {
	mem := store.NewMemoryStore(nil, store.DefaultOptions(), zaptest.NewLogger(t))
	conn := newTestConn()

	results := make(chan core.ConnectResult, 4)
	s := newTestSession(t, &flakyStore{MemoryStore: mem}, conn, func(r core.ConnectResult) { results <- r })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a cancelled context makes the pairing request fail
	s.bootstrap(ctx, "qr")
	s.tasks.Wait()

	r := <-results
	assert.Equal(t, core.ResultError, r.Kind)
	assert.ErrorIs(t, r.Err, context.Canceled)
}
