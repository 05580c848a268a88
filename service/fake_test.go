package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/pairgate/adapters/store"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testIdentity core.Identity = "6281234567890"

// fakeProtocol hands every dialled connection to the test through conns
type fakeProtocol struct {
	mu      sync.Mutex
	dialErr error
	code    string
	dials   int
	conns   chan *fakeConn
}

func newFakeProtocol() *fakeProtocol {
	return &fakeProtocol{code: "ABCD1234", conns: make(chan *fakeConn, 16)}
}

func (p *fakeProtocol) Dial(_ context.Context, id core.Identity, cred core.Credential) (ports.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dials++
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	conn := &fakeConn{
		id:     id,
		cred:   cred.Clone(),
		code:   p.code,
		events: make(chan core.Event, 16),
		closed: make(chan struct{}),
	}
	p.conns <- conn
	return conn, nil
}

func (p *fakeProtocol) setDialErr(err error) {
	p.mu.Lock()
	p.dialErr = err
	p.mu.Unlock()
}

func (p *fakeProtocol) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dials
}

func (p *fakeProtocol) next(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection dialled")
		return nil
	}
}

func (p *fakeProtocol) expectNoDial(t *testing.T, within time.Duration) {
	t.Helper()

	select {
	case <-p.conns:
		t.Fatal("unexpected redial")
	case <-time.After(within):
	}
}

type fakeConn struct {
	id     core.Identity
	cred   core.Credential
	code   string
	events chan core.Event

	mu        sync.Mutex
	phones    []string
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *fakeConn) Events() <-chan core.Event {
	return c.events
}

func (c *fakeConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	c.phones = append(c.phones, phone)
	c.mu.Unlock()

	select {
	case <-c.closed:
		return "", errors.New("connection closed")
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return c.code, nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) pairingRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.phones...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(ev core.Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *fakeConn) qr(code string) {
	c.push(core.Event{Connection: &core.ConnectionUpdate{State: core.StateConnecting, QR: code}})
}

func (c *fakeConn) open(account *core.Account) {
	c.push(core.Event{Connection: &core.ConnectionUpdate{State: core.StateOpen, Account: account}})
}

func (c *fakeConn) close(reason core.DisconnectReason) {
	c.push(core.Event{Connection: &core.ConnectionUpdate{State: core.StateClose, Reason: reason}})
}

func (c *fakeConn) fail(err error) {
	c.push(core.Event{Connection: &core.ConnectionUpdate{State: core.StateClose, Err: err}})
}

func (c *fakeConn) rotate(cred core.Credential) {
	c.push(core.Event{Credentials: &cred})
}

// recordingPublisher keeps every lifecycle event in publish order
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.LifecycleEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event core.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []core.LifecycleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]core.LifecycleEventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// blockingStore stalls credential writes until release is closed
type blockingStore struct {
	*store.MemoryStore
	release chan struct{}
	saves   chan core.Credential
}

func (s *blockingStore) Save(ctx context.Context, id core.Identity, cred core.Credential) error {
	s.saves <- cred
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryStore.Save(ctx, id, cred)
}

// slowDeleteStore holds every Delete until release is closed
type slowDeleteStore struct {
	*store.MemoryStore
	release chan struct{}
	deletes chan core.Identity
}

func (s *slowDeleteStore) Delete(ctx context.Context, id core.Identity) error {
	s.deletes <- id
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.MemoryStore.Delete(ctx, id)
}

type harness struct {
	ctl   *Controller
	store *store.MemoryStore
	proto *fakeProtocol
}

func testConfig() Config {
	return Config{
		Mode:            ModePairingCode,
		ResponseTimeout: 5 * time.Second,
		Reconnect:       ReconnectPolicy{Delay: 10 * time.Millisecond},
	}
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	log := zaptest.NewLogger(t)
	mem := store.NewMemoryStore(nil, store.DefaultOptions(), log)
	return newHarnessWithStore(t, mem, mem, cfg, opts...)
}

func newHarnessWithStore(t *testing.T, mem *store.MemoryStore, st ports.CredentialStore, cfg Config, opts ...Option) *harness {
	t.Helper()

	proto := newFakeProtocol()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	ctl := NewController(st, proto, cfg, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, ctl.Shutdown(ctx))
	})

	return &harness{ctl: ctl, store: mem, proto: proto}
}

// connect runs Connect in the background so the test can drive the protocol
func (h *harness) connect(ctx context.Context, id core.Identity) <-chan core.ConnectResult {
	out := make(chan core.ConnectResult, 1)
	go func() {
		out <- h.ctl.Connect(ctx, id)
	}()
	return out
}

func awaitResult(t *testing.T, results <-chan core.ConnectResult) core.ConnectResult {
	t.Helper()

	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return")
		return core.ConnectResult{}
	}
}
