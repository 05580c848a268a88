package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/zap"
)

const (
	// Subprotocol is negotiated with the protocol sidecar
	Subprotocol = "pairgate.bridge.v1"

	bridgeEventBuffer = 64
	bridgeReadLimit   = 4 << 20
	bridgeWriteWait   = 10 * time.Second
)

// Bridge implements ports.Protocol by driving a protocol sidecar over a websocket.
// Every Dial opens one websocket carrying exactly one protocol connection.
type Bridge struct {
	url string
	log *zap.Logger
}

// NewBridge creates a bridge to the sidecar listening at url
func NewBridge(url string, log *zap.Logger) ports.Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{url: url, log: log.Named("bridge")}
}

// Dial opens the websocket and asks the sidecar to start a connection for id
func (b *Bridge) Dial(ctx context.Context, id core.Identity, cred core.Credential) (ports.Conn, error) {
	ws, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial protocol bridge: %w", err)
	}
	ws.SetReadLimit(bridgeReadLimit)

	start := frame{Type: frameStart, Identity: string(id)}
	if !cred.IsEmpty() {
		start.Credential = &cred
	}
	if err := wsjson.Write(ctx, ws, start); err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("failed to start protocol connection: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &bridgeConn{
		ws:      ws,
		log:     b.log.With(zap.String("identity", string(id))),
		events:  make(chan core.Event, bridgeEventBuffer),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
		gone:    make(chan struct{}),
		ctx:     readCtx,
		cancel:  cancel,
	}
	go c.readLoop()

	return c, nil
}

type bridgeConn struct {
	ws     *websocket.Conn
	log    *zap.Logger
	events chan core.Event

	mu      sync.Mutex
	pending map[string]chan frame

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{} // closed by Close
	gone      chan struct{} // closed when readLoop exits

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *bridgeConn) Events() <-chan core.Event {
	return c.events
}

func (c *bridgeConn) readLoop() {
	defer close(c.gone)
	defer close(c.events)

	for {
		var f frame
		if err := wsjson.Read(c.ctx, c.ws, &f); err != nil {
			c.deliver(core.Event{Connection: c.closeUpdate(err)})
			return
		}

		switch f.Type {
		case frameConnectionUpdate:
			update := f.connectionUpdate()
			c.deliver(core.Event{Connection: update})
			if update.State == core.StateClose {
				c.ws.CloseNow()
				return
			}
		case frameCredsUpdate:
			if f.Credential != nil {
				c.deliver(core.Event{Credentials: f.Credential})
			}
		case framePairingCode:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
		default:
			c.log.Debug("ignoring unknown bridge frame", zap.String("type", f.Type))
		}
	}
}

// closeUpdate turns a read failure into the close update the session expects
func (c *bridgeConn) closeUpdate(err error) *core.ConnectionUpdate {
	update := &core.ConnectionUpdate{State: core.StateClose, Err: err}
	switch {
	case c.closing.Load():
		update.Reason = core.ReasonNone
		update.Err = nil
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		update.Reason = core.ReasonConnectionClosed
	default:
		update.Reason = core.ReasonConnectionLost
	}
	return update
}

func (c *bridgeConn) deliver(ev core.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *bridgeConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	id := uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	writeCtx, cancel := context.WithTimeout(ctx, bridgeWriteWait)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.ws, frame{Type: frameRequestPairingCode, ID: id, Phone: phone}); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrPairingFailed, err)
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return "", fmt.Errorf("%w: %s", core.ErrPairingFailed, f.Error)
		}
		if f.Code == "" {
			return "", fmt.Errorf("%w: empty code", core.ErrPairingFailed)
		}
		return f.Code, nil
	case <-c.gone:
		return "", fmt.Errorf("%w: connection closed", core.ErrPairingFailed)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", core.ErrPairingFailed, ctx.Err())
	}
}

func (c *bridgeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		err = c.ws.Close(websocket.StatusNormalClosure, "session closed")
		c.cancel()
		if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
		select {
		case <-c.gone:
			err = nil
		default:
		}
	})
	return err
}
