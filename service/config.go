package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"go.uber.org/zap"
)

// BootstrapMode selects which bootstrap credential a new session hands out
type BootstrapMode string

const (
	ModeQR          BootstrapMode = "qr"
	ModePairingCode BootstrapMode = "pairing_code"
)

// Config tunes the lifecycle controller
type Config struct {
	Mode BootstrapMode
	// ResponseTimeout bounds how long a connect request waits before answering "waiting".
	ResponseTimeout time.Duration
	// ConnectedTTL bounds the connected marker so it self-heals if the process dies.
	ConnectedTTL   time.Duration
	PairingTimeout time.Duration
	// StoreTimeout bounds background store writes made on behalf of a session.
	StoreTimeout time.Duration
	Reconnect    ReconnectPolicy
}

// DefaultConfig returns the configuration used for zero fields
func DefaultConfig() Config {
	return Config{
		Mode:            ModePairingCode,
		ResponseTimeout: 30 * time.Second,
		ConnectedTTL:    24 * time.Hour,
		PairingTimeout:  20 * time.Second,
		StoreTimeout:    10 * time.Second,
		Reconnect:       ReconnectPolicy{Delay: DefaultReconnectDelay},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.ConnectedTTL <= 0 {
		c.ConnectedTTL = d.ConnectedTTL
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = d.PairingTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.Reconnect.Delay <= 0 {
		c.Reconnect.Delay = d.Reconnect.Delay
	}
	return c
}

// Validate rejects unknown bootstrap modes
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeQR, ModePairingCode:
		return nil
	default:
		return fmt.Errorf("unknown bootstrap mode %q", c.Mode)
	}
}

// Option customises a Controller
type Option func(*env)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(e *env) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock sets the clock used for deadlines and reconnect delays
func WithClock(clk clock.Clock) Option {
	return func(e *env) {
		if clk != nil {
			e.clock = clk
		}
	}
}

// WithPublisher publishes lifecycle events through p
func WithPublisher(p ports.EventPublisher) Option {
	return func(e *env) { e.publisher = p }
}

// WithMetrics records lifecycle counters in m
func WithMetrics(m ports.Metrics) Option {
	return func(e *env) {
		if m != nil {
			e.metrics = m
		}
	}
}

// env holds the collaborators shared by the controller, its supervisors and sessions
type env struct {
	cfg       Config
	store     ports.CredentialStore
	protocol  ports.Protocol
	publisher ports.EventPublisher
	metrics   ports.Metrics
	clock     clock.Clock
	log       *zap.Logger

	bg sync.WaitGroup
}

// storeContext bounds a background store call
func (e *env) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.StoreTimeout)
}

// publish sends a lifecycle event without blocking the caller
func (e *env) publish(event core.LifecycleEvent) {
	if e.publisher == nil {
		return
	}
	event.At = e.clock.Now().UTC()

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()

		ctx, cancel := e.storeContext()
		defer cancel()
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.log.Warn("failed to publish lifecycle event",
				zap.String("type", string(event.Type)),
				zap.String("identity", string(event.Identity)),
				zap.Error(err))
		}
	}()
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted() {}
func (noopMetrics) SessionStopped() {}
func (noopMetrics) ConnectResolved(core.ResultKind) {}
func (noopMetrics) Disconnected(core.DisconnectReason, core.Decision) {}
func (noopMetrics) CredentialPersisted(error) {}
