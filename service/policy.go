package service

import (
	"time"

	"github.com/layer-3/pairgate/core"
)

// DefaultReconnectDelay is the pause before a transient disconnect is retried
const DefaultReconnectDelay = 5 * time.Second

// Decide classifies a disconnect reason.
// Logged out and forbidden sessions are abandoned, a clean local close needs no
// action, and everything else is worth another connection attempt.
func Decide(reason core.DisconnectReason) core.Decision {
	switch reason {
	case core.ReasonLoggedOut, core.ReasonForbidden:
		return core.DecisionTerminate
	case core.ReasonNone:
		return core.DecisionIgnore
	default:
		return core.DecisionRetry
	}
}

// ReconnectPolicy layers delay and an optional attempt cap on top of Decide
type ReconnectPolicy struct {
	Delay time.Duration
	// MaxAttempts caps consecutive reconnects without reaching open; 0 means unlimited.
	MaxAttempts int
}

// Allow reports whether another reconnect may follow attempts consecutive ones
func (p ReconnectPolicy) Allow(attempts int) bool {
	return p.MaxAttempts <= 0 || attempts < p.MaxAttempts
}

func (p ReconnectPolicy) delay() time.Duration {
	if p.Delay <= 0 {
		return DefaultReconnectDelay
	}
	return p.Delay
}
