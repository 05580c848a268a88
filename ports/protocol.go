package ports

import (
	"context"

	"github.com/layer-3/pairgate/core"
)

// Protocol opens connections of the underlying messaging protocol
type Protocol interface {
	// Dial starts a protocol connection for id authenticated with cred.
	// An empty cred asks the protocol to bootstrap a new device session.
	Dial(ctx context.Context, id core.Identity, cred core.Credential) (Conn, error)
}

// Conn is one running protocol connection
type Conn interface {
	// Events delivers connection updates and credential rotations in protocol order.
	// The channel is closed once the connection is gone.
	Events() <-chan core.Event

	// RequestPairingCode asks the protocol for a numeric pairing code for phone
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	Close() error
}
