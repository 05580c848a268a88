package ports

import "github.com/layer-3/pairgate/core"

// Metrics records lifecycle counters
type Metrics interface {
	SessionStarted()
	SessionStopped()
	ConnectResolved(kind core.ResultKind)
	Disconnected(reason core.DisconnectReason, decision core.Decision)
	CredentialPersisted(err error)
}
