package core

import (
	"strconv"
	"time"
)

// ConnState is the connection state reported by the protocol.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClose      ConnState = "close"
)

// DisconnectReason is the status code the protocol attaches to a closed connection.
type DisconnectReason int

const (
	ReasonNone                DisconnectReason = 0
	ReasonLoggedOut           DisconnectReason = 401
	ReasonForbidden           DisconnectReason = 403
	ReasonConnectionLost      DisconnectReason = 408
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonBadSession          DisconnectReason = 500
	ReasonUnavailableService  DisconnectReason = 503
	ReasonRestartRequired     DisconnectReason = 515
)

var reasonNames = map[DisconnectReason]string{
	ReasonNone:                "none",
	ReasonLoggedOut:           "logged_out",
	ReasonForbidden:           "forbidden",
	ReasonConnectionLost:      "connection_lost",
	ReasonMultideviceMismatch: "multidevice_mismatch",
	ReasonConnectionClosed:    "connection_closed",
	ReasonConnectionReplaced:  "connection_replaced",
	ReasonBadSession:          "bad_session",
	ReasonUnavailableService:  "unavailable_service",
	ReasonRestartRequired:     "restart_required",
}

func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "reason_" + strconv.Itoa(int(r))
}

// Decision is the outcome of classifying a disconnect.
type Decision string

const (
	DecisionTerminate Decision = "terminate"
	DecisionRetry     Decision = "retry"
	DecisionIgnore    Decision = "ignore"
)

// ConnectionUpdate is a connection-state event from the protocol.
// QR is set when the protocol needs a bootstrap credential.
type ConnectionUpdate struct {
	State   ConnState
	QR      string
	Reason  DisconnectReason
	Err     error
	Account *Account
}

// Event is one item of the protocol event stream. Exactly one field is set.
type Event struct {
	Connection  *ConnectionUpdate
	Credentials *Credential
}

// LifecycleEventType names a lifecycle notification published to other instances.
type LifecycleEventType string

const (
	EventBootstrapReady LifecycleEventType = "session.bootstrap_ready"
	EventOpened         LifecycleEventType = "session.opened"
	EventClosed         LifecycleEventType = "session.closed"
	EventLoggedOut      LifecycleEventType = "session.logged_out"
	EventDeleted        LifecycleEventType = "session.deleted"
)

// LifecycleEvent is the payload published for every lifecycle transition.
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	Identity   Identity           `json:"identity"`
	Generation string             `json:"generation,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Decision   Decision           `json:"decision,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	At         time.Time          `json:"at"`
}
