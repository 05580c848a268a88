package core

import (
	"fmt"
	"time"
)

// TTL sentinels follow the Redis TTL convention.
const (
	TTLAbsent   = time.Duration(-2)
	TTLNoExpiry = time.Duration(-1)
)

// Phase is the lifecycle phase of a connection session.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseConnecting         Phase = "connecting"
	PhaseAwaitingCredential Phase = "awaiting_credential"
	PhaseOpen               Phase = "open"
	PhaseClosing            Phase = "closing"
	PhaseReconnecting       Phase = "reconnecting"
	PhaseTerminated         Phase = "terminated"
)

// Account is the metadata the protocol reports for an authenticated identity.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// SessionInfo is a point-in-time view of the stored state of one identity.
type SessionInfo struct {
	Identity  Identity      `json:"identity"`
	Exists    bool          `json:"exists"`
	Connected bool          `json:"connected"`
	TTL       time.Duration `json:"ttl"`
	// Phase is set only while a connection session runs in this process.
	Phase Phase `json:"phase,omitempty"`
}

// TTLSeconds reports the TTL in whole seconds, keeping the -2/-1 sentinels as is.
func (i SessionInfo) TTLSeconds() int64 {
	if i.TTL < 0 {
		return int64(i.TTL)
	}
	return int64(i.TTL / time.Second)
}

// ExpiresIn renders the remaining TTL for humans.
func (i SessionInfo) ExpiresIn() string {
	if i.TTL <= 0 {
		return "no expiry"
	}
	days := int(i.TTL / (24 * time.Hour))
	hours := int((i.TTL % (24 * time.Hour)) / time.Hour)
	return fmt.Sprintf("%d days %d hours", days, hours)
}

// Stats summarises every identity known to the store.
type Stats struct {
	Total    int `json:"total_sessions"`
	Active   int `json:"active_sessions"`
	Inactive int `json:"inactive_sessions"`
}
