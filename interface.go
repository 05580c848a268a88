package pairgate

import (
	"context"
	"time"
)

// Client represents the public interface for driving a pairgate server
type Client interface {
	// Connect starts or resumes the session of number and returns its single answer
	Connect(ctx context.Context, number string) (ConnectResult, error)

	// Info reports the stored state of number
	Info(ctx context.Context, number string) (Session, error)

	// List reports every known identity
	List(ctx context.Context) ([]Session, error)

	// Delete stops the session of number and removes all of its state
	Delete(ctx context.Context, number string) error

	// Stats counts known and connected identities
	Stats(ctx context.Context) (Stats, error)

	// Health checks that the server is up
	Health(ctx context.Context) error
}

// ConnectResult is the answer to a connect request
type ConnectResult struct {
	Status      string `json:"status"`
	Number      string `json:"number"`
	Result      string `json:"result"`
	QRCode      string `json:"qr_code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Message     string `json:"message"`
}

// Pending reports whether the session was still starting when the server answered
func (r ConnectResult) Pending() bool {
	return r.Result == "waiting"
}

// Session is the stored state of one identity
type Session struct {
	Number    string `json:"number"`
	Exists    bool   `json:"exists"`
	Connected bool   `json:"connected"`
	TTL       int64  `json:"ttl"`
	ExpiresIn string `json:"expires_in"`
	Phase     string `json:"phase,omitempty"`
}

// Stats summarises the identities known to the server
type Stats struct {
	Total     int       `json:"total_sessions"`
	Active    int       `json:"active_sessions"`
	Inactive  int       `json:"inactive_sessions"`
	Timestamp time.Time `json:"timestamp"`
}
