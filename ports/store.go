package ports

import (
	"context"
	"time"

	"github.com/layer-3/pairgate/core"
)

// CredentialStore persists session credentials keyed by identity
type CredentialStore interface {
	// Load returns the stored credential. Corrupt records are removed and reported absent.
	Load(ctx context.Context, id core.Identity) (core.Credential, bool, error)

	// Save merges cred into the stored record and refreshes its TTL
	Save(ctx context.Context, id core.Identity, cred core.Credential) error

	// Delete removes every record kept for id
	Delete(ctx context.Context, id core.Identity) error

	// List returns the identities registered in the identity set
	List(ctx context.Context) ([]core.Identity, error)

	// Info reports existence, remaining TTL and the connected marker of id
	Info(ctx context.Context, id core.Identity) (core.SessionInfo, error)

	MarkConnected(ctx context.Context, id core.Identity, ttl time.Duration) error
	ClearConnected(ctx context.Context, id core.Identity) error
	SaveAccount(ctx context.Context, id core.Identity, account core.Account) error
}
