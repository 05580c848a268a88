package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/pairgate/core"
)

const (
	// DefaultSessionTTL keeps a session record alive for 30 days after its last update.
	DefaultSessionTTL = 30 * 24 * time.Hour
	DefaultPrefix     = "whatsapp"
)

// Options configures key layout and record lifetime of a store
type Options struct {
	Prefix     string
	SessionTTL time.Duration
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Prefix:     DefaultPrefix,
		SessionTTL: DefaultSessionTTL,
	}
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	return o
}

func (o Options) sessionKey(id core.Identity) string   { return o.Prefix + ":session:" + string(id) }
func (o Options) connectedKey(id core.Identity) string { return o.Prefix + ":connected:" + string(id) }
func (o Options) userKey(id core.Identity) string      { return o.Prefix + ":user:" + string(id) }
func (o Options) listKey() string                      { return o.Prefix + ":sessions:list" }

func encodeRecord(cred core.Credential) ([]byte, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session record: %w", err)
	}
	return data, nil
}

// recordFields reports which credential fields a stored record carries
type recordFields struct {
	Primary json.RawMessage `json:"primary_credential"`
	Keys    json.RawMessage `json:"keys"`
}

func (f recordFields) present() bool {
	return hasValue(f.Primary) || hasValue(f.Keys)
}

func hasValue(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// decodeRecord parses a stored record. Anything that is not a JSON object
// carrying a primary_credential or keys field is reported as ErrCorruptRecord.
// An empty keys object still counts as present.
func decodeRecord(data []byte) (core.Credential, error) {
	var fields recordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrCorruptRecord, err)
	}
	if !fields.present() {
		return core.Credential{}, fmt.Errorf("%w: record has neither primary_credential nor keys", core.ErrCorruptRecord)
	}

	var cred core.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrCorruptRecord, err)
	}
	return cred, nil
}
