package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/layer-3/pairgate/core"
	"go.uber.org/zap"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the CredentialStore interface.
// Keys expire lazily against the injected clock.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	opts    Options
	log     *zap.Logger
	data    map[string]memoryEntry
	members map[core.Identity]struct{}
}

// NewMemoryStore creates a new in-memory store. A nil clock uses the wall clock.
func NewMemoryStore(clk clock.Clock, opts Options, log *zap.Logger) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		clock:   clk,
		opts:    opts.withDefaults(),
		log:     log.Named("store"),
		data:    make(map[string]memoryEntry),
		members: make(map[core.Identity]struct{}),
	}
}

// get returns a live entry, evicting it when expired. Caller holds mu.
func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

// set stores value; a non-positive ttl means no expiry. Caller holds mu.
func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.data[key] = e
}

// SetRaw writes an arbitrary payload as the session record of id and registers id.
// It lets callers seed the store, including with records Load will reject.
func (s *MemoryStore) SetRaw(id core.Identity, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(s.opts.sessionKey(id), payload, s.opts.SessionTTL)
	s.members[id] = struct{}{}
}

func (s *MemoryStore) Load(ctx context.Context, id core.Identity) (core.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(s.opts.sessionKey(id))
	if !ok {
		return core.Credential{}, false, nil
	}

	cred, err := decodeRecord(e.value)
	if err != nil {
		s.log.Warn("dropping corrupt session record", zap.String("identity", string(id)), zap.Error(err))
		delete(s.data, s.opts.sessionKey(id))
		delete(s.members, id)
		return core.Credential{}, false, nil
	}

	return cred, true, nil
}

func (s *MemoryStore) Save(ctx context.Context, id core.Identity, cred core.Credential) error {
	if cred.IsEmpty() {
		s.log.Warn("ignoring empty credential save", zap.String("identity", string(id)))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.opts.sessionKey(id)
	var current core.Credential
	if e, ok := s.get(key); ok {
		if stored, err := decodeRecord(e.value); err == nil {
			current = stored
		}
	}
	current.Merge(cred)

	if current.IsEmpty() {
		delete(s.data, key)
		delete(s.members, id)
		return nil
	}

	data, err := encodeRecord(current)
	if err != nil {
		return err
	}
	s.set(key, data, s.opts.SessionTTL)
	s.members[id] = struct{}{}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, s.opts.sessionKey(id))
	delete(s.data, s.opts.connectedKey(id))
	delete(s.data, s.opts.userKey(id))
	delete(s.members, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]core.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]core.Identity, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) Info(ctx context.Context, id core.Identity) (core.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := core.SessionInfo{Identity: id, TTL: core.TTLAbsent}
	if e, ok := s.get(s.opts.sessionKey(id)); ok {
		info.Exists = true
		info.TTL = core.TTLNoExpiry
		if !e.expiresAt.IsZero() {
			info.TTL = e.expiresAt.Sub(s.clock.Now())
		}
	}
	_, info.Connected = s.get(s.opts.connectedKey(id))
	return info, nil
}

func (s *MemoryStore) MarkConnected(ctx context.Context, id core.Identity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(s.opts.connectedKey(id), []byte("true"), ttl)
	return nil
}

func (s *MemoryStore) ClearConnected(ctx context.Context, id core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, s.opts.connectedKey(id))
	return nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, id core.Identity, account core.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(s.opts.userKey(id), data, s.opts.SessionTTL)
	return nil
}

// Account returns the stored account metadata of id
func (s *MemoryStore) Account(id core.Identity) (core.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(s.opts.userKey(id))
	if !ok {
		return core.Account{}, false
	}
	var account core.Account
	if err := json.Unmarshal(e.value, &account); err != nil {
		return core.Account{}, false
	}
	return account, true
}
