package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxSaveAttempts = 5

// RedisStore is a Redis implementation of the CredentialStore interface
type RedisStore struct {
	client *redis.Client
	opts   Options
	log    *zap.Logger
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client, opts Options, log *zap.Logger) ports.CredentialStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		opts:   opts.withDefaults(),
		log:    log.Named("store"),
	}
}

// Load reads the session record of id
func (s *RedisStore) Load(ctx context.Context, id core.Identity) (core.Credential, bool, error) {
	val, err := s.client.Get(ctx, s.opts.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Credential{}, false, nil
	}
	if err != nil {
		return core.Credential{}, false, fmt.Errorf("%w: load %s: %v", core.ErrStoreUnavailable, id, err)
	}

	cred, err := decodeRecord(val)
	if err != nil {
		s.log.Warn("dropping corrupt session record", zap.String("identity", string(id)), zap.Error(err))
		s.purge(ctx, id)
		return core.Credential{}, false, nil
	}

	return cred, true, nil
}

// purge removes a corrupt record and its identity set membership
func (s *RedisStore) purge(ctx context.Context, id core.Identity) {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.opts.sessionKey(id))
		pipe.SRem(ctx, s.opts.listKey(), string(id))
		return nil
	})
	if err != nil {
		s.log.Warn("failed to purge corrupt session record", zap.String("identity", string(id)), zap.Error(err))
	}
}

// Save merges cred into the stored record with optimistic locking on the record key
func (s *RedisStore) Save(ctx context.Context, id core.Identity, cred core.Credential) error {
	if cred.IsEmpty() {
		s.log.Warn("ignoring empty credential save", zap.String("identity", string(id)))
		return nil
	}

	key := s.opts.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		var current core.Credential

		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if stored, derr := decodeRecord(val); derr == nil {
				current = stored
			} else {
				s.log.Warn("overwriting corrupt session record", zap.String("identity", string(id)), zap.Error(derr))
			}
		case errors.Is(err, redis.Nil):
		default:
			return err
		}

		current.Merge(cred)

		var data []byte
		if !current.IsEmpty() {
			if data, err = encodeRecord(current); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if data == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.opts.listKey(), string(id))
				return nil
			}
			pipe.Set(ctx, key, data, s.opts.SessionTTL)
			pipe.SAdd(ctx, s.opts.listKey(), string(id))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: save %s: %v", core.ErrStoreUnavailable, id, err)
	}

	return fmt.Errorf("%w: save %s: record kept changing", core.ErrStoreUnavailable, id)
}

// Delete removes the record, the connected marker, the account record and the set membership.
// The four deletions are pipelined, not transactional.
func (s *RedisStore) Delete(ctx context.Context, id core.Identity) error {
	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.opts.sessionKey(id))
		pipe.Del(ctx, s.opts.connectedKey(id))
		pipe.Del(ctx, s.opts.userKey(id))
		pipe.SRem(ctx, s.opts.listKey(), string(id))
		return nil
	})
	if err == nil {
		return nil
	}

	var errs error
	for _, cmd := range cmds {
		errs = multierr.Append(errs, cmd.Err())
	}
	if errs == nil {
		errs = err
	}
	return fmt.Errorf("%w: delete %s: %v", core.ErrStoreUnavailable, id, errs)
}

// List returns every identity in the identity set
func (s *RedisStore) List(ctx context.Context) ([]core.Identity, error) {
	members, err := s.client.SMembers(ctx, s.opts.listKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", core.ErrStoreUnavailable, err)
	}

	sort.Strings(members)
	ids := make([]core.Identity, 0, len(members))
	for _, m := range members {
		ids = append(ids, core.Identity(m))
	}
	return ids, nil
}

// Info reads existence, TTL and the connected marker of id
func (s *RedisStore) Info(ctx context.Context, id core.Identity) (core.SessionInfo, error) {
	var (
		exists    *redis.IntCmd
		ttl       *redis.DurationCmd
		connected *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, s.opts.sessionKey(id))
		ttl = pipe.TTL(ctx, s.opts.sessionKey(id))
		connected = pipe.Exists(ctx, s.opts.connectedKey(id))
		return nil
	})
	if err != nil {
		return core.SessionInfo{}, fmt.Errorf("%w: info %s: %v", core.ErrStoreUnavailable, id, err)
	}

	return core.SessionInfo{
		Identity:  id,
		Exists:    exists.Val() == 1,
		Connected: connected.Val() == 1,
		TTL:       ttl.Val(),
	}, nil
}

// MarkConnected sets the connected marker with a bounded TTL
func (s *RedisStore) MarkConnected(ctx context.Context, id core.Identity, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.opts.connectedKey(id), "true", ttl).Err(); err != nil {
		return fmt.Errorf("%w: mark connected %s: %v", core.ErrStoreUnavailable, id, err)
	}
	return nil
}

// ClearConnected removes the connected marker
func (s *RedisStore) ClearConnected(ctx context.Context, id core.Identity) error {
	if err := s.client.Del(ctx, s.opts.connectedKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: clear connected %s: %v", core.ErrStoreUnavailable, id, err)
	}
	return nil
}

// SaveAccount stores the account metadata with the session TTL
func (s *RedisStore) SaveAccount(ctx context.Context, id core.Identity, account core.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	if err := s.client.Set(ctx, s.opts.userKey(id), data, s.opts.SessionTTL).Err(); err != nil {
		return fmt.Errorf("%w: save account %s: %v", core.ErrStoreUnavailable, id, err)
	}
	return nil
}
