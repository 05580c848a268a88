package store

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture gives the shared suite access to adapter specific seeding and time travel
type fixture struct {
	store   ports.CredentialStore
	putRaw  func(id core.Identity, payload string)
	advance func(d time.Duration)
}

const testIdentity = core.Identity("6281234567890")

func runStoreSuite(t *testing.T, newFixture func(t *testing.T) fixture) {
	ctx := context.Background()

	t.Run("LoadMissing", func(t *testing.T) {
		f := newFixture(t)

		cred, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, cred.IsEmpty())
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		f := newFixture(t)

		in := core.Credential{
			Primary: []byte{0x00, 0xff, 0x10, 'x'},
			Keys:    map[string]map[string][]byte{"pre-key": {"1": {0x01, 0x00, 0x02}}},
		}
		require.NoError(t, f.store.Save(ctx, testIdentity, in))

		out, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, in.Primary, out.Primary)
		assert.Equal(t, in.Keys, out.Keys)

		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []core.Identity{testIdentity}, ids)
	})

	t.Run("SaveEmptyIsNoop", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{}))

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, info.Exists)

		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("MergeDisjointKeys", func(t *testing.T) {
		f := newFixture(t)

		first := core.Credential{
			Primary: []byte("creds-v1"),
			Keys:    map[string]map[string][]byte{"session": {"peer-a": []byte("a")}},
		}
		second := core.Credential{
			Primary: []byte("creds-v2"),
			Keys: map[string]map[string][]byte{
				"session": {"peer-b": []byte("b")},
				"pre-key": {"7": []byte("seven")},
			},
		}
		require.NoError(t, f.store.Save(ctx, testIdentity, first))
		require.NoError(t, f.store.Save(ctx, testIdentity, second))

		out, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("creds-v2"), out.Primary)
		assert.Equal(t, map[string]map[string][]byte{
			"session": {"peer-a": []byte("a"), "peer-b": []byte("b")},
			"pre-key": {"7": []byte("seven")},
		}, out.Keys)
	})

	t.Run("KeysOnlyUpdateKeepsPrimary", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{Primary: []byte("creds")}))
		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{
			Keys: map[string]map[string][]byte{"app-state-sync-key": {"k": []byte("v")}},
		}))

		out, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("creds"), out.Primary)
		assert.Equal(t, 1, out.KeyCount())
	})

	t.Run("CorruptRecordSelfHeals", func(t *testing.T) {
		for name, payload := range map[string]string{
			"NotJSON":      "{not json",
			"MissingBoth":  `{"something":"else"}`,
			"NullDocument": "null",
			"Array":        "[1,2,3]",
			"NullFields":   `{"primary_credential":null,"keys":null}`,
		} {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				f.putRaw(testIdentity, payload)

				ids, err := f.store.List(ctx)
				require.NoError(t, err)
				require.Contains(t, ids, testIdentity)

				_, ok, err := f.store.Load(ctx, testIdentity)
				require.NoError(t, err)
				assert.False(t, ok)

				ids, err = f.store.List(ctx)
				require.NoError(t, err)
				assert.NotContains(t, ids, testIdentity)

				info, err := f.store.Info(ctx, testIdentity)
				require.NoError(t, err)
				assert.False(t, info.Exists)
			})
		}
	})

	t.Run("EmptyKeysRecordIsKept", func(t *testing.T) {
		f := newFixture(t)
		f.putRaw(testIdentity, `{"keys":{}}`)

		cred, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, cred.KeyCount())

		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, testIdentity)

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.True(t, info.Exists)
	})

	t.Run("DeleteCompleteness", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{Primary: []byte("creds")}))
		require.NoError(t, f.store.SaveAccount(ctx, testIdentity, core.Account{ID: "6281234567890:1@s.whatsapp.net"}))
		require.NoError(t, f.store.MarkConnected(ctx, testIdentity, time.Hour))

		require.NoError(t, f.store.Delete(ctx, testIdentity))

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, info.Exists)
		assert.False(t, info.Connected)
		assert.Equal(t, core.TTLAbsent, info.TTL)

		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, testIdentity)
	})

	t.Run("DeleteWithoutConnectedMarker", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{Primary: []byte("creds")}))
		require.NoError(t, f.store.Delete(ctx, testIdentity))

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, info.Exists)
		assert.False(t, info.Connected)

		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("InfoReportsTTLAndConnected", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{Primary: []byte("creds")}))
		require.NoError(t, f.store.MarkConnected(ctx, testIdentity, time.Hour))

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.True(t, info.Exists)
		assert.True(t, info.Connected)
		assert.Greater(t, info.TTL, DefaultSessionTTL-time.Minute)
		assert.LessOrEqual(t, info.TTL, DefaultSessionTTL)

		require.NoError(t, f.store.ClearConnected(ctx, testIdentity))
		info, err = f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, info.Connected)
	})

	t.Run("ConnectedMarkerExpires", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.MarkConnected(ctx, testIdentity, time.Minute))
		f.advance(2 * time.Minute)

		info, err := f.store.Info(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, info.Connected)
	})

	t.Run("SessionRecordExpires", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{Primary: []byte("creds")}))
		f.advance(DefaultSessionTTL + time.Second)

		_, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		assert.False(t, ok)

		// expiry does not touch the identity set; callers reconcile through Info
		ids, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, testIdentity)
	})

	t.Run("NilKeyValueRemovesEntry", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{
			Primary: []byte("creds"),
			Keys:    map[string]map[string][]byte{"pre-key": {"1": []byte("one"), "2": []byte("two")}},
		}))
		require.NoError(t, f.store.Save(ctx, testIdentity, core.Credential{
			Keys: map[string]map[string][]byte{"pre-key": {"1": nil}},
		}))

		out, ok, err := f.store.Load(ctx, testIdentity)
		require.NoError(t, err)
		require.True(t, ok)
		_, found := out.Key("pre-key", "1")
		assert.False(t, found)
		value, found := out.Key("pre-key", "2")
		assert.True(t, found)
		assert.Equal(t, []byte("two"), value)
	})
}
