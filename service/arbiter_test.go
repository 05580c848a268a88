package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/pairgate/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArbiter_FirstOfferWins(t *testing.T) {
	triggers := map[string]core.ConnectResult{
		"bootstrap": {Kind: core.ResultPairingCode, PairingCode: "ABCD1234"},
		"open":      {Kind: core.ResultConnected, UserID: "u1"},
		"close":     core.ErrorResult(testIdentity, core.ErrLoggedOut),
		"deadline":  {Kind: core.ResultWaiting},
	}

	for first, want := range triggers {
		t.Run(first, func(t *testing.T) {
			a := NewArbiter()
			require.True(t, a.Offer(want))

			for other, r := range triggers {
				if other != first {
					assert.False(t, a.Offer(r), "late %s offer accepted", other)
				}
			}

			got, ok := a.Result()
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestArbiter_ConcurrentOffers(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := NewArbiter()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, kind := range []core.ResultKind{core.ResultQR, core.ResultConnected, core.ResultError, core.ResultWaiting} {
			wg.Add(1)
			go func(kind core.ResultKind) {
				defer wg.Done()
				if a.Offer(core.ConnectResult{Kind: kind}) {
					wins.Add(1)
				}
			}(kind)
		}
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		select {
		case <-a.Done():
		default:
			t.Fatal("done not closed after a winning offer")
		}
	}
}

func TestArbiter_WaitDeadline(t *testing.T) {
	a := NewArbiter()
	deadline := make(chan time.Time, 1)
	deadline <- time.Now()

	res := a.Wait(context.Background(), deadline)
	assert.Equal(t, core.ResultWaiting, res.Kind)
	assert.False(t, a.Offer(core.ConnectResult{Kind: core.ResultConnected}))
}

func TestArbiter_WaitContextCancelled(t *testing.T) {
	a := NewArbiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Wait(ctx, nil)
	require.Equal(t, core.ResultError, res.Kind)
	assert.True(t, errors.Is(res.Err, context.Canceled))
}

func TestArbiter_ResultBeatsDeadline(t *testing.T) {
	a := NewArbiter()
	require.True(t, a.Offer(core.ConnectResult{Kind: core.ResultQR, QR: "qr"}))

	deadline := make(chan time.Time, 1)
	deadline <- time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// even with every trigger ready, the earlier offer stands
	res := a.Wait(ctx, deadline)
	assert.Equal(t, core.ResultQR, res.Kind)
	assert.Equal(t, "qr", res.QR)
}

func TestArbiter_UnresolvedResult(t *testing.T) {
	a := NewArbiter()
	_, ok := a.Result()
	assert.False(t, ok)
}
