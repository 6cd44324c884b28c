package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cravekart/internal/domain/checkout"
)

func TestSessionStore_CAS(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(0)

	sess := &checkout.Session{ID: "s1", CustomerID: "c1", State: checkout.StateDetails}
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 1, sess.Version)

	stale, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	sess.State = checkout.StatePaymentIntentPending
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, 2, sess.Version)

	stale.State = checkout.StateFailed
	require.ErrorIs(t, store.Save(ctx, stale), checkout.ErrSessionConflict)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, checkout.StatePaymentIntentPending, got.State)
}

func TestSessionStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(0)

	require.NoError(t, store.Save(ctx, &checkout.Session{
		ID:    "s1",
		Items: []checkout.CartItem{{FoodItemID: "f1", Quantity: 1}},
	}))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestSessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &checkout.Session{ID: "s1"}))

	now = now.Add(59 * time.Second)
	_, err := store.Get(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Get(ctx, "s1")
	require.ErrorIs(t, err, checkout.ErrSessionNotFound)

	// An expired session can be recreated from scratch.
	require.NoError(t, store.Save(ctx, &checkout.Session{ID: "s1"}))
}

func TestSessionStore_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(0)
	require.NoError(t, store.Save(ctx, &checkout.Session{ID: "s1"}))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := store.Get(ctx, "s1")
			if err != nil {
				return
			}
			s.Version = 1
			if store.Save(ctx, s) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestSessionStore_Evict(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &checkout.Session{ID: "abandoned"}))
	now = now.Add(30 * time.Second)
	require.NoError(t, store.Save(ctx, &checkout.Session{ID: "active"}))

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, store.evict())
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, "active")
	require.NoError(t, err)
}

func TestSessionStore_RunEviction(t *testing.T) {
	store := NewSessionStore(time.Millisecond)
	require.NoError(t, store.Save(context.Background(), &checkout.Session{ID: "s1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunEviction(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction loop did not stop")
	}
}

func TestSessionStore_NoTTLKeepsSessions(t *testing.T) {
	store := NewSessionStore(0)
	require.NoError(t, store.Save(context.Background(), &checkout.Session{ID: "s1"}))
	assert.Zero(t, store.evict())
	assert.Equal(t, 1, store.Len())
}
