package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cravekart/internal/domain/order"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	now := created.Add(2 * time.Hour)

	h := newHarness(t,
		pendingOrder("paid", "100", created),
		pendingOrder("unpaid", "100", created),
		pendingOrder("no-intent", "100", created),
		pendingOrder("fresh", "100", now.Add(-time.Minute)),
	)

	paid, err := h.coord.CreateIntent(ctx, "paid", "")
	require.NoError(t, err)
	h.provider.set(paid.ID, func(pi *ProviderIntent) { pi.Status = StatusSucceeded })

	unpaid, err := h.coord.CreateIntent(ctx, "unpaid", "")
	require.NoError(t, err)

	_, err = h.coord.CreateIntent(ctx, "fresh", "")
	require.NoError(t, err)

	res, err := h.coord.Sweep(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Checked: 3, Confirmed: 1, Cancelled: 2}, res)
	assert.Equal(t, order.StatusConfirmed, h.orders.status("paid"))
	assert.Equal(t, order.StatusCancelled, h.orders.status("unpaid"))
	assert.Equal(t, order.StatusCancelled, h.orders.status("no-intent"))
	assert.Equal(t, order.StatusPaymentPending, h.orders.status("fresh"))
	assert.Equal(t, StatusCancelled, h.provider.intents[unpaid.ID].Status)

	again, err := h.coord.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, again.Checked)
}

func TestRunSweeps_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.coord.RunSweeps(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
