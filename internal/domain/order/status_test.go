package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPaymentPending, StatusConfirmed, true},
		{StatusPaymentPending, StatusCancelled, true},
		{StatusPaymentPending, StatusPreparing, false},
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusDelivered, true},
		{StatusReady, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusConfirmed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("preparing")
	require.NoError(t, err)
	assert.Equal(t, StatusPreparing, st)

	_, err = ParseStatus("shipped")
	require.ErrorIs(t, err, ErrUnknownStatus)
	assert.True(t, IsValidation(err))
}
