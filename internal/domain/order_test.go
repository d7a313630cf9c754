package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	live := []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestOrderStatus_AllowedSources(t *testing.T) {
	// No terminal state may be a source for any transition.
	for _, target := range []OrderStatus{
		OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusFailed,
	} {
		for _, source := range target.AllowedSources() {
			assert.False(t, source.IsTerminal(),
				"transition %s -> %s must not start from a terminal state", source, target)
		}
	}

	assert.Contains(t, OrderStatusCompleted.AllowedSources(), OrderStatusPending)
	assert.Contains(t, OrderStatusFailed.AllowedSources(), OrderStatusPending)
	assert.Empty(t, OrderStatusPending.AllowedSources(), "nothing transitions back to pending")
}
