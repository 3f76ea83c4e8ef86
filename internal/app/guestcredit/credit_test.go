package guestcredit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpend(t *testing.T) {
	start := Balance{GuestID: "guest-1", Remaining: 2}

	next, err := Spend(start)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Remaining)
	assert.Equal(t, 2, start.Remaining, "input balance must not change")

	last, err := Spend(next)
	require.NoError(t, err)
	assert.Equal(t, 0, last.Remaining)

	after, err := Spend(last)
	assert.ErrorIs(t, err, ErrNoCredits)
	assert.Equal(t, last, after)
}

func TestSpend_RequiresGuestID(t *testing.T) {
	_, err := Spend(Balance{GuestID: "  ", Remaining: 3})
	assert.ErrorIs(t, err, ErrGuestIDRequired)
}

func TestSpend_NegativeBalance(t *testing.T) {
	_, err := Spend(Balance{GuestID: "guest-1", Remaining: -1})
	assert.ErrorIs(t, err, ErrNoCredits)
}
