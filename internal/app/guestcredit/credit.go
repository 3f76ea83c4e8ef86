// Package guestcredit meters conflict checks made without an account. A
// guest starts with a fixed allowance and each check spends one credit.
package guestcredit

import (
	"errors"
	"strings"
)

var ErrNoCredits = errors.New("guest credits exhausted")

var ErrGuestIDRequired = errors.New("guest id is required")

type Balance struct {
	GuestID   string `json:"guest_id"`
	Remaining int    `json:"remaining"`
}

// Spend returns the balance after one check. The input is never modified.
func Spend(b Balance) (Balance, error) {
	if strings.TrimSpace(b.GuestID) == "" {
		return b, ErrGuestIDRequired
	}
	if b.Remaining <= 0 {
		return b, ErrNoCredits
	}
	b.Remaining--
	return b, nil
}
