package guestcredit

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createGuestCreditsSQL = `
CREATE TABLE IF NOT EXISTS guest_credits (
  guest_id text PRIMARY KEY,
  remaining integer NOT NULL CHECK (remaining >= 0),
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const ensureGuestSQL = `
INSERT INTO guest_credits (guest_id, remaining)
VALUES ($1, $2)
ON CONFLICT (guest_id) DO NOTHING
`

const lockGuestSQL = `
SELECT remaining
FROM guest_credits
WHERE guest_id = $1
FOR UPDATE
`

const updateGuestSQL = `
UPDATE guest_credits
SET remaining = $2,
    updated_at = now()
WHERE guest_id = $1
`

// Store persists guest balances. Concurrent charges for the same guest are
// serialized by a row lock.
type Store struct {
	Pool            *pgxpool.Pool
	StartingCredits int
}

func NewStore(pool *pgxpool.Pool, startingCredits int) *Store {
	return &Store{Pool: pool, StartingCredits: startingCredits}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, createGuestCreditsSQL)
	return err
}

// Charge spends one credit for guestID, creating the guest with the starting
// allowance on first use. On ErrNoCredits nothing is written.
func (s *Store) Charge(ctx context.Context, guestID string) (Balance, error) {
	guestID = strings.TrimSpace(guestID)
	if guestID == "" {
		return Balance{}, ErrGuestIDRequired
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Balance{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ensureGuestSQL, guestID, s.StartingCredits); err != nil {
		return Balance{}, err
	}
	current := Balance{GuestID: guestID}
	if err := tx.QueryRow(ctx, lockGuestSQL, guestID).Scan(&current.Remaining); err != nil {
		return Balance{}, err
	}

	next, err := Spend(current)
	if err != nil {
		if errors.Is(err, ErrNoCredits) {
			return current, err
		}
		return Balance{}, err
	}
	if _, err := tx.Exec(ctx, updateGuestSQL, guestID, next.Remaining); err != nil {
		return Balance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Balance{}, err
	}
	return next, nil
}
