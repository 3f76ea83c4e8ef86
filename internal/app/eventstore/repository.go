package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schedulr/project/internal/contracts"
	"github.com/schedulr/project/internal/scheduling"
)

var ErrEventNotFound = errors.New("event not found")

// ErrSlotTaken is returned when applying an event would overlap another live
// owned event of the same user.
var ErrSlotTaken = errors.New("time slot already taken")

var ErrUnsupportedEventType = errors.New("unsupported event type")

const (
	sqlStateExclusionViolation = "23P01"
	sqlStateUndefinedTable     = "42P01"
)

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS btree_gist`

const createCalendarEventsSQL = `
CREATE TABLE IF NOT EXISTS calendar_events (
  event_id text PRIMARY KEY,
  user_id text NOT NULL,
  title text NOT NULL DEFAULT '',
  start_time timestamptz NOT NULL,
  end_time timestamptz NOT NULL,
  duration_minutes integer,
  is_completed boolean NOT NULL DEFAULT false,
  allow_overlap boolean NOT NULL DEFAULT false,
  source text NOT NULL DEFAULT 'owned',
  external_source_id text,
  external_uid text,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  deleted_at timestamptz,
  CHECK (end_time > start_time),
  CHECK (source IN ('owned', 'synced'))
)`

const createWindowIndexSQL = `
CREATE INDEX IF NOT EXISTS calendar_events_user_window_idx
ON calendar_events (user_id, start_time, end_time)
WHERE deleted_at IS NULL`

const createExternalIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS calendar_events_external_idx
ON calendar_events (user_id, external_source_id, external_uid)
WHERE source = 'synced'`

// Owned, live, non-completed events of one user may not overlap unless the
// user explicitly accepted the overlap.
const createNoOverlapConstraintSQL = `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'calendar_events_no_overlap') THEN
    ALTER TABLE calendar_events ADD CONSTRAINT calendar_events_no_overlap
    EXCLUDE USING gist (user_id WITH =, tstzrange(start_time, end_time, '[)') WITH &&)
    WHERE (deleted_at IS NULL AND NOT is_completed AND source = 'owned' AND NOT allow_overlap);
  END IF;
END
$$`

const createScheduleEventsSQL = `
CREATE TABLE IF NOT EXISTS schedule_events (
  message_id text PRIMARY KEY,
  command_id text NOT NULL,
  event_id text NOT NULL,
  user_id text NOT NULL,
  actor_name text NOT NULL DEFAULT '',
  event_type text NOT NULL,
  shard_id integer NOT NULL,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createUserProjectionOffsetsSQL = `
CREATE TABLE IF NOT EXISTS user_projection_offsets (
  user_id text PRIMARY KEY,
  last_event_seq bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const insertScheduleEventSQL = `
INSERT INTO schedule_events (
  message_id, command_id, event_id, user_id, actor_name, event_type, shard_id, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (message_id) DO NOTHING
`

const insertScheduledSQL = `
INSERT INTO calendar_events (
  event_id, user_id, title, start_time, end_time, duration_minutes, allow_overlap,
  source, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'owned', $8, $8)
ON CONFLICT (event_id) DO NOTHING
`

const applyRescheduledSQL = `
UPDATE calendar_events
SET start_time = $3,
    end_time = $4,
    duration_minutes = $5,
    allow_overlap = $6,
    updated_at = $7
WHERE event_id = $1 AND user_id = $2 AND source = 'owned' AND deleted_at IS NULL
`

const applyCompletedSQL = `
UPDATE calendar_events
SET is_completed = true,
    updated_at = $3
WHERE event_id = $1 AND user_id = $2 AND source = 'owned' AND deleted_at IS NULL
`

const applyDeletedSQL = `
UPDATE calendar_events
SET deleted_at = $3,
    updated_at = $3
WHERE event_id = $1 AND user_id = $2 AND source = 'owned' AND deleted_at IS NULL
`

const upsertUserProjectionOffsetSQL = `
INSERT INTO user_projection_offsets (user_id, last_event_seq, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE
SET last_event_seq = GREATEST(user_projection_offsets.last_event_seq, EXCLUDED.last_event_seq),
    updated_at = now()
`

const upsertSyncedSQL = `
INSERT INTO calendar_events (
  event_id, user_id, title, start_time, end_time, duration_minutes,
  source, external_source_id, external_uid
)
VALUES ($1, $2, $3, $4, $5, $6, 'synced', $7, $8)
ON CONFLICT (event_id) DO UPDATE
SET title = EXCLUDED.title,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    duration_minutes = EXCLUDED.duration_minutes,
    deleted_at = NULL,
    updated_at = now()
`

const pruneSyncedSQL = `
UPDATE calendar_events
SET deleted_at = now(),
    updated_at = now()
WHERE user_id = $1
  AND external_source_id = $2
  AND source = 'synced'
  AND deleted_at IS NULL
  AND NOT (external_uid = ANY($3))
`

// StoredEvent is an event together with its owner.
type StoredEvent struct {
	UserID string
	scheduling.Event
}

type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createExtensionSQL,
		createCalendarEventsSQL,
		createWindowIndexSQL,
		createExternalIndexSQL,
		createNoOverlapConstraintSQL,
		createScheduleEventsSQL,
		createUserProjectionOffsetsSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ListEventsInWindow returns the user's live events intersecting [from, to),
// completed ones included, ordered by start.
func (r *Repository) ListEventsInWindow(ctx context.Context, userID string, from, to time.Time) ([]scheduling.Event, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT event_id, title, start_time, duration_minutes, is_completed, source
		 FROM calendar_events
		 WHERE user_id = $1 AND deleted_at IS NULL
		   AND start_time < $3 AND end_time > $2
		 ORDER BY start_time, event_id`,
		userID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]scheduling.Event, 0)
	for rows.Next() {
		var (
			ev       scheduling.Event
			duration *int32
			source   string
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.StartTime, &duration, &ev.IsCompleted, &source); err != nil {
			return nil, err
		}
		ev.DurationMinutes = durationFromColumn(duration)
		ev.Source = scheduling.Source(source)
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID string) (StoredEvent, error) {
	var (
		ev        StoredEvent
		duration  *int32
		source    string
		deletedAt *time.Time
	)
	err := r.Pool.QueryRow(ctx,
		`SELECT event_id, user_id, title, start_time, duration_minutes, is_completed, source, deleted_at
		 FROM calendar_events
		 WHERE event_id = $1`,
		eventID,
	).Scan(&ev.ID, &ev.UserID, &ev.Title, &ev.StartTime, &duration, &ev.IsCompleted, &source, &deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredEvent{}, ErrEventNotFound
		}
		return StoredEvent{}, err
	}
	if deletedAt != nil {
		return StoredEvent{}, ErrEventNotFound
	}
	ev.DurationMinutes = durationFromColumn(duration)
	ev.Source = scheduling.Source(source)
	return ev, nil
}

// ApplyEvent records a domain event and projects it onto calendar_events in
// one transaction. Redelivered events are acknowledged without being applied
// twice.
func (r *Repository) ApplyEvent(ctx context.Context, event contracts.ScheduleEvent, eventSeq uint64) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertScheduleEventSQL,
		event.MessageID,
		event.CommandID,
		event.EventID,
		event.UserID,
		event.ActorName,
		event.EventType,
		event.ShardID,
		event.OccurredAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	end := endTime(event.StartTime, event.DurationMinutes)
	switch event.EventType {
	case contracts.EventScheduled:
		_, err = tx.Exec(ctx, insertScheduledSQL,
			event.EventID,
			event.UserID,
			event.Title,
			event.StartTime,
			end,
			durationColumn(event.DurationMinutes),
			event.AllowOverlap,
			event.OccurredAt,
		)
	case contracts.EventRescheduled:
		_, err = tx.Exec(ctx, applyRescheduledSQL,
			event.EventID,
			event.UserID,
			event.StartTime,
			end,
			durationColumn(event.DurationMinutes),
			event.AllowOverlap,
			event.OccurredAt,
		)
	case contracts.EventCompleted:
		_, err = tx.Exec(ctx, applyCompletedSQL, event.EventID, event.UserID, event.OccurredAt)
	case contracts.EventDeleted:
		_, err = tx.Exec(ctx, applyDeletedSQL, event.EventID, event.UserID, event.OccurredAt)
	default:
		return ErrUnsupportedEventType
	}
	if err != nil {
		return translateError(err)
	}

	if _, err := tx.Exec(ctx, upsertUserProjectionOffsetSQL, event.UserID, int64(eventSeq)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReplaceSyncedEvents makes the stored occurrences of one feed match events:
// present ones are upserted, missing ones are soft deleted. It returns the
// number of occurrences written.
func (r *Repository) ReplaceSyncedEvents(ctx context.Context, userID, sourceID string, events []scheduling.Event) (int, error) {
	userID = strings.TrimSpace(userID)
	sourceID = strings.TrimSpace(sourceID)
	if userID == "" || sourceID == "" {
		return 0, errors.New("user id and source id are required")
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	uids := make([]string, 0, len(events))
	for _, ev := range events {
		if _, err := tx.Exec(ctx, upsertSyncedSQL,
			syncedEventID(userID, sourceID, ev.ID),
			userID,
			ev.Title,
			ev.StartTime,
			endTime(ev.StartTime, ev.DurationMinutes),
			durationColumn(ev.DurationMinutes),
			sourceID,
			ev.ID,
		); err != nil {
			return 0, fmt.Errorf("upsert synced event %s: %w", ev.ID, err)
		}
		uids = append(uids, ev.ID)
	}

	if _, err := tx.Exec(ctx, pruneSyncedSQL, userID, sourceID, uids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(events), nil
}

func (r *Repository) GetUserProjectionOffset(ctx context.Context, userID string) (uint64, error) {
	var offset uint64
	err := r.Pool.QueryRow(ctx,
		`SELECT COALESCE(last_event_seq, 0)
		 FROM user_projection_offsets
		 WHERE user_id = $1`,
		userID,
	).Scan(&offset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUndefinedTable {
			// Projection offset table is not available yet.
			return 0, nil
		}
		return 0, err
	}
	return offset, nil
}

// WaitForCommandApplied polls until the event-sink has recorded an event for
// commandID or timeout elapses. It never fails on timeout; callers treat the
// command as accepted either way.
func (r *Repository) WaitForCommandApplied(ctx context.Context, commandID, userID string, timeout time.Duration) error {
	commandID = strings.TrimSpace(commandID)
	userID = strings.TrimSpace(userID)
	if commandID == "" || userID == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	deadline := time.Now().Add(timeout)
	delay := 20 * time.Millisecond
	for time.Now().Before(deadline) {
		var marker int
		err := r.Pool.QueryRow(ctx,
			`SELECT 1
			 FROM schedule_events
			 WHERE command_id = $1 AND user_id = $2
			 LIMIT 1`,
			commandID, userID,
		).Scan(&marker)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			var pgErr *pgconn.PgError
			if !(errors.As(err, &pgErr) && pgErr.Code == sqlStateUndefinedTable) {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = min(time.Duration(float64(delay)*1.5), 250*time.Millisecond)
	}
	return nil
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateExclusionViolation {
		return ErrSlotTaken
	}
	return err
}

func endTime(start time.Time, minutes int) time.Time {
	return scheduling.NewInterval(start, scheduling.Event{DurationMinutes: minutes}.EffectiveDurationMinutes()).End
}

// durationColumn stores an absent duration as NULL.
func durationColumn(minutes int) *int32 {
	if minutes <= 0 {
		return nil
	}
	v := int32(minutes)
	return &v
}

func durationFromColumn(v *int32) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

func syncedEventID(userID, sourceID, uid string) string {
	return "sync:" + userID + ":" + sourceID + ":" + uid
}
