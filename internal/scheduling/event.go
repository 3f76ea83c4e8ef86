package scheduling

import "time"

// Source tells owned events apart from events mirrored from a connected
// calendar. It is carried for display only.
type Source string

const (
	SourceOwned  Source = "owned"
	SourceSynced Source = "synced"
)

// DefaultDurationMinutes is assumed for events and proposals that do not
// carry an explicit duration.
const DefaultDurationMinutes = 60

func (s Source) Valid() bool {
	return s == SourceOwned || s == SourceSynced
}

// Event is a scheduled item as supplied by the event store. A zero
// DurationMinutes means the store has no duration for it.
type Event struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	IsCompleted     bool      `json:"is_completed"`
	Source          Source    `json:"source"`
}

// EffectiveDurationMinutes returns the duration used for conflict checks.
func (e Event) EffectiveDurationMinutes() int {
	return effectiveMinutes(e.DurationMinutes)
}

// Interval returns the half-open range the event occupies.
func (e Event) Interval() Interval {
	return NewInterval(e.StartTime, e.EffectiveDurationMinutes())
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps reports a non-zero-measure intersection. Back-to-back intervals
// do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

func effectiveMinutes(minutes int) int {
	if minutes == 0 {
		return DefaultDurationMinutes
	}
	return minutes
}
