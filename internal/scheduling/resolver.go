package scheduling

import (
	"fmt"
	"sort"
	"time"
)

const (
	MaxAlternatives     = 3
	DefaultSearchBefore = time.Hour
	DefaultSearchAfter  = 4 * time.Hour
	DefaultSearchStep   = 30 * time.Minute

	// MaxDurationMinutes caps every duration the resolver accepts (one week).
	MaxDurationMinutes = 7 * 24 * 60
)

const noAlternativesAdvice = "no nearby free time, try another day"

// ConflictQuery is a proposed time checked against a user's events.
//
// A zero ProposedDurationMinutes means the caller did not supply one. Now
// bounds alternative suggestions: none may start before it. A zero Now
// disables that filter.
type ConflictQuery struct {
	ProposedStart           time.Time
	ProposedDurationMinutes int
	CandidateEvents         []Event
	Now                     time.Time
}

// ConflictingEvent is a candidate event that overlaps the proposal, with the
// metadata needed to display it.
type ConflictingEvent struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Source          Source    `json:"source"`
}

// AlternativeSlot is a free window near a rejected proposal.
type AlternativeSlot struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	OffsetMinutes int       `json:"offset_minutes"`
	Label         string    `json:"label"`
	RelativeLabel string    `json:"relative_label"`
}

type ConflictResult struct {
	HasConflict       bool               `json:"has_conflict"`
	ConflictingEvents []ConflictingEvent `json:"conflicting_events"`
	AlternativeSlots  []AlternativeSlot  `json:"alternative_slots"`
}

// Advice returns the message shown when a conflict has no nearby
// alternative, and "" otherwise.
func (r ConflictResult) Advice() string {
	if r.HasConflict && len(r.AlternativeSlots) == 0 {
		return noAlternativesAdvice
	}
	return ""
}

// Resolver holds the alternative-slot search policy. Zero fields fall back
// to the package defaults, so the zero Resolver is usable.
//
// Candidates start every Step inside
// [ProposedStart-SearchBefore, ProposedStart+SearchAfter] and must also end
// inside it. A proposal longer than SearchAfter could never fit, so for it
// only the start is bounded. Candidates are tried by increasing distance
// from the proposal; on equal distance the later slot goes first.
type Resolver struct {
	SearchBefore    time.Duration
	SearchAfter     time.Duration
	Step            time.Duration
	MaxAlternatives int
}

func DefaultResolver() Resolver {
	return Resolver{
		SearchBefore:    DefaultSearchBefore,
		SearchAfter:     DefaultSearchAfter,
		Step:            DefaultSearchStep,
		MaxAlternatives: MaxAlternatives,
	}
}

// DetectConflicts runs the default resolver.
func DetectConflicts(q ConflictQuery) (ConflictResult, error) {
	return DefaultResolver().DetectConflicts(q)
}

// FindAlternativeSlots runs the default resolver's slot search.
func FindAlternativeSlots(q ConflictQuery, conflicts []ConflictingEvent) ([]AlternativeSlot, error) {
	return DefaultResolver().FindAlternativeSlots(q, conflicts)
}

// DetectConflicts reports which non-completed candidates overlap the proposal
// and, when any do, suggests nearby free slots.
func (r Resolver) DetectConflicts(q ConflictQuery) (ConflictResult, error) {
	if err := q.validate(); err != nil {
		return ConflictResult{}, err
	}

	proposed := q.proposedInterval()
	conflicts := make([]ConflictingEvent, 0)
	for _, ev := range q.CandidateEvents {
		if ev.IsCompleted {
			continue
		}
		iv := ev.Interval()
		if !proposed.Overlaps(iv) {
			continue
		}
		conflicts = append(conflicts, ConflictingEvent{
			ID:              ev.ID,
			Title:           ev.Title,
			StartTime:       iv.Start,
			EndTime:         iv.End,
			DurationMinutes: ev.EffectiveDurationMinutes(),
			Source:          ev.Source,
		})
	}

	result := ConflictResult{
		HasConflict:       len(conflicts) > 0,
		ConflictingEvents: conflicts,
		AlternativeSlots:  []AlternativeSlot{},
	}
	if !result.HasConflict {
		return result, nil
	}

	slots, err := r.FindAlternativeSlots(q, conflicts)
	if err != nil {
		return ConflictResult{}, err
	}
	result.AlternativeSlots = slots
	return result, nil
}

// FindAlternativeSlots searches for free slots of the proposed duration near
// the proposal. Every slot is checked against all non-completed candidates,
// not only conflicts. With no conflicts there is nothing to resolve and the
// result is empty.
func (r Resolver) FindAlternativeSlots(q ConflictQuery, conflicts []ConflictingEvent) ([]AlternativeSlot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	slots := make([]AlternativeSlot, 0)
	if len(conflicts) == 0 {
		return slots, nil
	}

	r = r.withDefaults()
	duration := time.Duration(effectiveMinutes(q.ProposedDurationMinutes)) * time.Minute

	busy := make([]Interval, 0, len(q.CandidateEvents))
	for _, ev := range q.CandidateEvents {
		if !ev.IsCompleted {
			busy = append(busy, ev.Interval())
		}
	}

	limit := r.forwardLimit(duration)
	for _, offset := range r.candidateOffsets() {
		if offset+duration > limit {
			continue
		}
		candidate := Interval{Start: q.ProposedStart.Add(offset), End: q.ProposedStart.Add(offset + duration)}
		if !q.Now.IsZero() && candidate.Start.Before(q.Now) {
			continue
		}
		if overlapsAny(candidate, busy) {
			continue
		}
		slots = append(slots, AlternativeSlot{
			Start:         candidate.Start,
			End:           candidate.End,
			OffsetMinutes: int(offset / time.Minute),
			Label:         slotLabel(q.ProposedStart, candidate.Start),
			RelativeLabel: relativeLabel(offset),
		})
		if len(slots) == r.MaxAlternatives {
			break
		}
	}
	return slots, nil
}

// SearchWindow is the range a store must load candidates from so that both
// the proposal and every alternative it could suggest are checked.
func (r Resolver) SearchWindow(start time.Time, durationMinutes int) Interval {
	r = r.withDefaults()
	after := r.forwardLimit(time.Duration(effectiveMinutes(durationMinutes)) * time.Minute)
	return Interval{Start: start.Add(-r.SearchBefore), End: start.Add(after)}
}

// forwardLimit is the latest end, relative to the proposal, a candidate of
// the given duration may have.
func (r Resolver) forwardLimit(duration time.Duration) time.Duration {
	if duration > r.SearchAfter {
		return r.SearchAfter + duration
	}
	return r.SearchAfter
}

func (r Resolver) withDefaults() Resolver {
	if r.SearchBefore < 0 {
		r.SearchBefore = 0
	} else if r.SearchBefore == 0 {
		r.SearchBefore = DefaultSearchBefore
	}
	if r.SearchAfter <= 0 {
		r.SearchAfter = DefaultSearchAfter
	}
	if r.Step <= 0 {
		r.Step = DefaultSearchStep
	}
	if r.MaxAlternatives <= 0 {
		r.MaxAlternatives = MaxAlternatives
	}
	return r
}

// candidateOffsets lists non-zero offsets from the proposal, nearest first,
// later before earlier on ties.
func (r Resolver) candidateOffsets() []time.Duration {
	offsets := make([]time.Duration, 0)
	for off := r.Step; off <= r.SearchAfter; off += r.Step {
		offsets = append(offsets, off)
	}
	for off := r.Step; off <= r.SearchBefore; off += r.Step {
		offsets = append(offsets, -off)
	}
	sort.SliceStable(offsets, func(i, j int) bool {
		di, dj := absDuration(offsets[i]), absDuration(offsets[j])
		if di != dj {
			return di < dj
		}
		return offsets[i] > offsets[j]
	})
	return offsets
}

func (q ConflictQuery) validate() error {
	if q.ProposedStart.IsZero() {
		return invalid("proposed_start", "timestamp is required")
	}
	if err := ValidateDuration("proposed_duration_minutes", q.ProposedDurationMinutes); err != nil {
		return err
	}
	for i, ev := range q.CandidateEvents {
		if ev.StartTime.IsZero() {
			return invalid(fmt.Sprintf("candidate_events[%d].start_time", i), "timestamp is required")
		}
		if err := ValidateDuration(fmt.Sprintf("candidate_events[%d].duration_minutes", i), ev.DurationMinutes); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDuration rejects negative durations and durations above
// MaxDurationMinutes. Zero passes: it stands for the default duration.
func ValidateDuration(field string, minutes int) error {
	if minutes < 0 {
		return invalid(field, "must be positive")
	}
	if minutes > MaxDurationMinutes {
		return invalid(field, fmt.Sprintf("must be at most %d minutes", MaxDurationMinutes))
	}
	return nil
}

func (q ConflictQuery) proposedInterval() Interval {
	return NewInterval(q.ProposedStart, effectiveMinutes(q.ProposedDurationMinutes))
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, iv := range busy {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
