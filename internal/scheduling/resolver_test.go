package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 1, hour, minute, 0, 0, time.UTC)
}

func owned(id string, start time.Time, minutes int) Event {
	return Event{ID: id, Title: "event " + id, StartTime: start, DurationMinutes: minutes, Source: SourceOwned}
}

func TestDetectConflicts_OverlapSuggestsLaterSlotFirst(t *testing.T) {
	q := ConflictQuery{
		ProposedStart:           at(14, 30),
		ProposedDurationMinutes: 60,
		CandidateEvents:         []Event{owned("e1", at(14, 0), 60)},
	}

	res, err := DetectConflicts(q)
	require.NoError(t, err)
	require.True(t, res.HasConflict)
	require.Len(t, res.ConflictingEvents, 1)
	assert.Equal(t, "e1", res.ConflictingEvents[0].ID)
	assert.Equal(t, at(15, 0), res.ConflictingEvents[0].EndTime)

	require.Len(t, res.AlternativeSlots, 3)
	assert.Equal(t, at(15, 0), res.AlternativeSlots[0].Start)
	assert.Equal(t, at(16, 0), res.AlternativeSlots[0].End)
	assert.Equal(t, "3:00 PM", res.AlternativeSlots[0].Label)
	assert.Equal(t, "30 min later", res.AlternativeSlots[0].RelativeLabel)
	assert.Equal(t, at(15, 30), res.AlternativeSlots[1].Start)
	assert.Equal(t, "1 hr later", res.AlternativeSlots[1].RelativeLabel)
	assert.Equal(t, at(16, 0), res.AlternativeSlots[2].Start)
	assert.Equal(t, "1 hr 30 min later", res.AlternativeSlots[2].RelativeLabel)
	assert.Empty(t, res.Advice())
}

func TestDetectConflicts_IdenticalProposalConflicts(t *testing.T) {
	ev := owned("same", at(10, 0), 45)
	res, err := DetectConflicts(ConflictQuery{
		ProposedStart:           ev.StartTime,
		ProposedDurationMinutes: ev.DurationMinutes,
		CandidateEvents:         []Event{ev},
	})
	require.NoError(t, err)
	require.True(t, res.HasConflict)
	require.Len(t, res.ConflictingEvents, 1)
	assert.Equal(t, "same", res.ConflictingEvents[0].ID)
	assert.Equal(t, "event same", res.ConflictingEvents[0].Title)
	assert.Equal(t, SourceOwned, res.ConflictingEvents[0].Source)
}

func TestDetectConflicts_CompletedEventsAreInert(t *testing.T) {
	events := []Event{
		owned("a", at(14, 0), 60),
		owned("b", at(13, 30), 120),
		{ID: "c", StartTime: at(14, 15), Source: SourceSynced},
	}
	for i := range events {
		events[i].IsCompleted = true
	}

	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(14, 0), ProposedDurationMinutes: 60, CandidateEvents: events})
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
	assert.Empty(t, res.ConflictingEvents)
	assert.Empty(t, res.AlternativeSlots)
}

func TestDetectConflicts_HalfOpenBoundary(t *testing.T) {
	events := []Event{owned("before", at(9, 0), 60)}

	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(10, 0), ProposedDurationMinutes: 30, CandidateEvents: events})
	require.NoError(t, err)
	assert.False(t, res.HasConflict, "back-to-back must not conflict")

	res, err = DetectConflicts(ConflictQuery{ProposedStart: at(9, 59), ProposedDurationMinutes: 30, CandidateEvents: events})
	require.NoError(t, err)
	assert.True(t, res.HasConflict, "one minute of overlap must conflict")

	// The proposal ending exactly when the event starts is also clear.
	res, err = DetectConflicts(ConflictQuery{ProposedStart: at(8, 0), ProposedDurationMinutes: 60, CandidateEvents: events})
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
}

func TestDetectConflicts_DefaultsMissingDurations(t *testing.T) {
	// An event with no duration occupies an hour.
	events := []Event{{ID: "open", StartTime: at(12, 0), Source: SourceSynced}}

	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(12, 45), CandidateEvents: events})
	require.NoError(t, err)
	require.True(t, res.HasConflict)
	assert.Equal(t, DefaultDurationMinutes, res.ConflictingEvents[0].DurationMinutes)
	assert.Equal(t, SourceSynced, res.ConflictingEvents[0].Source)

	res, err = DetectConflicts(ConflictQuery{ProposedStart: at(13, 0), CandidateEvents: events})
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
}

func TestDetectConflicts_NoEvents(t *testing.T) {
	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(9, 0)})
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
	assert.NotNil(t, res.AlternativeSlots)
	assert.Empty(t, res.AlternativeSlots)
}

func TestDetectConflicts_EventsOnOtherDaysIgnored(t *testing.T) {
	events := []Event{
		owned("yesterday", at(14, 0).AddDate(0, 0, -1), 60),
		owned("tomorrow", at(14, 0).AddDate(0, 0, 1), 60),
	}
	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(14, 0), CandidateEvents: events})
	require.NoError(t, err)
	assert.False(t, res.HasConflict)
}

func TestDetectConflicts_PreservesInputOrder(t *testing.T) {
	events := []Event{
		owned("late", at(10, 30), 60),
		owned("free", at(8, 0), 30),
		owned("early", at(9, 30), 60),
	}
	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(10, 0), ProposedDurationMinutes: 60, CandidateEvents: events})
	require.NoError(t, err)
	require.Len(t, res.ConflictingEvents, 2)
	assert.Equal(t, "late", res.ConflictingEvents[0].ID)
	assert.Equal(t, "early", res.ConflictingEvents[1].ID)
}

func TestDetectConflicts_DenseScheduleHasNoAlternatives(t *testing.T) {
	events := make([]Event, 0, 8)
	for i := 0; i < 8; i++ {
		events = append(events, owned("block", at(9, 0).Add(time.Duration(i)*30*time.Minute), 30))
	}

	res, err := DetectConflicts(ConflictQuery{
		ProposedStart:           at(9, 0),
		ProposedDurationMinutes: 60,
		CandidateEvents:         events,
		Now:                     at(9, 0),
	})
	require.NoError(t, err)
	assert.True(t, res.HasConflict)
	assert.Empty(t, res.AlternativeSlots)
	assert.Equal(t, noAlternativesAdvice, res.Advice())
}

func TestDetectConflicts_WindowDoesNotWiden(t *testing.T) {
	// Busy from 08:00 to 13:00 covers every slot in [08:00, 13:00].
	events := make([]Event, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, owned("block", at(8, 0).Add(time.Duration(i)*30*time.Minute), 30))
	}
	events = append(events, owned("free-later", at(15, 0), 30))

	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(9, 0), ProposedDurationMinutes: 60, CandidateEvents: events})
	require.NoError(t, err)
	assert.True(t, res.HasConflict)
	assert.Empty(t, res.AlternativeSlots)
}

func TestDetectConflicts_SkipsSlotsInThePast(t *testing.T) {
	events := []Event{owned("e1", at(14, 0), 180)}

	res, err := DetectConflicts(ConflictQuery{
		ProposedStart:           at(14, 0),
		ProposedDurationMinutes: 60,
		CandidateEvents:         events,
		Now:                     at(13, 45),
	})
	require.NoError(t, err)
	require.True(t, res.HasConflict)
	for _, slot := range res.AlternativeSlots {
		assert.False(t, slot.Start.Before(at(13, 45)), "slot %s is in the past", slot.Start)
	}
	require.NotEmpty(t, res.AlternativeSlots)
	assert.Equal(t, at(17, 0), res.AlternativeSlots[0].Start)

	res, err = DetectConflicts(ConflictQuery{ProposedStart: at(14, 0), ProposedDurationMinutes: 60, CandidateEvents: events})
	require.NoError(t, err)
	require.NotEmpty(t, res.AlternativeSlots)
	assert.Equal(t, at(13, 0), res.AlternativeSlots[0].Start)
	assert.Equal(t, "1 hr earlier", res.AlternativeSlots[0].RelativeLabel)
}

func TestDetectConflicts_AlternativesNeverConflict(t *testing.T) {
	events := []Event{
		owned("a", at(10, 0), 60),
		owned("b", at(11, 30), 30),
		owned("c", at(12, 30), 30),
		{ID: "d", StartTime: at(11, 0), DurationMinutes: 30, IsCompleted: true},
		{ID: "e", StartTime: at(9, 0), Source: SourceSynced},
	}
	q := ConflictQuery{ProposedStart: at(10, 30), ProposedDurationMinutes: 45, CandidateEvents: events}

	res, err := DetectConflicts(q)
	require.NoError(t, err)
	require.True(t, res.HasConflict)
	require.NotEmpty(t, res.AlternativeSlots)

	for _, slot := range res.AlternativeSlots {
		recheck, err := DetectConflicts(ConflictQuery{
			ProposedStart:           slot.Start,
			ProposedDurationMinutes: q.ProposedDurationMinutes,
			CandidateEvents:         events,
		})
		require.NoError(t, err)
		assert.False(t, recheck.HasConflict, "slot %s conflicts", slot.Label)
	}
}

func TestDetectConflicts_ProximityOrdering(t *testing.T) {
	events := []Event{owned("a", at(12, 0), 60), owned("b", at(13, 30), 30)}
	q := ConflictQuery{ProposedStart: at(12, 0), ProposedDurationMinutes: 30, CandidateEvents: events}

	res, err := Resolver{MaxAlternatives: 10}.DetectConflicts(q)
	require.NoError(t, err)
	require.True(t, len(res.AlternativeSlots) > 1)

	prev := time.Duration(-1)
	for _, slot := range res.AlternativeSlots {
		d := absDuration(slot.Start.Sub(q.ProposedStart))
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestDetectConflicts_TiePrefersLaterSlot(t *testing.T) {
	events := []Event{owned("a", at(12, 0), 30)}
	res, err := DetectConflicts(ConflictQuery{ProposedStart: at(12, 0), ProposedDurationMinutes: 30, CandidateEvents: events})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.AlternativeSlots), 2)
	assert.Equal(t, 30, res.AlternativeSlots[0].OffsetMinutes)
	assert.Equal(t, -30, res.AlternativeSlots[1].OffsetMinutes)
	assert.Equal(t, "30 min earlier", res.AlternativeSlots[1].RelativeLabel)
}

func TestDetectConflicts_Deterministic(t *testing.T) {
	events := []Event{owned("a", at(10, 0), 90), owned("b", at(12, 0), 30), owned("c", at(8, 0), 60)}
	q := ConflictQuery{ProposedStart: at(10, 30), ProposedDurationMinutes: 60, CandidateEvents: events, Now: at(7, 0)}

	first, err := DetectConflicts(q)
	require.NoError(t, err)
	second, err := DetectConflicts(q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetectConflicts_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		query ConflictQuery
		field string
	}{
		{"zero start", ConflictQuery{}, "proposed_start"},
		{"negative duration", ConflictQuery{ProposedStart: at(9, 0), ProposedDurationMinutes: -15}, "proposed_duration_minutes"},
		{"event without start", ConflictQuery{ProposedStart: at(9, 0), CandidateEvents: []Event{{ID: "x"}}}, "candidate_events[0].start_time"},
		{"event negative duration", ConflictQuery{ProposedStart: at(9, 0), CandidateEvents: []Event{owned("x", at(9, 0), -1)}}, "candidate_events[0].duration_minutes"},
		{"duration beyond a week", ConflictQuery{ProposedStart: at(13, 0), ProposedDurationMinutes: 200_000_000, CandidateEvents: []Event{owned("x", at(14, 0), 60)}}, "proposed_duration_minutes"},
		{"event duration beyond a week", ConflictQuery{ProposedStart: at(9, 0), CandidateEvents: []Event{owned("x", at(8, 0), MaxDurationMinutes+1)}}, "candidate_events[0].duration_minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectConflicts(tt.query)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFindAlternativeSlots_NoConflictsNoSlots(t *testing.T) {
	slots, err := FindAlternativeSlots(ConflictQuery{ProposedStart: at(9, 0)}, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestFindAlternativeSlots_RespectsResolverSettings(t *testing.T) {
	events := []Event{owned("a", at(9, 0), 60)}
	q := ConflictQuery{ProposedStart: at(9, 0), ProposedDurationMinutes: 60, CandidateEvents: events}
	conflicts := []ConflictingEvent{{ID: "a"}}

	r := Resolver{SearchBefore: -1, SearchAfter: 2 * time.Hour, Step: 15 * time.Minute, MaxAlternatives: 2}
	slots, err := r.FindAlternativeSlots(q, conflicts)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, at(10, 0), slots[0].Start)
	assert.Equal(t, at(10, 15), slots[1].Start)
}

func TestSlotLabel_OtherDay(t *testing.T) {
	proposed := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "Sun Jun 2 12:30 AM", slotLabel(proposed, proposed.Add(time.Hour)))
	assert.Equal(t, "11:00 PM", slotLabel(proposed, proposed.Add(-30*time.Minute)))
}

func TestSlotLabel_UsesProposalLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	proposed := time.Date(2024, 6, 1, 14, 0, 0, 0, loc)
	assert.Equal(t, "3:00 PM", slotLabel(proposed, proposed.Add(time.Hour).UTC()))
}

func TestRelativeLabel(t *testing.T) {
	assert.Equal(t, "30 min later", relativeLabel(30*time.Minute))
	assert.Equal(t, "2 hr later", relativeLabel(2*time.Hour))
	assert.Equal(t, "1 hr 30 min earlier", relativeLabel(-90*time.Minute))
}

func TestInterval_Overlaps(t *testing.T) {
	a := NewInterval(at(9, 0), 60)
	assert.True(t, a.Overlaps(NewInterval(at(9, 30), 60)))
	assert.True(t, a.Overlaps(NewInterval(at(8, 0), 180)))
	assert.False(t, a.Overlaps(NewInterval(at(10, 0), 60)))
	assert.False(t, a.Overlaps(NewInterval(at(8, 0), 60)))
}

func TestResolver_SearchWindow(t *testing.T) {
	w := DefaultResolver().SearchWindow(at(12, 0), 0)
	assert.Equal(t, at(11, 0), w.Start)
	assert.Equal(t, at(16, 0), w.End)

	// a proposal longer than the forward window may start up to four hours
	// later, so the window covers that start plus its length
	long := Resolver{}.SearchWindow(at(12, 0), 300)
	assert.Equal(t, at(21, 0), long.End)
}

func TestDetectConflicts_LongProposalStillGetsAlternatives(t *testing.T) {
	events := []Event{owned("standup", at(9, 0), 30)}

	result, err := DetectConflicts(ConflictQuery{ProposedStart: at(9, 0), ProposedDurationMinutes: 360, CandidateEvents: events})
	require.NoError(t, err)
	require.True(t, result.HasConflict)
	require.Len(t, result.AlternativeSlots, 3)
	assert.Equal(t, at(9, 30), result.AlternativeSlots[0].Start)
	assert.Equal(t, at(15, 30), result.AlternativeSlots[0].End)
	assert.Equal(t, at(10, 0), result.AlternativeSlots[1].Start)
	assert.Equal(t, at(10, 30), result.AlternativeSlots[2].Start)

	window := DefaultResolver().SearchWindow(at(9, 0), 360)
	for _, slot := range result.AlternativeSlots {
		assert.False(t, slot.Start.Before(window.Start))
		assert.False(t, slot.End.After(window.End))
	}
}

func TestDetectConflicts_MaxDurationIsAccepted(t *testing.T) {
	result, err := DetectConflicts(ConflictQuery{
		ProposedStart:           at(13, 0),
		ProposedDurationMinutes: MaxDurationMinutes,
		CandidateEvents:         []Event{owned("x", at(14, 0), 60)},
	})
	require.NoError(t, err)
	assert.True(t, result.HasConflict)
}
