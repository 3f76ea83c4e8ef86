package calsync

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/schedulr/project/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Occurrence is one concrete instance of a feed event.
type Occurrence struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
}

// Key identifies the instance within its feed across syncs.
func (o Occurrence) Key() string {
	return o.UID + "@" + o.Start.UTC().Format("20060102T150405Z")
}

type ExpandConfig struct {
	RangeStart             time.Time
	RangeEnd               time.Time
	MaxOccurrencesPerEvent int
}

type ExpandResult struct {
	Occurrences []Occurrence
	// TruncatedUIDs lists series that hit MaxOccurrencesPerEvent.
	TruncatedUIDs []string
}

// ExpandOccurrences expands parsed events into the occurrences that overlap
// [RangeStart, RangeEnd). EXDATEs remove instances, RECURRENCE-ID overrides
// replace them and cancelled instances are dropped. Output is ordered by start.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return result, errors.New("expand: range end must be after range start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := bases[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	result.Occurrences = make([]Occurrence, 0)
	for _, uid := range uids {
		truncated := false
		for _, ev := range bases[uid] {
			if ev.Cancelled {
				continue
			}
			var occ []Occurrence
			if ev.RawRRule == "" {
				occ = expandSingle(ev, overrides[uid], cfg)
			} else {
				var hitCap bool
				occ, hitCap = expandRecurring(ev, overrides[uid], cfg)
				truncated = truncated || hitCap
			}
			result.Occurrences = append(result.Occurrences, occ...)
		}
		if truncated {
			result.TruncatedUIDs = append(result.TruncatedUIDs, uid)
			appLog.Warn("recurrence truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(result.Occurrences, func(i, j int) bool {
		return result.Occurrences[i].Start.Before(result.Occurrences[j].Start)
	})
	return result, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []Occurrence {
	occ, ok := resolveInstance(ev, overrides, ev.Start, ev.End)
	if !ok || !inRange(occ, cfg) {
		return nil
	}
	return []Occurrence{occ}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]Occurrence, bool) {
	rule, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	rule.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	duration := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-duration).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		occ, ok := resolveInstance(ev, overrides, start, start.Add(duration))
		if !ok || !inRange(occ, cfg) {
			continue
		}
		out = append(out, occ)
	}
	return out, hitCap
}

// resolveInstance applies the override whose RECURRENCE-ID matches start.
// It reports false when the instance was cancelled.
func resolveInstance(base ParsedEvent, overrides []ParsedEvent, start, end time.Time) (Occurrence, bool) {
	ev := base
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			ev, start, end = ov, ov.Start, ov.End
			break
		}
	}
	if ev.Cancelled {
		return Occurrence{}, false
	}
	return Occurrence{
		UID:     base.UID,
		Summary: ev.Summary,
		Start:   start,
		End:     end,
		AllDay:  ev.AllDay,
	}, true
}

func inRange(o Occurrence, cfg ExpandConfig) bool {
	return o.Start.Before(cfg.RangeEnd) && o.End.After(cfg.RangeStart)
}
