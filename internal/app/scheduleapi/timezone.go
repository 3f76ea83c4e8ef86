package scheduleapi

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/schedulr/project/internal/scheduling"
)

var localLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}

// parseStart resolves a client timestamp to an absolute instant. RFC 3339
// values carry their own offset; wall-clock values need an IANA timezone.
// The result is expressed in the timezone when one is given so that slot
// labels read in the caller's local time.
func parseStart(field, value, timezone string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &scheduling.ValidationError{Field: field, Reason: "timestamp is required"}
	}

	var loc *time.Location
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, &scheduling.ValidationError{Field: "timezone", Reason: "unknown IANA timezone " + tz}
		}
		loc = l
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		if loc != nil {
			t = t.In(loc)
		}
		return t, nil
	}

	for _, layout := range localLayouts {
		if _, err := time.Parse(layout, value); err != nil {
			continue
		}
		if loc == nil {
			return time.Time{}, &scheduling.ValidationError{Field: field, Reason: "local time requires a timezone"}
		}
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			break
		}
		return t, nil
	}
	return time.Time{}, &scheduling.ValidationError{Field: field, Reason: "expected RFC 3339 or YYYY-MM-DDTHH:MM"}
}

// parseDuration reads an optional duration_minutes field. An absent field
// means the default duration; a present one must be positive and bounded.
func parseDuration(field string, value *int) (int, error) {
	if value == nil {
		return 0, nil
	}
	if *value <= 0 {
		return 0, &scheduling.ValidationError{Field: field, Reason: "must be positive"}
	}
	if err := scheduling.ValidateDuration(field, *value); err != nil {
		return 0, err
	}
	return *value, nil
}
