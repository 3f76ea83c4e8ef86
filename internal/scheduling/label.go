package scheduling

import (
	"strconv"
	"strings"
	"time"
)

const (
	sameDayLayout  = "3:04 PM"
	otherDayLayout = "Mon Jan 2 3:04 PM"
)

// slotLabel formats start in the proposal's location. Slots on the proposal's
// calendar day only show the time of day.
func slotLabel(proposed, start time.Time) string {
	start = start.In(proposed.Location())
	py, pm, pd := proposed.Date()
	sy, sm, sd := start.Date()
	if py == sy && pm == sm && pd == sd {
		return start.Format(sameDayLayout)
	}
	return start.Format(otherDayLayout)
}

// relativeLabel renders an offset such as "30 min later" or "1 hr 30 min earlier".
func relativeLabel(offset time.Duration) string {
	direction := "later"
	if offset < 0 {
		direction = "earlier"
		offset = -offset
	}
	total := int(offset / time.Minute)
	hours, minutes := total/60, total%60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+" hr")
	}
	if minutes > 0 || hours == 0 {
		parts = append(parts, strconv.Itoa(minutes)+" min")
	}
	parts = append(parts, direction)
	return strings.Join(parts, " ")
}
