package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulr/project/internal/scheduling"
)

const reviewICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//schedulr//ctl test//EN
BEGIN:VEVENT
UID:review@example.com
DTSTAMP:20260301T000000Z
SUMMARY:Design review
DTSTART:20260302T130000Z
DTEND:20260302T143000Z
END:VEVENT
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260301T000000Z
SUMMARY:Standup
DTSTART:20260302T090000Z
DTEND:20260302T091500Z
RRULE:FREQ=DAILY;COUNT=3
END:VEVENT
END:VCALENDAR
`

func TestCheckICS_Conflict(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	result, err := checkICS([]byte(reviewICS), scheduling.DefaultResolver(), start, 60, time.Time{})
	require.NoError(t, err)
	assert.True(t, result.HasConflict)
	require.Len(t, result.ConflictingEvents, 1)
	assert.Equal(t, "Design review", result.ConflictingEvents[0].Title)

	labels := make([]string, 0, len(result.AlternativeSlots))
	for _, slot := range result.AlternativeSlots {
		labels = append(labels, slot.Label)
	}
	assert.Equal(t, []string{"2:30 PM", "3:00 PM", "3:30 PM"}, labels)
}

func TestCheckICS_ClearSlot(t *testing.T) {
	start := time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC)

	result, err := checkICS([]byte(reviewICS), scheduling.DefaultResolver(), start, 30, time.Time{})
	require.NoError(t, err)
	assert.False(t, result.HasConflict)
	assert.Empty(t, result.AlternativeSlots)
}

func TestParseCLITime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	local, err := parseCLITime("2026-03-02T09:30", ny)
	require.NoError(t, err)
	assert.True(t, local.Equal(time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)))

	abs, err := parseCLITime("2026-03-02T14:30:00Z", ny)
	require.NoError(t, err)
	assert.Equal(t, ny, abs.Location())

	_, err = parseCLITime("tomorrow", ny)
	assert.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	result, err := checkICS([]byte(reviewICS), scheduling.DefaultResolver(), start, 60, time.Time{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, result, time.UTC))
	out := buf.String()
	assert.Contains(t, out, "conflicts with 1 event(s)")
	assert.Contains(t, out, "Design review  1:00PM - 2:30PM")
	assert.Contains(t, out, "2:30 PM (30 min later)")

	buf.Reset()
	require.NoError(t, writeResult(&buf, scheduling.ConflictResult{}, time.UTC))
	assert.Equal(t, "no conflicts\n", buf.String())
}

func TestCheckCommand_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.ics")
	require.NoError(t, os.WriteFile(path, []byte(reviewICS), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", path, "--start", "2026-03-02T14:00", "--timezone", "UTC", "--json"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		checkJSON = false
	})
	require.NoError(t, rootCmd.Execute())

	var result scheduling.ConflictResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.HasConflict)
	assert.Len(t, result.AlternativeSlots, 3)
}

func TestCheckICS_RejectsOversizedDuration(t *testing.T) {
	start := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)

	_, err := checkICS([]byte(reviewICS), scheduling.DefaultResolver(), start, 200_000_000, time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scheduling.ErrValidation))
}

func TestCheckCommand_ExplicitZeroDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.ics")
	require.NoError(t, os.WriteFile(path, []byte(reviewICS), 0o600))

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"check", path, "--start", "2026-03-02T14:00", "--timezone", "UTC", "--duration", "0"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		checkDuration = 0
		checkCmd.Flags().Lookup("duration").Changed = false
	})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--duration")
}
