package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schedulr/project/internal/scheduling"
)

func TestLoad_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "schedulr.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIAddr, cfg.API.Listen)
	assert.Equal(t, time.Hour, cfg.Scheduling.SearchBefore)
	assert.Equal(t, 4*time.Hour, cfg.Scheduling.SearchAfter)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_ReadsYAMLAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedulr.yaml")
	body := `
log_level: debug
api:
  listen: ":9090"
scheduling:
  search_after: 2h
  step: 15m
  max_alternatives: 5
sync:
  cron: "0 * * * *"
  feeds:
    - id: work
      user_id: u1
      url: https://calendar.example.com/work.ics
database:
  min_conns: 50
  max_conns: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.Equal(t, 2*time.Hour, cfg.Scheduling.SearchAfter)
	assert.Equal(t, 15*time.Minute, cfg.Scheduling.Step)
	assert.Equal(t, time.Hour, cfg.Scheduling.SearchBefore)
	assert.Equal(t, 10, cfg.Database.MinConns)
	require.Len(t, cfg.Sync.Feeds, 1)
	assert.Equal(t, "u1", cfg.Sync.Feeds[0].UserID)

	r := cfg.Resolver()
	assert.Equal(t, 5, r.MaxAlternatives)
	assert.Equal(t, 15*time.Minute, r.Step)
}

func TestLoad_NegativeSearchBeforeDisablesBackwardSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedulr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduling:\n  search_before: -1m\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, -time.Minute, cfg.Scheduling.SearchBefore)

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	result, err := cfg.Resolver().DetectConflicts(scheduling.ConflictQuery{
		ProposedStart:           start,
		ProposedDurationMinutes: 60,
		CandidateEvents: []scheduling.Event{
			{ID: "e1", StartTime: start, DurationMinutes: 60},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.AlternativeSlots)
	for _, slot := range result.AlternativeSlots {
		assert.True(t, slot.OffsetMinutes > 0, "unexpected earlier slot %+v", slot)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://other/db")
	t.Setenv("SCHEDULE_API_ADDR", ":7000")
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	t.Setenv("GUEST_STARTING_CREDITS", "9")
	t.Setenv("METRICS_ADDR", ":9191")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://other/db", cfg.Database.URL)
	assert.Equal(t, ":7000", cfg.API.Listen)
	assert.Equal(t, 10*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, 9, cfg.Guest.StartingCredits)
	assert.Equal(t, ":9191", cfg.MetricsListen)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedulr.yaml")
	cfg := DefaultConfig()
	cfg.Sync.Feeds = append(cfg.Sync.Feeds, FeedConfig{ID: "home", UserID: "u2", URL: "https://example.com/h.ics"})
	cfg.Scheduling.Step = 20 * time.Minute

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sync.Feeds, loaded.Sync.Feeds)
	assert.Equal(t, 20*time.Minute, loaded.Scheduling.Step)
}

func TestSave_RejectsEmptyPath(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save("x.yaml", nil))
}
