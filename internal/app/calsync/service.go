package calsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "github.com/schedulr/project/internal/log"
	"github.com/schedulr/project/internal/platform/config"
	"github.com/schedulr/project/internal/scheduling"
)

type FeedFetcher interface {
	Fetch(ctx context.Context, feedID, rawURL string) (FetchResult, error)
}

type Store interface {
	ReplaceSyncedEvents(ctx context.Context, userID, sourceID string, events []scheduling.Event) (int, error)
}

// Service mirrors ICS feeds into users' calendars as synced events.
type Service struct {
	Fetcher FeedFetcher
	Store   Store
	Now     func() time.Time

	HorizonDays            int
	BackfillDays           int
	MaxOccurrencesPerEvent int

	// OnSync, when set, observes the outcome of every feed sync.
	OnSync func(feedID string, stored int, err error)
}

func NewService(fetcher FeedFetcher, store Store, cfg config.SyncConfig) *Service {
	return &Service{
		Fetcher:                fetcher,
		Store:                  store,
		Now:                    func() time.Time { return time.Now().UTC() },
		HorizonDays:            cfg.HorizonDays,
		BackfillDays:           cfg.BackfillDays,
		MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent,
	}
}

// SyncFeed fetches, parses and expands one feed, then replaces the feed's
// stored occurrences. Nothing is replaced when any step before storing fails,
// so a broken feed never wipes a user's synced events.
func (s *Service) SyncFeed(ctx context.Context, feed config.FeedConfig) (stored int, err error) {
	defer func() {
		if s.OnSync != nil {
			s.OnSync(feed.ID, stored, err)
		}
	}()

	if strings.TrimSpace(feed.ID) == "" || strings.TrimSpace(feed.UserID) == "" {
		return 0, errors.New("feed id and user id are required")
	}

	fetched, err := s.Fetcher.Fetch(ctx, feed.ID, feed.URL)
	if err != nil {
		return 0, fmt.Errorf("fetch feed %s: %w", feed.ID, err)
	}
	parsed, err := ParseICS(feed.ID, fetched.Body)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}

	now := s.Now()
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		RangeStart:             now.AddDate(0, 0, -s.BackfillDays),
		RangeEnd:               now.AddDate(0, 0, s.horizonDays()),
		MaxOccurrencesPerEvent: s.MaxOccurrencesPerEvent,
	})
	if err != nil {
		return 0, fmt.Errorf("expand feed %s: %w", feed.ID, err)
	}

	events := ToEvents(expanded.Occurrences)
	stored, err = s.Store.ReplaceSyncedEvents(ctx, feed.UserID, feed.ID, events)
	if err != nil {
		return 0, fmt.Errorf("store feed %s: %w", feed.ID, err)
	}
	appLog.Info("feed synced",
		"feed", feed.ID,
		"user_id", feed.UserID,
		"from_cache", fetched.FromCache,
		"occurrences", len(expanded.Occurrences),
		"stored", stored,
	)
	return stored, nil
}

// SyncAll syncs every feed, continuing past failures, and joins their errors.
func (s *Service) SyncAll(ctx context.Context, feeds []config.FeedConfig) error {
	var errs []error
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if _, err := s.SyncFeed(ctx, feed); err != nil {
			appLog.Error("feed sync failed", err, "feed", feed.ID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) horizonDays() int {
	if s.HorizonDays <= 0 {
		return 30
	}
	return s.HorizonDays
}

// ToEvents maps occurrences to synced scheduling events. All-day and
// zero-length occurrences are dropped since they block no time. Longer
// occurrences are clipped to scheduling.MaxDurationMinutes.
func ToEvents(occurrences []Occurrence) []scheduling.Event {
	events := make([]scheduling.Event, 0, len(occurrences))
	seen := make(map[string]struct{}, len(occurrences))
	for _, occ := range occurrences {
		if occ.AllDay {
			continue
		}
		minutes := int((occ.End.Sub(occ.Start) + time.Minute - 1) / time.Minute)
		if minutes <= 0 {
			continue
		}
		minutes = min(minutes, scheduling.MaxDurationMinutes)
		key := occ.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		events = append(events, scheduling.Event{
			ID:              key,
			Title:           occ.Summary,
			StartTime:       occ.Start.UTC(),
			DurationMinutes: minutes,
			Source:          scheduling.SourceSynced,
		})
	}
	return events
}
