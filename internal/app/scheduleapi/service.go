package scheduleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/schedulr/project/internal/app/eventstore"
	"github.com/schedulr/project/internal/app/guestcredit"
	"github.com/schedulr/project/internal/contracts"
	"github.com/schedulr/project/internal/scheduling"
	"github.com/schedulr/project/internal/sharding"
)

var ErrEventIDRequired = errors.New("event_id is required")
var ErrUnsupportedAction = errors.New("unsupported action")
var ErrSyncedReadOnly = errors.New("synced events are read-only")

// ConflictError rejects a schedule or reschedule command whose time overlaps
// existing events. Result carries the conflicts and alternatives.
type ConflictError struct {
	Result scheduling.ConflictResult
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("proposed time conflicts with %d event(s)", len(e.Result.ConflictingEvents))
}

type PublishFunc func(subject string, payload []byte) error

type EventReader interface {
	ListEventsInWindow(ctx context.Context, userID string, from, to time.Time) ([]scheduling.Event, error)
	GetEvent(ctx context.Context, eventID string) (eventstore.StoredEvent, error)
}

type CreditCharger interface {
	Charge(ctx context.Context, guestID string) (guestcredit.Balance, error)
}

type Service struct {
	Publish  PublishFunc
	Events   EventReader
	Credits  CreditCharger
	Resolver scheduling.Resolver
	Now      func() time.Time
	NewID    func() string
}

type Actor struct {
	UserID   string
	Username string
}

// CommandRequest is a normalized event command. Start is already resolved to
// an absolute instant.
type CommandRequest struct {
	Action          string
	EventID         string
	Title           string
	Start           time.Time
	DurationMinutes int
	AllowOverlap    bool
}

type CommandResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"command_id"`
	EventID   string `json:"event_id"`
	// Overlaps lists events the command was accepted over when
	// allow_overlap was set.
	Overlaps []scheduling.ConflictingEvent `json:"overlaps,omitempty"`
}

func NewService(publish PublishFunc, events EventReader, resolver scheduling.Resolver) *Service {
	return &Service{
		Publish:  publish,
		Events:   events,
		Resolver: resolver,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    nuid.Next,
	}
}

func normalizeAction(action string) string {
	action = strings.TrimSpace(strings.ToLower(action))
	if action == "" {
		return contracts.ActionSchedule
	}
	return action
}

// Check runs a conflict check for a user against the stored events around
// start. excludeID drops one event from the candidates, so an event being
// moved never conflicts with itself.
func (s *Service) Check(ctx context.Context, userID string, start time.Time, durationMinutes int, excludeID string) (scheduling.ConflictResult, error) {
	q := scheduling.ConflictQuery{
		ProposedStart:           start,
		ProposedDurationMinutes: durationMinutes,
		Now:                     s.Now(),
	}
	// Validate before touching the store.
	if _, err := s.Resolver.DetectConflicts(q); err != nil {
		return scheduling.ConflictResult{}, err
	}

	window := s.Resolver.SearchWindow(start, durationMinutes)
	events, err := s.Events.ListEventsInWindow(ctx, userID, window.Start, window.End)
	if err != nil {
		return scheduling.ConflictResult{}, fmt.Errorf("load candidate events: %w", err)
	}
	q.CandidateEvents = make([]scheduling.Event, 0, len(events))
	for _, ev := range events {
		if excludeID != "" && ev.ID == excludeID {
			continue
		}
		q.CandidateEvents = append(q.CandidateEvents, ev)
	}
	return s.Resolver.DetectConflicts(q)
}

// GuestCheck checks a proposal against caller-supplied events and spends one
// guest credit. Invalid input is rejected before any credit is spent.
func (s *Service) GuestCheck(ctx context.Context, guestID string, q scheduling.ConflictQuery) (scheduling.ConflictResult, guestcredit.Balance, error) {
	q.Now = s.Now()
	result, err := s.Resolver.DetectConflicts(q)
	if err != nil {
		return scheduling.ConflictResult{}, guestcredit.Balance{}, err
	}
	if s.Credits == nil {
		return scheduling.ConflictResult{}, guestcredit.Balance{}, errors.New("guest credits are not configured")
	}
	balance, err := s.Credits.Charge(ctx, guestID)
	if err != nil {
		return scheduling.ConflictResult{}, balance, err
	}
	return result, balance, nil
}

// Accept validates a command, runs the conflict check for time-changing
// actions and publishes it on the actor's command subject.
func (s *Service) Accept(ctx context.Context, actor Actor, req CommandRequest) (CommandResponse, error) {
	action := normalizeAction(req.Action)
	eventID := strings.TrimSpace(req.EventID)
	title := strings.TrimSpace(req.Title)
	duration := req.DurationMinutes

	var overlaps []scheduling.ConflictingEvent
	switch action {
	case contracts.ActionSchedule:
		if title == "" {
			return CommandResponse{}, &scheduling.ValidationError{Field: "title", Reason: "is required"}
		}
	case contracts.ActionReschedule, contracts.ActionComplete, contracts.ActionDelete:
		if eventID == "" {
			return CommandResponse{}, ErrEventIDRequired
		}
		existing, err := s.ownedEvent(ctx, actor.UserID, eventID)
		if err != nil {
			return CommandResponse{}, err
		}
		if action == contracts.ActionReschedule {
			if title == "" {
				title = existing.Title
			}
			if duration == 0 {
				duration = existing.DurationMinutes
			}
		}
	default:
		return CommandResponse{}, ErrUnsupportedAction
	}

	if action == contracts.ActionSchedule || action == contracts.ActionReschedule {
		result, err := s.Check(ctx, actor.UserID, req.Start, duration, eventID)
		if err != nil {
			return CommandResponse{}, err
		}
		if result.HasConflict {
			if !req.AllowOverlap {
				return CommandResponse{}, &ConflictError{Result: result}
			}
			overlaps = result.ConflictingEvents
		}
	}

	commandID := s.NewID()
	if eventID == "" {
		eventID = commandID
	}
	cmd := contracts.ScheduleCommand{
		CommandID:       commandID,
		EventID:         eventID,
		ActorUserID:     actor.UserID,
		ActorName:       actor.Username,
		Action:          action,
		Title:           title,
		DurationMinutes: duration,
		AllowOverlap:    req.AllowOverlap,
		CreatedAt:       s.Now(),
	}
	if action == contracts.ActionSchedule || action == contracts.ActionReschedule {
		cmd.StartTime = req.Start.UTC()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return CommandResponse{}, err
	}
	if err := s.Publish(sharding.CommandSubject(actor.UserID), payload); err != nil {
		return CommandResponse{}, err
	}

	return CommandResponse{
		Status:    "accepted",
		CommandID: cmd.CommandID,
		EventID:   cmd.EventID,
		Overlaps:  overlaps,
	}, nil
}

// ownedEvent loads an event the actor may change. Events of other users are
// reported as missing.
func (s *Service) ownedEvent(ctx context.Context, userID, eventID string) (eventstore.StoredEvent, error) {
	ev, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return eventstore.StoredEvent{}, err
	}
	if ev.UserID != userID {
		return eventstore.StoredEvent{}, eventstore.ErrEventNotFound
	}
	if ev.Source != scheduling.SourceOwned {
		return eventstore.StoredEvent{}, ErrSyncedReadOnly
	}
	return ev, nil
}
