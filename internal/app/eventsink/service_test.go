package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/schedulr/project/internal/app/eventstore"
	"github.com/schedulr/project/internal/contracts"
)

type fakeRepository struct {
	gotEvent contracts.ScheduleEvent
	gotSeq   uint64
	calls    int
	err      error
}

func (f *fakeRepository) ApplyEvent(_ context.Context, event contracts.ScheduleEvent, eventSeq uint64) error {
	f.gotEvent = event
	f.gotSeq = eventSeq
	f.calls++
	return f.err
}

func validEvent() contracts.ScheduleEvent {
	return contracts.ScheduleEvent{
		MessageID:       "msg-1",
		CommandID:       "cmd-1",
		EventID:         "evt-1",
		UserID:          "user-1",
		ActorName:       "alice",
		EventType:       contracts.EventScheduled,
		Title:           "Standup",
		StartTime:       time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 15,
		ShardID:         532,
		OccurredAt:      time.Now().UTC(),
	}
}

func TestHandle_ValidEvent(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	payload, _ := json.Marshal(validEvent())

	eventType, err := svc.Handle(context.Background(), payload, 42)
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if eventType != contracts.EventScheduled {
		t.Fatalf("unexpected event type %q", eventType)
	}
	if repo.gotEvent.EventID != "evt-1" || repo.gotEvent.Title != "Standup" || repo.gotEvent.DurationMinutes != 15 {
		t.Fatalf("unexpected event in repository: %+v", repo.gotEvent)
	}
	if repo.gotSeq != 42 {
		t.Fatalf("expected event sequence 42, got %d", repo.gotSeq)
	}
}

func TestHandle_InvalidPayload(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)
	_, err := svc.Handle(context.Background(), []byte("{invalid"), 1)
	if !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestHandle_MissingIdentifiers(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	event := validEvent()
	event.UserID = " "
	payload, _ := json.Marshal(event)

	_, err := svc.Handle(context.Background(), payload, 1)
	if !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("repository should not be called, got %d calls", repo.calls)
	}
}

func TestHandle_PropagatesSlotTaken(t *testing.T) {
	repo := &fakeRepository{err: eventstore.ErrSlotTaken}
	svc := NewService(repo)

	payload, _ := json.Marshal(validEvent())
	_, err := svc.Handle(context.Background(), payload, 7)
	if !errors.Is(err, eventstore.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}
