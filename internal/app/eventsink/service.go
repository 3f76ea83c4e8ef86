package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/schedulr/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

type Repository interface {
	ApplyEvent(ctx context.Context, event contracts.ScheduleEvent, eventSeq uint64) error
}

type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

// Handle decodes one domain event and applies it at eventSeq. It returns the
// decoded event type so callers can label outcomes.
func (s *Service) Handle(ctx context.Context, payload []byte, eventSeq uint64) (string, error) {
	var event contracts.ScheduleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", ErrInvalidEventPayload
	}
	if strings.TrimSpace(event.MessageID) == "" || strings.TrimSpace(event.UserID) == "" || strings.TrimSpace(event.EventID) == "" {
		return event.EventType, ErrInvalidEventPayload
	}
	return event.EventType, s.Repository.ApplyEvent(ctx, event, eventSeq)
}
