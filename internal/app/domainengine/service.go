package domainengine

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/schedulr/project/internal/contracts"
	"github.com/schedulr/project/internal/scheduling"
	"github.com/schedulr/project/internal/sharding"
)

var ErrInvalidCommandPayload = errors.New("invalid command payload")

// ErrUnsupportedCommandAction prevents unknown write-model transitions.
var ErrUnsupportedCommandAction = errors.New("unsupported command action")

type PublishFunc func(subject string, payload []byte) error

type Service struct {
	Publish PublishFunc
	Now     func() time.Time
	NewID   func() string
}

func NewService(publish PublishFunc) *Service {
	return &Service{
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

// Handle turns one schedule command into its domain event and publishes it
// on the user's event subject. It returns the produced event type.
func (s *Service) Handle(commandSubject string, commandPayload []byte) (string, error) {
	var cmd contracts.ScheduleCommand
	if err := json.Unmarshal(commandPayload, &cmd); err != nil {
		return "", ErrInvalidCommandPayload
	}
	if strings.TrimSpace(cmd.ActorUserID) == "" || strings.TrimSpace(cmd.EventID) == "" {
		return "", ErrInvalidCommandPayload
	}

	eventType, err := mapEventType(cmd.Action)
	if err != nil {
		return "", err
	}
	if (eventType == contracts.EventScheduled || eventType == contracts.EventRescheduled) && cmd.StartTime.IsZero() {
		return "", ErrInvalidCommandPayload
	}
	if scheduling.ValidateDuration("duration_minutes", cmd.DurationMinutes) != nil {
		return "", ErrInvalidCommandPayload
	}

	event := contracts.ScheduleEvent{
		MessageID:       s.NewID(),
		CommandID:       cmd.CommandID,
		EventID:         cmd.EventID,
		UserID:          cmd.ActorUserID,
		ActorName:       cmd.ActorName,
		EventType:       eventType,
		Title:           cmd.Title,
		StartTime:       cmd.StartTime,
		DurationMinutes: cmd.DurationMinutes,
		AllowOverlap:    cmd.AllowOverlap,
		OccurredAt:      s.Now(),
		ShardID:         sharding.ShardFromSubject(cmd.ActorUserID, commandSubject),
	}

	eventPayload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	if err := s.Publish(sharding.EventSubject(event.ShardID, event.UserID), eventPayload); err != nil {
		return "", err
	}
	return eventType, nil
}

func mapEventType(action string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(action)) {
	case contracts.ActionSchedule:
		return contracts.EventScheduled, nil
	case contracts.ActionReschedule:
		return contracts.EventRescheduled, nil
	case contracts.ActionComplete:
		return contracts.EventCompleted, nil
	case contracts.ActionDelete:
		return contracts.EventDeleted, nil
	default:
		return "", ErrUnsupportedCommandAction
	}
}
