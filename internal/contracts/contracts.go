package contracts

import "time"

// Command actions accepted by the schedule API.
const (
	ActionSchedule   = "schedule-event"
	ActionReschedule = "reschedule-event"
	ActionComplete   = "complete-event"
	ActionDelete     = "delete-event"
)

// Domain event types produced by the domain engine.
const (
	EventScheduled   = "event.scheduled"
	EventRescheduled = "event.rescheduled"
	EventCompleted   = "event.completed"
	EventDeleted     = "event.deleted"
)

// ScheduleCommand is published by schedule-api and processed by domain-engine.
type ScheduleCommand struct {
	CommandID       string    `json:"command_id"`
	EventID         string    `json:"event_id"`
	ActorUserID     string    `json:"actor_user_id"`
	ActorName       string    `json:"actor_name"`
	Action          string    `json:"action"`
	Title           string    `json:"title,omitempty"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	AllowOverlap    bool      `json:"allow_overlap,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ScheduleEvent is published by domain-engine and consumed by event-sink.
type ScheduleEvent struct {
	MessageID       string    `json:"message_id"`
	CommandID       string    `json:"command_id"`
	EventID         string    `json:"event_id"`
	UserID          string    `json:"user_id"`
	ActorName       string    `json:"actor_name"`
	EventType       string    `json:"event_type"`
	Title           string    `json:"title,omitempty"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	AllowOverlap    bool      `json:"allow_overlap,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	ShardID         int       `json:"shard_id"`
}
