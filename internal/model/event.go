package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventServiceStart     EventType = "service_start"
	EventServiceStop      EventType = "service_stop"
	EventTaskScheduled    EventType = "task_scheduled"
	EventTaskUnscheduled  EventType = "task_unscheduled"
	EventTaskExecuted     EventType = "task_executed"
	EventTaskFailed       EventType = "task_failed"
	EventJobCreated       EventType = "job_created"
	EventJobUpdated       EventType = "job_updated"
	EventJobDeleted       EventType = "job_deleted"
	EventCleanupCompleted EventType = "cleanup_completed"
)

// Event is one row of the append-only lifecycle audit trail.
type Event struct {
	ID         string          `json:"id"`
	InstanceID string          `json:"instance_id"`
	Type       EventType       `json:"event_type"`
	Message    string          `json:"message"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// NewEvent stamps a fresh id and the current time. A payload that fails to marshal is dropped.
func NewEvent(instanceID string, typ EventType, message string, payload any) Event {
	ev := Event{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Type:       typ,
		Message:    message,
		Timestamp:  time.Now().UTC().Unix(),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}
