package models

import "time"

// EventType identifies a pub/sub event
type EventType string

const (
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventLinkProgress EventType = "link.progress"
)

// Event is the payload published to subscribers (websocket clients,
// in-process listeners) while jobs and bulk links advance.
type Event struct {
	Type      EventType              `json:"type"`
	JobID     string                 `json:"job_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
