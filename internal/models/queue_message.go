package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the work unit.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // References jobs.id (empty for standalone tasks)
	Type    string          `json:"type"`    // Message type for handler routing
	Payload json.RawMessage `json:"payload"` // Type-specific data (passed through)
}

// Message types routed by the worker pool.
const (
	MessageTypeChunk      = "chunk"      // ChunkPayload: run one chunk of a job
	MessageTypeEnrichTask = "enrich"     // EnrichPayload: run one enrichment task
	MessageTypeFinalize   = "finalize"   // FinalizePayload: combine export fragments
)

// ChunkPayload dispatches one chunk of a job
type ChunkPayload struct {
	JobID  string `json:"job_id"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// EnrichPayload dispatches one enrichment task
type EnrichPayload struct {
	TaskID string `json:"task_id"`
}

// FinalizePayload dispatches the export finalizer for a completed job
type FinalizePayload struct {
	JobID string `json:"job_id"`
}

// NewChunkMessage builds the queue message for one chunk dispatch
func NewChunkMessage(jobID string, offset, limit int) (QueueMessage, error) {
	payload, err := json.Marshal(ChunkPayload{JobID: jobID, Offset: offset, Limit: limit})
	if err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{JobID: jobID, Type: MessageTypeChunk, Payload: payload}, nil
}

// NewEnrichMessage builds the queue message for one enrichment task
func NewEnrichMessage(taskID string) (QueueMessage, error) {
	payload, err := json.Marshal(EnrichPayload{TaskID: taskID})
	if err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{Type: MessageTypeEnrichTask, Payload: payload}, nil
}

// NewFinalizeMessage builds the queue message for the export finalizer
func NewFinalizeMessage(jobID string) (QueueMessage, error) {
	payload, err := json.Marshal(FinalizePayload{JobID: jobID})
	if err != nil {
		return QueueMessage{}, err
	}
	return QueueMessage{JobID: jobID, Type: MessageTypeFinalize, Payload: payload}, nil
}
