package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/catena/internal/models"
	"github.com/ternarybob/catena/internal/queue"
	"github.com/ternarybob/catena/internal/services/enrichment"
)

// ChunkHandler adapts the chunk worker to the queue's handler signature
func ChunkHandler(worker *ChunkWorker) queue.MessageHandler {
	return func(ctx context.Context, msg *models.QueueMessage) error {
		var payload models.ChunkPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("malformed chunk payload: %w", err)
		}
		_, err := worker.ProcessChunk(ctx, payload.JobID, payload.Offset, payload.Limit)
		return err
	}
}

// EnrichHandler adapts the enrichment service to the queue's handler signature
func EnrichHandler(service *enrichment.Service) queue.MessageHandler {
	return func(ctx context.Context, msg *models.QueueMessage) error {
		var payload models.EnrichPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("malformed enrich payload: %w", err)
		}
		return service.ExecuteTask(ctx, payload.TaskID)
	}
}

// FinalizeHandler adapts the finalizer to the queue's handler signature
func FinalizeHandler(finalizer *Finalizer) queue.MessageHandler {
	return func(ctx context.Context, msg *models.QueueMessage) error {
		var payload models.FinalizePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("malformed finalize payload: %w", err)
		}
		_, err := finalizer.Finalize(ctx, payload.JobID)
		return err
	}
}
