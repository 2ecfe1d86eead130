package interfaces

import (
	"context"

	"github.com/ternarybob/catena/internal/models"
)

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event models.Event) error

// EventService - pub/sub for job and link progress
type EventService interface {
	Subscribe(eventType models.EventType, handler EventHandler) error
	Publish(ctx context.Context, event models.Event) error
	PublishSync(ctx context.Context, event models.Event) error
}
