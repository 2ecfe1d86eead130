package interfaces

import (
	"context"

	"github.com/ternarybob/catena/internal/models"
)

// QueueManager is the durable work queue. Dispatch through the queue is
// fire-and-continue: the enqueuer never waits for the consumer, and the
// queue guarantees at-least-once delivery, so all handlers are idempotent.
type QueueManager interface {
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	// Receive pulls the next visible message and returns a delete function
	// to call after successful processing. Returns models.ErrNoMessage when
	// the queue is empty.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Close() error
}
