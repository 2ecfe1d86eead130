package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/models"
)

func TestWorkerPoolDispatchesByType(t *testing.T) {
	q := newTestQueue(t, 5*time.Minute, 3)
	ctx := context.Background()

	pool := NewWorkerPool(q, 2, 10*time.Millisecond, arbor.NewLogger())

	var chunks, enrichments atomic.Int32
	pool.RegisterHandler(models.MessageTypeChunk, func(ctx context.Context, msg *models.QueueMessage) error {
		chunks.Add(1)
		return nil
	})
	pool.RegisterHandler(models.MessageTypeEnrichTask, func(ctx context.Context, msg *models.QueueMessage) error {
		enrichments.Add(1)
		return nil
	})

	chunkMsg, _ := models.NewChunkMessage("job-1", 0, 500)
	enrichMsg, _ := models.NewEnrichMessage("task-1")
	if err := q.Enqueue(ctx, chunkMsg); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, enrichMsg); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	deadline := time.After(2 * time.Second)
	for chunks.Load() != 1 || enrichments.Load() != 1 {
		select {
		case <-deadline:
			t.Fatalf("Timed out: chunks=%d enrichments=%d", chunks.Load(), enrichments.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Both messages were deleted after successful handling
	time.Sleep(50 * time.Millisecond)
	if _, _, err := q.Receive(ctx); err != ErrNoMessage {
		t.Errorf("Queue not drained: %v", err)
	}
}

func TestWorkerPoolDeletesFailedMessage(t *testing.T) {
	q := newTestQueue(t, 20*time.Millisecond, 3)
	ctx := context.Background()

	pool := NewWorkerPool(q, 1, 10*time.Millisecond, arbor.NewLogger())

	var attempts atomic.Int32
	pool.RegisterHandler(models.MessageTypeChunk, func(ctx context.Context, msg *models.QueueMessage) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	})

	msg, _ := models.NewChunkMessage("job-2", 0, 500)
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	deadline := time.After(2 * time.Second)
	for attempts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Handler never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Retry policy lives in the job state machine, so a failed delivery is
	// deleted rather than redelivered by the queue
	time.Sleep(100 * time.Millisecond)
	if got := attempts.Load(); got != 1 {
		t.Errorf("Handler invoked %d times, want 1", got)
	}
}

func TestWorkerPoolDropsUnroutableMessage(t *testing.T) {
	q := newTestQueue(t, 20*time.Millisecond, 3)
	ctx := context.Background()

	pool := NewWorkerPool(q, 1, 10*time.Millisecond, arbor.NewLogger())
	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	if err := q.Enqueue(ctx, models.QueueMessage{Type: "unknown"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, _, err := q.Receive(ctx)
		if err == ErrNoMessage {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Unroutable message never dropped")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
