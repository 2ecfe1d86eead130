package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/models"
)

func newTestService() *Service {
	return NewService(arbor.NewLogger())
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	service := newTestService()
	if err := service.Subscribe(models.EventJobProgress, nil); err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	var mu sync.Mutex
	var received []string
	for _, name := range []string{"first", "second"} {
		name := name
		err := service.Subscribe(models.EventJobCompleted, func(ctx context.Context, event models.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, name+":"+event.JobID)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	event := models.Event{
		Type:      models.EventJobCompleted,
		JobID:     "job-1",
		Timestamp: time.Now(),
	}
	if err := service.PublishSync(ctx, event); err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("Received %d deliveries, want 2", len(received))
	}
	for _, entry := range received {
		if entry != "first:job-1" && entry != "second:job-1" {
			t.Errorf("Unexpected delivery %q", entry)
		}
	}
}

func TestPublishSyncReportsHandlerFailures(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	_ = service.Subscribe(models.EventJobFailed, func(ctx context.Context, event models.Event) error {
		return errors.New("handler down")
	})
	_ = service.Subscribe(models.EventJobFailed, func(ctx context.Context, event models.Event) error {
		return nil
	})

	err := service.PublishSync(ctx, models.Event{Type: models.EventJobFailed, Timestamp: time.Now()})
	if err == nil {
		t.Fatal("Expected aggregated handler error")
	}
	if err.Error() != "event handlers failed: 1 errors" {
		t.Errorf("Error = %q", err.Error())
	}
}

func TestPublishIsFireAndForget(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	var delivered atomic.Int32
	done := make(chan struct{})
	_ = service.Subscribe(models.EventLinkProgress, func(ctx context.Context, event models.Event) error {
		delivered.Add(1)
		close(done)
		return errors.New("failure stays with the handler")
	})

	if err := service.Publish(ctx, models.Event{Type: models.EventLinkProgress, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handler never invoked")
	}
	if delivered.Load() != 1 {
		t.Errorf("Delivered = %d, want 1", delivered.Load())
	}
}

func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	if err := service.Publish(ctx, models.Event{Type: models.EventJobProgress}); err != nil {
		t.Errorf("Publish to empty topic failed: %v", err)
	}
	if err := service.PublishSync(ctx, models.Event{Type: models.EventJobProgress}); err != nil {
		t.Errorf("PublishSync to empty topic failed: %v", err)
	}
}

func TestCloseDropsSubscriptions(t *testing.T) {
	service := newTestService()
	ctx := context.Background()

	var delivered atomic.Int32
	_ = service.Subscribe(models.EventJobProgress, func(ctx context.Context, event models.Event) error {
		delivered.Add(1)
		return nil
	})
	if err := service.Close(); err != nil {
		t.Fatal(err)
	}

	if err := service.PublishSync(ctx, models.Event{Type: models.EventJobProgress}); err != nil {
		t.Fatal(err)
	}
	if delivered.Load() != 0 {
		t.Errorf("Handler invoked after Close")
	}
}
