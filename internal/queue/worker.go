package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// MessageHandler is a function that handles a specific message type
type MessageHandler func(ctx context.Context, msg *models.QueueMessage) error

// WorkerPool manages a pool of workers that process queue messages.
// Workers are stateless: every unit of work resumes purely from durable
// state, so a worker crash costs at most one in-flight delivery, which the
// queue's visibility timeout redelivers.
type WorkerPool struct {
	queue        interfaces.QueueManager
	handlers     map[string]MessageHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue interfaces.QueueManager, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &WorkerPool{
		queue:        queue,
		handlers:     make(map[string]MessageHandler),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a message type handler
func (wp *WorkerPool) RegisterHandler(msgType string, handler MessageHandler) {
	wp.handlers[msgType] = handler
	wp.logger.Debug().
		Str("message_type", msgType).
		Msg("Message handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

// worker is the main worker loop that processes messages
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to spread polling across the interval
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil {
				if !errors.Is(err, ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queue.Receive(wp.ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) {
			return err
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("job_id", msg.JobID).
			Msg("No handler registered for message type")
		// Delete unroutable message
		if delErr := deleteFn(); delErr != nil {
			wp.logger.Warn().Err(delErr).Msg("Failed to delete unroutable message")
		}
		return fmt.Errorf("no handler for message type: %s", msg.Type)
	}

	wp.logger.Debug().
		Str("type", msg.Type).
		Str("job_id", msg.JobID).
		Int("worker_id", workerID).
		Msg("Processing message")

	startTime := time.Now()
	handlerErr := handler(wp.ctx, msg)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("type", msg.Type).
			Str("job_id", msg.JobID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Message handler failed")

		// Delete the message: handlers own their retry policy through the
		// job/chunk state machine, not through queue redelivery. Leaving it
		// undeleted would redeliver non-idempotent failures blindly.
		if err := deleteFn(); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("job_id", msg.JobID).
				Msg("Failed to delete message after failure")
			return err
		}

		return handlerErr
	}

	wp.logger.Debug().
		Str("type", msg.Type).
		Str("job_id", msg.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Message processed")

	if err := deleteFn(); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to delete message after successful processing")
		return err
	}

	return nil
}
