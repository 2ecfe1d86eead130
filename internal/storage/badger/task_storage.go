package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TaskStorage implements interfaces.TaskStorage on badgerhold
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskStorage) SaveTask(ctx context.Context, task *models.EnrichmentTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(task.ID, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// CreateTaskIfAbsent claims the product's single in-flight slot. The
// in-flight query and the insert share the store mutex, so two callers
// racing on the same product (a redelivered chunk against the watcher's
// orphan repair) resolve to one winner; the loser gets the winner's task.
func (s *TaskStorage) CreateTaskIfAbsent(ctx context.Context, task *models.EnrichmentTask) (bool, *models.EnrichmentTask, error) {
	if err := task.Validate(); err != nil {
		return false, nil, fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var inFlight []models.EnrichmentTask
	query := badgerhold.Where("ProductID").Eq(task.ProductID).
		And("Status").In(models.TaskStatusPending, models.TaskStatusProcessing)
	if err := s.db.Store().Find(&inFlight, query); err != nil {
		return false, nil, fmt.Errorf("failed to query in-flight tasks: %w", err)
	}
	if len(inFlight) > 0 {
		return false, &inFlight[0], nil
	}

	task.UpdatedAt = time.Now()
	if err := s.db.Store().Insert(task.ID, task); err != nil {
		return false, nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return true, task, nil
}

func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.EnrichmentTask, error) {
	var task models.EnrichmentTask
	if err := s.db.Store().Get(taskID, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (s *TaskStorage) GetInFlightTaskForProduct(ctx context.Context, productID string) (*models.EnrichmentTask, error) {
	var tasks []models.EnrichmentTask
	query := badgerhold.Where("ProductID").Eq(productID).
		And("Status").In(models.TaskStatusPending, models.TaskStatusProcessing)
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to query in-flight tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// GetStaleTasks returns processing tasks past their staleness threshold.
// Media generation tasks get the longer mediaOlderThan threshold.
func (s *TaskStorage) GetStaleTasks(ctx context.Context, olderThan time.Time, mediaOlderThan time.Time) ([]*models.EnrichmentTask, error) {
	var processing []models.EnrichmentTask
	if err := s.db.Store().Find(&processing, badgerhold.Where("Status").Eq(models.TaskStatusProcessing)); err != nil {
		return nil, fmt.Errorf("failed to find processing tasks: %w", err)
	}

	var stale []*models.EnrichmentTask
	for i := range processing {
		threshold := olderThan
		if processing[i].RequiresMedia() {
			threshold = mediaOlderThan
		}
		if processing[i].UpdatedAt.Before(threshold) {
			stale = append(stale, &processing[i])
		}
	}
	return stale, nil
}

func (s *TaskStorage) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().Delete(taskID, &models.EnrichmentTask{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
