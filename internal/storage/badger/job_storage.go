package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrJobNotFound is returned when a job ID does not exist
var ErrJobNotFound = fmt.Errorf("job not found")

// JobStorage implements interfaces.JobStorage on badgerhold.
//
// Badger transactions alone do not serialize read-modify-write sequences
// issued through badgerhold's typed API, so the store guards job mutations
// with a mutex. That keeps CompleteChunk and CompareAndSetStatus atomic
// with respect to each other - the property the chunk worker and the
// watcher depend on when they race on the same row.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.OwnerID != "" {
			query = query.And("OwnerID").Eq(opts.OwnerID)
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(opts.Kind)
		}
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CompareAndSetStatus transitions jobID from expected to target. A mismatch
// on the current status returns (false, nil) so callers can treat a lost
// race as a no-op instead of an error.
func (s *JobStorage) CompareAndSetStatus(ctx context.Context, jobID string, expected, target models.JobStatus, errorMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return false, fmt.Errorf("failed to get job: %w", err)
	}

	if job.Status != expected {
		return false, nil
	}
	if !job.CanTransition(target) {
		return false, fmt.Errorf("illegal job transition %s -> %s for %s", job.Status, target, jobID)
	}

	switch target {
	case models.JobStatusProcessing:
		job.MarkStarted()
	case models.JobStatusCompleted:
		job.MarkCompleted()
	case models.JobStatusFailed:
		job.MarkFailed(errorMsg)
	case models.JobStatusStalled:
		job.MarkStalled()
	default:
		job.Status = target
		job.UpdatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(job.ID, &job); err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return true, nil
}

// CompleteChunk flips the chunk to completed and adds processed to the
// job's progress in a single Badger transaction. The two writes landing
// together closes the crash window where a chunk is durably completed but
// its records were never counted; a completed chunk row always implies
// counted progress.
func (s *JobStorage) CompleteChunk(ctx context.Context, chunk *models.Chunk, processed int) (*models.Job, error) {
	if chunk.ID == "" {
		return nil, fmt.Errorf("chunk ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(chunk.JobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, chunk.JobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	now := time.Now()
	chunk.Status = models.ChunkStatusCompleted
	chunk.UpdatedAt = now

	job.ProgressCurrent += processed
	if job.ProgressCurrent > job.ProgressTotal {
		job.ProgressCurrent = job.ProgressTotal
	}
	if job.ProgressCurrent < 0 {
		job.ProgressCurrent = 0
	}
	job.UpdatedAt = now

	err := s.db.Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxUpsert(txn, chunk.ID, chunk); err != nil {
			return err
		}
		return s.db.Store().TxUpsert(txn, job.ID, &job)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chunk %s: %w", chunk.ID, err)
	}
	return &job, nil
}

func (s *JobStorage) SaveChunk(ctx context.Context, chunk *models.Chunk) error {
	if chunk.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chunk.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(chunk.ID, chunk); err != nil {
		return fmt.Errorf("failed to save chunk: %w", err)
	}
	return nil
}

func (s *JobStorage) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	var chunk models.Chunk
	if err := s.db.Store().Get(chunkID, &chunk); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("chunk not found: %s", chunkID)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return &chunk, nil
}

func (s *JobStorage) GetChunksByJob(ctx context.Context, jobID string) ([]*models.Chunk, error) {
	var chunks []models.Chunk
	if err := s.db.Store().Find(&chunks, badgerhold.Where("JobID").Eq(jobID).SortBy("Offset")); err != nil {
		return nil, fmt.Errorf("failed to get chunks for job %s: %w", jobID, err)
	}

	result := make([]*models.Chunk, len(chunks))
	for i := range chunks {
		result[i] = &chunks[i]
	}
	return result, nil
}

// GetStaleChunks returns processing chunks whose last update predates the
// threshold. Filtering on UpdatedAt happens in memory; time comparisons in
// badgerhold queries over indexed fields have proven unreliable.
func (s *JobStorage) GetStaleChunks(ctx context.Context, olderThan time.Time) ([]*models.Chunk, error) {
	var processing []models.Chunk
	if err := s.db.Store().Find(&processing, badgerhold.Where("Status").Eq(models.ChunkStatusProcessing)); err != nil {
		return nil, fmt.Errorf("failed to find processing chunks: %w", err)
	}

	var stale []*models.Chunk
	for i := range processing {
		if processing[i].UpdatedAt.Before(olderThan) {
			stale = append(stale, &processing[i])
		}
	}
	return stale, nil
}
