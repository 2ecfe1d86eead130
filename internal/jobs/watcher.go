package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// SweepResult summarizes one watcher pass
type SweepResult struct {
	ChunksRestarted int `json:"chunks_restarted"`
	TasksRestarted  int `json:"tasks_restarted"`
	RecordsRepaired int `json:"records_repaired"`
	JobsFailed      int `json:"jobs_failed"`
}

// Watcher is the external staleness detector. Workers cannot self-detect
// a hang, so a periodic sweep finds processing chunks and tasks whose
// updated_at stopped moving, resumes them from their last durable
// checkpoint up to maxRetries, then converts them to job failures. It
// also repairs products left in enriching with no live task, the crash
// window between the status write and the task insert.
type Watcher struct {
	jobs       interfaces.JobStorage
	tasks      interfaces.TaskStorage
	products   interfaces.ProductStorage
	queue      interfaces.QueueManager
	events     interfaces.EventService
	config     *common.JobsConfig
	enrichCaps []models.Capability
	logger     arbor.ILogger
}

func NewWatcher(
	logger arbor.ILogger,
	jobStore interfaces.JobStorage,
	tasks interfaces.TaskStorage,
	products interfaces.ProductStorage,
	queue interfaces.QueueManager,
	events interfaces.EventService,
	cfg *common.JobsConfig,
	enrichCaps []models.Capability,
) *Watcher {
	return &Watcher{
		jobs:       jobStore,
		tasks:      tasks,
		products:   products,
		queue:      queue,
		events:     events,
		config:     cfg,
		enrichCaps: enrichCaps,
		logger:     logger.WithPrefix("watcher"),
	}
}

// Sweep runs one pass. Sweeping twice when nothing is stuck is a no-op.
func (w *Watcher) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	now := time.Now()

	if err := w.sweepChunks(ctx, now, result); err != nil {
		return result, err
	}
	if err := w.sweepTasks(ctx, now, result); err != nil {
		return result, err
	}
	if err := w.repairOrphanedRecords(ctx, now, result); err != nil {
		return result, err
	}

	if result.ChunksRestarted+result.TasksRestarted+result.RecordsRepaired+result.JobsFailed > 0 {
		w.logger.Info().
			Int("chunks_restarted", result.ChunksRestarted).
			Int("tasks_restarted", result.TasksRestarted).
			Int("records_repaired", result.RecordsRepaired).
			Int("jobs_failed", result.JobsFailed).
			Msg("Sweep recovered stuck work")
	}
	return result, nil
}

func (w *Watcher) sweepChunks(ctx context.Context, now time.Time, result *SweepResult) error {
	stale, err := w.jobs.GetStaleChunks(ctx, now.Add(-w.config.ChunkStaleAfterDuration()))
	if err != nil {
		return fmt.Errorf("failed to find stale chunks: %w", err)
	}

	for _, chunk := range stale {
		job, err := w.jobs.GetJob(ctx, chunk.JobID)
		if err != nil {
			w.logger.Warn().Str("chunk", chunk.ID).Err(err).Msg("Stale chunk references missing job")
			continue
		}
		if job.IsTerminal() {
			continue
		}

		chunk.RetryCount++
		if chunk.RetryCount >= w.config.MaxRetries {
			chunk.Status = models.ChunkStatusFailed
			chunk.LastError = fmt.Sprintf("stalled %d times at offset %d, giving up", chunk.RetryCount, chunk.Offset)
			chunk.UpdatedAt = now
			if err := w.jobs.SaveChunk(ctx, chunk); err != nil {
				return fmt.Errorf("failed to fail chunk %s: %w", chunk.ID, err)
			}
			if err := w.failJob(ctx, job, chunk.LastError); err != nil {
				return err
			}
			result.JobsFailed++
			continue
		}

		chunk.Status = models.ChunkStatusPending
		chunk.UpdatedAt = now
		if err := w.jobs.SaveChunk(ctx, chunk); err != nil {
			return fmt.Errorf("failed to reset chunk %s: %w", chunk.ID, err)
		}

		// Surface the stall on the job row; the resumed chunk flips it
		// back to processing when it picks up
		if _, err := w.jobs.CompareAndSetStatus(ctx, job.ID, models.JobStatusProcessing, models.JobStatusStalled, ""); err != nil {
			return err
		}

		// Resume from the chunk's own offset, never from zero
		msg, err := models.NewChunkMessage(chunk.JobID, chunk.Offset, chunk.Limit)
		if err != nil {
			return err
		}
		if err := w.queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to re-dispatch chunk %s: %w", chunk.ID, err)
		}
		result.ChunksRestarted++

		w.logger.Info().
			Str("job", chunk.JobID).
			Int("offset", chunk.Offset).
			Int("retry", chunk.RetryCount).
			Msg("Stale chunk re-dispatched")
	}
	return nil
}

func (w *Watcher) sweepTasks(ctx context.Context, now time.Time, result *SweepResult) error {
	stale, err := w.tasks.GetStaleTasks(ctx,
		now.Add(-w.config.ChunkStaleAfterDuration()),
		now.Add(-w.config.MediaStaleAfterDuration()))
	if err != nil {
		return fmt.Errorf("failed to find stale tasks: %w", err)
	}

	for _, task := range stale {
		if task.AttemptCount >= w.config.MaxRetries {
			task.Status = models.TaskStatusFailed
			task.LastError = fmt.Sprintf("stalled after %d attempts, giving up", task.AttemptCount)
			task.UpdatedAt = now
			if err := w.tasks.SaveTask(ctx, task); err != nil {
				return fmt.Errorf("failed to fail task %s: %w", task.ID, err)
			}
			if err := w.products.SetEnrichmentStatus(ctx, task.ProductID, models.EnrichmentStatusFailed, task.LastError); err != nil {
				w.logger.Warn().Str("product", task.ProductID).Err(err).Msg("Failed to record enrichment failure")
			}
			continue
		}

		task.Status = models.TaskStatusPending
		task.UpdatedAt = now
		if err := w.tasks.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("failed to reset task %s: %w", task.ID, err)
		}

		msg, err := models.NewEnrichMessage(task.ID)
		if err != nil {
			return err
		}
		if err := w.queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to re-dispatch task %s: %w", task.ID, err)
		}
		result.TasksRestarted++

		w.logger.Info().
			Str("task", task.ID).
			Str("product", task.ProductID).
			Int("attempts", task.AttemptCount).
			Msg("Stale task re-dispatched")
	}
	return nil
}

// repairOrphanedRecords covers the crash window between marking a product
// enriching and persisting its task. Distinct from a stale task: here no
// task exists at all.
func (w *Watcher) repairOrphanedRecords(ctx context.Context, now time.Time, result *SweepResult) error {
	orphaned, err := w.products.GetOrphanedEnriching(ctx, now.Add(-w.config.ChunkStaleAfterDuration()))
	if err != nil {
		return fmt.Errorf("failed to find orphaned records: %w", err)
	}

	for _, product := range orphaned {
		fresh := &models.EnrichmentTask{
			ID:           common.NewTaskID(),
			ProductID:    product.ID,
			Capabilities: w.enrichCaps,
			Status:       models.TaskStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		// Claim the product's in-flight slot through the same locked
		// check-and-insert the enrichment service uses, so a repair racing
		// a fresh request cannot create a second task
		created, _, err := w.tasks.CreateTaskIfAbsent(ctx, fresh)
		if err != nil {
			return fmt.Errorf("failed to create repair task for %s: %w", product.ID, err)
		}
		if !created {
			// A live task owns this record; the task sweep handles it
			continue
		}

		if err := w.products.SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusEnriching, ""); err != nil {
			return fmt.Errorf("failed to re-mark orphaned record %s: %w", product.ID, err)
		}

		msg, err := models.NewEnrichMessage(fresh.ID)
		if err != nil {
			return err
		}
		if err := w.queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to dispatch repair task %s: %w", fresh.ID, err)
		}
		result.RecordsRepaired++

		w.logger.Info().
			Str("product", product.ID).
			Str("task", fresh.ID).
			Msg("Orphaned enriching record repaired")
	}
	return nil
}

func (w *Watcher) failJob(ctx context.Context, job *models.Job, reason string) error {
	for _, from := range []models.JobStatus{models.JobStatusProcessing, models.JobStatusStalled, models.JobStatusQueued} {
		ok, err := w.jobs.CompareAndSetStatus(ctx, job.ID, from, models.JobStatusFailed, reason)
		if err != nil {
			return err
		}
		if ok {
			break
		}
	}

	w.events.Publish(ctx, models.Event{
		Type:  models.EventJobFailed,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"error": reason,
		},
		Timestamp: time.Now(),
	})

	w.logger.Warn().Str("job", job.ID).Str("reason", reason).Msg("Job failed after retries exhausted")
	return nil
}
