package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// ErrEmptySource rejects a job over a source with no importable rows.
// No job row is created in that case.
var ErrEmptySource = errors.New("source contains no importable records")

// StartRequest carries everything needed to create a job
type StartRequest struct {
	Kind      models.JobKind          `json:"kind"`
	OwnerID   string                  `json:"owner_id"`
	Source    models.SourceDescriptor `json:"source,omitempty"`
	ChunkSize int                     `json:"chunk_size,omitempty"`
}

// Orchestrator creates jobs and dispatches their first chunk. StartJob is
// fire-and-continue: it persists the job, enqueues chunk zero, and returns
// without waiting for any processing.
type Orchestrator struct {
	jobs     interfaces.JobStorage
	products interfaces.ProductStorage
	sources  interfaces.SourceFactory
	queue    interfaces.QueueManager
	config   *common.JobsConfig
	logger   arbor.ILogger
}

func NewOrchestrator(logger arbor.ILogger, jobStore interfaces.JobStorage, products interfaces.ProductStorage, sources interfaces.SourceFactory, queue interfaces.QueueManager, cfg *common.JobsConfig) *Orchestrator {
	return &Orchestrator{
		jobs:     jobStore,
		products: products,
		sources:  sources,
		queue:    queue,
		config:   cfg,
		logger:   logger.WithPrefix("orchestrator"),
	}
}

// StartJob validates the source, persists the job with status queued, and
// dispatches the first chunk. Exactly one job row and one first-chunk
// dispatch per call.
func (o *Orchestrator) StartJob(ctx context.Context, req *StartRequest) (*models.Job, error) {
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = o.defaultChunkSize(req.Kind)
	}

	total, err := o.countTotal(ctx, req)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrEmptySource
	}

	now := time.Now()
	job := &models.Job{
		ID:            common.NewJobID(),
		OwnerID:       req.OwnerID,
		Kind:          req.Kind,
		Status:        models.JobStatusQueued,
		ProgressTotal: total,
		ChunkSize:     chunkSize,
		Source:        req.Source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	msg, err := models.NewChunkMessage(job.ID, 0, chunkSize)
	if err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(ctx, msg); err != nil {
		// The job row exists but nothing will process it; fail it so the
		// caller is not left polling a queued job forever.
		if _, casErr := o.jobs.CompareAndSetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusFailed, "failed to dispatch first chunk: "+err.Error()); casErr != nil {
			o.logger.Error().Err(casErr).Str("job", job.ID).Msg("Failed to fail undispatchable job")
		}
		return nil, fmt.Errorf("failed to dispatch first chunk: %w", err)
	}

	o.logger.Info().
		Str("job", job.ID).
		Str("kind", string(req.Kind)).
		Int("total", total).
		Int("chunk_size", chunkSize).
		Int("chunks", job.ChunkCount()).
		Msg("Job started")
	return job, nil
}

// Cancel fails a non-terminal job by explicit status write. An in-flight
// chunk is not preempted; the chain stops at the next dispatch's status
// check.
func (o *Orchestrator) Cancel(ctx context.Context, jobID, reason string) (*models.Job, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}
	if reason == "" {
		reason = "canceled by user"
	}

	for _, from := range []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusStalled} {
		ok, err := o.jobs.CompareAndSetStatus(ctx, jobID, from, models.JobStatusFailed, reason)
		if err != nil {
			return nil, err
		}
		if ok {
			o.logger.Info().Str("job", jobID).Str("reason", reason).Msg("Job canceled")
			break
		}
	}
	return o.jobs.GetJob(ctx, jobID)
}

func (o *Orchestrator) defaultChunkSize(kind models.JobKind) int {
	switch kind {
	case models.JobKindExport:
		return o.config.ExportChunkSize
	case models.JobKindLink:
		return o.config.LinkChunkSize
	case models.JobKindEnrichment:
		return o.config.EnrichmentChunkSize
	default:
		return o.config.ImportChunkSize
	}
}

// countTotal sizes the job before any row is written
func (o *Orchestrator) countTotal(ctx context.Context, req *StartRequest) (int, error) {
	switch req.Kind {
	case models.JobKindImport:
		source, err := o.sources.Open(ctx, req.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to open source: %w", err)
		}
		count, err := source.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count source records: %w", err)
		}
		return count, nil
	case models.JobKindExport, models.JobKindLink, models.JobKindEnrichment:
		if req.OwnerID == "" {
			return 0, fmt.Errorf("%s job requires an owner", req.Kind)
		}
		count, err := o.products.CountByOwner(ctx, req.OwnerID)
		if err != nil {
			return 0, fmt.Errorf("failed to count owner records: %w", err)
		}
		return count, nil
	default:
		return 0, fmt.Errorf("unknown job kind %q", req.Kind)
	}
}
