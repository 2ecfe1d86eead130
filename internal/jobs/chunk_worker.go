package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/linking"
	"github.com/ternarybob/catena/internal/models"
	"github.com/ternarybob/catena/internal/services/enrichment"
)

// ChunkResult is the outcome of processing one chunk
type ChunkResult struct {
	ProcessedCount int  `json:"processed_count"`
	RecordErrors   int  `json:"record_errors"`
	HasMore        bool `json:"has_more"`
}

// ChunkWorker processes one bounded slice of a job's dataset and, on
// success, dispatches its own successor. Replaying a chunk is safe: all
// record writes are upserts, and a chunk that already completed skips the
// work and the progress increment, re-running only the successor dispatch.
type ChunkWorker struct {
	jobs       interfaces.JobStorage
	products   interfaces.ProductStorage
	artifacts  interfaces.ArtifactStorage
	sources    interfaces.SourceFactory
	queue      interfaces.QueueManager
	events     interfaces.EventService
	linker     *linking.Engine
	enricher   *enrichment.Service
	enrichCaps []models.Capability
	logger     arbor.ILogger
}

func NewChunkWorker(
	logger arbor.ILogger,
	jobStore interfaces.JobStorage,
	products interfaces.ProductStorage,
	artifacts interfaces.ArtifactStorage,
	sources interfaces.SourceFactory,
	queue interfaces.QueueManager,
	events interfaces.EventService,
	linker *linking.Engine,
	enricher *enrichment.Service,
	enrichCaps []models.Capability,
) *ChunkWorker {
	return &ChunkWorker{
		jobs:       jobStore,
		products:   products,
		artifacts:  artifacts,
		sources:    sources,
		queue:      queue,
		events:     events,
		linker:     linker,
		enricher:   enricher,
		enrichCaps: enrichCaps,
		logger:     logger.WithPrefix("chunk-worker"),
	}
}

// ProcessChunk runs the (jobID, offset, limit) slice. A terminal job stops
// the chain here: this status check before any work is the cancellation
// point, bounding wasted work to at most one in-flight chunk.
func (w *ChunkWorker) ProcessChunk(ctx context.Context, jobID string, offset, limit int) (*ChunkResult, error) {
	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		w.logger.Info().
			Str("job", jobID).
			Str("status", string(job.Status)).
			Int("offset", offset).
			Msg("Job is terminal, abandoning chunk chain")
		return &ChunkResult{}, nil
	}

	// First chunk moves the job out of queued; a watcher-resumed chunk
	// moves it out of stalled. A no-op CAS is fine for every later chunk.
	if _, err := w.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusQueued, models.JobStatusProcessing, ""); err != nil {
		return nil, err
	}
	if _, err := w.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusStalled, models.JobStatusProcessing, ""); err != nil {
		return nil, err
	}

	chunkID := models.ChunkKey(jobID, offset)
	chunk, err := w.jobs.GetChunk(ctx, chunkID)
	if err == nil && chunk.Status == models.ChunkStatusCompleted {
		// Replay of a finished chunk. The work and its progress are already
		// counted, but the original delivery may have crashed before the
		// successor dispatch, so re-run the tail: enqueueing a duplicate
		// chunk message and finishJob are both idempotent, and skipping
		// this would strand the job with nothing left for the watcher to
		// find.
		hasMore := offset+limit < job.ProgressTotal
		if hasMore {
			msg, err := models.NewChunkMessage(jobID, offset+limit, limit)
			if err != nil {
				return nil, err
			}
			if err := w.queue.Enqueue(ctx, msg); err != nil {
				return nil, fmt.Errorf("failed to re-dispatch next chunk: %w", err)
			}
		} else if err := w.finishJob(ctx, job); err != nil {
			return nil, err
		}
		return &ChunkResult{HasMore: hasMore}, nil
	}

	now := time.Now()
	if chunk == nil || err != nil {
		chunk = &models.Chunk{
			ID:        chunkID,
			JobID:     jobID,
			Index:     chunkIndex(offset, job.ChunkSize),
			Offset:    offset,
			Limit:     limit,
			CreatedAt: now,
		}
	}
	chunk.Status = models.ChunkStatusProcessing
	chunk.UpdatedAt = now
	if err := w.jobs.SaveChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("failed to persist chunk %s: %w", chunkID, err)
	}

	processed, recordErrors, err := w.runChunk(ctx, job, offset, limit)
	if err != nil {
		// Infrastructure failure. The chunk stays in processing with the
		// error recorded; the watcher notices the job stopped advancing
		// and resumes from this same offset.
		chunk.LastError = err.Error()
		chunk.UpdatedAt = time.Now()
		if saveErr := w.jobs.SaveChunk(ctx, chunk); saveErr != nil {
			w.logger.Error().Err(saveErr).Str("chunk", chunkID).Msg("Failed to record chunk error")
		}
		return nil, fmt.Errorf("chunk %s failed: %w", chunkID, err)
	}

	chunk.LastError = ""
	if recordErrors > 0 {
		chunk.LastError = fmt.Sprintf("%d records failed", recordErrors)
	}

	// One atomic write: a durably completed chunk always has its records
	// counted, so a crash after this point can only lose the successor
	// dispatch, which the replay branch above recovers.
	job, err = w.jobs.CompleteChunk(ctx, chunk, processed)
	if err != nil {
		return nil, fmt.Errorf("failed to complete chunk %s: %w", chunkID, err)
	}

	w.publishProgress(ctx, job)

	// hasMore comes from the slice being full, not from stored status
	hasMore := processed == limit
	result := &ChunkResult{ProcessedCount: processed, RecordErrors: recordErrors, HasMore: hasMore}

	if hasMore {
		msg, err := models.NewChunkMessage(jobID, offset+limit, limit)
		if err != nil {
			return nil, err
		}
		if err := w.queue.Enqueue(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to dispatch next chunk: %w", err)
		}
		return result, nil
	}

	if err := w.finishJob(ctx, job); err != nil {
		return nil, err
	}
	return result, nil
}

// finishJob runs the job's terminal step once the last chunk completes
func (w *ChunkWorker) finishJob(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobKindExport:
		// The finalizer owns completion for export jobs
		msg, err := models.NewFinalizeMessage(job.ID)
		if err != nil {
			return err
		}
		if err := w.queue.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("failed to dispatch finalizer: %w", err)
		}
		return nil
	case models.JobKindLink:
		// Reconcile links created concurrently by per-record triggers
		// while the bulk sweep ran
		removed, err := w.linker.MergePass(ctx, job.OwnerID)
		if err != nil {
			return fmt.Errorf("merge pass failed: %w", err)
		}
		if removed > 0 {
			w.logger.Info().Str("job", job.ID).Int("removed", removed).Msg("Merge pass reconciled duplicate links")
		}
	}

	ok, err := w.jobs.CompareAndSetStatus(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted, "")
	if err != nil {
		return err
	}
	if ok {
		w.publishCompleted(ctx, job.ID)
		w.logger.Info().Str("job", job.ID).Msg("Job completed")
	}
	return nil
}

// runChunk dispatches to the kind-specific processor
func (w *ChunkWorker) runChunk(ctx context.Context, job *models.Job, offset, limit int) (processed, recordErrors int, err error) {
	switch job.Kind {
	case models.JobKindImport:
		return w.runImportChunk(ctx, job, offset, limit)
	case models.JobKindExport:
		return w.runExportChunk(ctx, job, offset, limit)
	case models.JobKindLink:
		return w.runLinkChunk(ctx, job, limit)
	case models.JobKindEnrichment:
		return w.runEnrichmentChunk(ctx, job, offset, limit)
	default:
		return 0, 0, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// runImportChunk parses one slice of the source into upserted products.
// A bad record is recorded and skipped; only source or storage failures
// fail the chunk.
func (w *ChunkWorker) runImportChunk(ctx context.Context, job *models.Job, offset, limit int) (int, int, error) {
	source, err := w.sources.Open(ctx, job.Source)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open source: %w", err)
	}
	records, err := source.ReadChunk(ctx, offset, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read source chunk: %w", err)
	}

	dataset := job.Source.Options["dataset"]
	if dataset == "" {
		dataset = string(job.Source.Type)
	}

	recordErrors := 0
	for _, rec := range records {
		product := &models.Product{
			NaturalKey:    models.ProductNaturalKey(job.OwnerID, dataset, rec.Reference, rec.EAN),
			OwnerID:       job.OwnerID,
			Source:        dataset,
			EAN:           rec.EAN,
			NormalizedEAN: linking.NormalizeEAN(rec.EAN),
			Name:          rec.Name,
			Reference:     rec.Reference,
			Price:         rec.Price,
		}
		if len(rec.Extra) > 0 {
			product.Attributes = make(map[string]interface{}, len(rec.Extra))
			for k, v := range rec.Extra {
				product.Attributes[k] = v
			}
		}
		if err := w.products.UpsertProduct(ctx, product); err != nil {
			recordErrors++
			w.logger.Warn().
				Str("job", job.ID).
				Str("key", product.NaturalKey).
				Err(err).
				Msg("Record import failed, continuing chunk")
		}
	}
	return len(records), recordErrors, nil
}

// runExportChunk writes one CSV fragment named by chunk index
func (w *ChunkWorker) runExportChunk(ctx context.Context, job *models.Job, offset, limit int) (int, int, error) {
	page, err := w.products.ListByOwner(ctx, job.OwnerID, offset, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to page owner records: %w", err)
	}
	if len(page) == 0 {
		return 0, 0, nil
	}

	fragment, err := renderExportCSV(page)
	if err != nil {
		return 0, 0, err
	}
	if err := w.artifacts.WriteFragment(ctx, job.ID, chunkIndex(offset, job.ChunkSize), fragment); err != nil {
		return 0, 0, fmt.Errorf("failed to write fragment: %w", err)
	}
	return len(page), 0, nil
}

// runLinkChunk advances the bulk-link cursor by one page
func (w *ChunkWorker) runLinkChunk(ctx context.Context, job *models.Job, limit int) (int, int, error) {
	result, lastID, err := w.linker.LinkBatch(ctx, job.OwnerID, job.Cursor, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("link batch failed: %w", err)
	}

	// Persist the cursor so a watcher-resumed chunk continues from the
	// last processed record, not from the start
	fresh, err := w.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return 0, 0, err
	}
	fresh.Cursor = lastID
	if err := w.jobs.SaveJob(ctx, fresh); err != nil {
		return 0, 0, fmt.Errorf("failed to persist link cursor: %w", err)
	}

	w.events.Publish(ctx, models.Event{
		Type:  models.EventLinkProgress,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"links_created":         result.LinksCreated,
			"candidates_considered": result.CandidatesConsidered,
			"cursor":                lastID,
		},
		Timestamp: time.Now(),
	})
	return result.RecordsProcessed, 0, nil
}

// runEnrichmentChunk requests enrichment for every unenriched record in
// the slice. The per-product pre-insert check makes replays no-ops.
func (w *ChunkWorker) runEnrichmentChunk(ctx context.Context, job *models.Job, offset, limit int) (int, int, error) {
	page, err := w.products.ListByOwner(ctx, job.OwnerID, offset, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to page owner records: %w", err)
	}

	recordErrors := 0
	for _, p := range page {
		if p.EnrichmentStatus != models.EnrichmentStatusNone {
			continue
		}
		if _, err := w.enricher.RequestEnrichment(ctx, p.ID, w.enrichCaps, 0); err != nil {
			recordErrors++
			w.logger.Warn().
				Str("job", job.ID).
				Str("product", p.ID).
				Err(err).
				Msg("Enrichment request failed, continuing chunk")
		}
	}
	return len(page), recordErrors, nil
}

func (w *ChunkWorker) publishProgress(ctx context.Context, job *models.Job) {
	w.events.Publish(ctx, models.Event{
		Type:  models.EventJobProgress,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"progress_current": job.ProgressCurrent,
			"progress_total":   job.ProgressTotal,
			"status":           string(job.Status),
		},
		Timestamp: time.Now(),
	})
}

func (w *ChunkWorker) publishCompleted(ctx context.Context, jobID string) {
	w.events.Publish(ctx, models.Event{
		Type:      models.EventJobCompleted,
		JobID:     jobID,
		Timestamp: time.Now(),
	})
}

func chunkIndex(offset, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return offset / chunkSize
}

// renderExportCSV writes one fragment, header included. The finalizer
// keeps the first header and strips the rest when combining.
func renderExportCSV(page []*models.Product) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(exportHeader()); err != nil {
		return nil, fmt.Errorf("failed to write fragment header: %w", err)
	}
	for _, p := range page {
		row := []string{
			p.ID,
			p.EAN,
			p.Name,
			p.Reference,
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			string(p.EnrichmentStatus),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write fragment row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush fragment: %w", err)
	}
	return buf.Bytes(), nil
}

func exportHeader() []string {
	return []string{"id", "ean", "name", "reference", "price", "enrichment_status"}
}
