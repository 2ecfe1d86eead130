package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ternarybob/catena/internal/models"
)

func TestSweepResumesStalledChunk(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	path := writeCatalog(t, t.TempDir(), 1250)
	now := time.Now()
	job := &models.Job{
		ID:              "job-stall-1",
		OwnerID:         "owner-1",
		Kind:            models.JobKindImport,
		Status:          models.JobStatusProcessing,
		ProgressCurrent: 500,
		ProgressTotal:   1250,
		ChunkSize:       500,
		Source:          models.SourceDescriptor{Type: models.SourceTypeCSV, Location: path},
		StartedAt:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.manager.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	// A worker died mid-chunk at offset 500; the chunk sits in processing
	chunk := &models.Chunk{
		ID:     models.ChunkKey(job.ID, 500),
		JobID:  job.ID,
		Index:  1,
		Offset: 500,
		Limit:  500,
		Status: models.ChunkStatusProcessing,
	}
	if err := p.manager.JobStorage().SaveChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}

	// Config staleness is zero for the test, so anything already written
	// counts as stale
	time.Sleep(10 * time.Millisecond)

	result, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ChunksRestarted != 1 {
		t.Fatalf("ChunksRestarted = %d, want 1", result.ChunksRestarted)
	}

	got, err := p.manager.JobStorage().GetChunk(ctx, chunk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ChunkStatusPending {
		t.Errorf("Chunk status = %s, want pending", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}

	// The sweep surfaces the stall on the job row
	fresh, err := p.manager.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.JobStatusStalled {
		t.Errorf("Job status = %s after sweep, want stalled", fresh.Status)
	}
	// Progress from the committed first chunk is untouched
	if fresh.ProgressCurrent != 500 {
		t.Errorf("ProgressCurrent = %d after sweep, want 500", fresh.ProgressCurrent)
	}

	// The re-dispatched message resumes from the chunk's own offset
	if p.queue.pending() != 1 {
		t.Fatalf("Queue holds %d messages, want 1", p.queue.pending())
	}
	var payload models.ChunkPayload
	if err := json.Unmarshal(p.queue.messages[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Offset != 500 || payload.Limit != 500 {
		t.Errorf("Resumed at offset %d limit %d, want 500/500", payload.Offset, payload.Limit)
	}

	// Draining the resumed chain recovers the job: stalled flips back to
	// processing and the remaining chunks run to completion
	p.drain(t)
	done, err := p.manager.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.JobStatusCompleted {
		t.Errorf("Job status = %s after drain, want completed", done.Status)
	}
	if done.ProgressCurrent != 1250 {
		t.Errorf("ProgressCurrent = %d after drain, want 1250", done.ProgressCurrent)
	}
}

func TestSweepFailsJobAfterMaxRetries(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	now := time.Now()
	job := &models.Job{
		ID:            "job-stall-2",
		OwnerID:       "owner-1",
		Kind:          models.JobKindImport,
		Status:        models.JobStatusProcessing,
		ProgressTotal: 100,
		ChunkSize:     50,
		StartedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.manager.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	chunk := &models.Chunk{
		ID:         models.ChunkKey(job.ID, 0),
		JobID:      job.ID,
		Offset:     0,
		Limit:      50,
		Status:     models.ChunkStatusProcessing,
		RetryCount: 2, // next stall is the third strike
	}
	if err := p.manager.JobStorage().SaveChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	result, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.JobsFailed != 1 {
		t.Fatalf("JobsFailed = %d, want 1", result.JobsFailed)
	}
	if result.ChunksRestarted != 0 {
		t.Errorf("ChunksRestarted = %d, want 0", result.ChunksRestarted)
	}

	got, err := p.manager.JobStorage().GetChunk(ctx, chunk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ChunkStatusFailed {
		t.Errorf("Chunk status = %s, want failed", got.Status)
	}

	failed, err := p.manager.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.JobStatusFailed {
		t.Errorf("Job status = %s, want failed", failed.Status)
	}
	if failed.Error == "" {
		t.Error("Failed job carries no error message")
	}
	if p.queue.pending() != 0 {
		t.Errorf("%d messages enqueued for a dead job", p.queue.pending())
	}
	if len(p.events.byType(models.EventJobFailed)) == 0 {
		t.Error("No failure event published")
	}
}

func TestSweepSkipsTerminalJobs(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	now := time.Now()
	job := &models.Job{
		ID:              "job-stall-3",
		OwnerID:         "owner-1",
		Kind:            models.JobKindImport,
		Status:          models.JobStatusFailed,
		Error:           "canceled by user",
		ProgressTotal:   100,
		ChunkSize:       50,
		CompletedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.manager.JobStorage().SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	chunk := &models.Chunk{
		ID:     models.ChunkKey(job.ID, 0),
		JobID:  job.ID,
		Offset: 0,
		Limit:  50,
		Status: models.ChunkStatusProcessing,
	}
	if err := p.manager.JobStorage().SaveChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	result, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.ChunksRestarted != 0 || result.JobsFailed != 0 {
		t.Errorf("Sweep touched a terminal job: %+v", result)
	}
	if p.queue.pending() != 0 {
		t.Error("Sweep dispatched work for a terminal job")
	}
}

func TestSweepRestartsStaleTask(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	product := &models.Product{
		NaturalKey: "owner-1:supplier:REF-1",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
	}
	if err := p.manager.ProductStorage().UpsertProduct(ctx, product); err != nil {
		t.Fatal(err)
	}

	task := &models.EnrichmentTask{
		ID:           "task-1",
		ProductID:    product.ID,
		Capabilities: []models.Capability{models.CapabilityAIAnalysis},
		Status:       models.TaskStatusProcessing,
		AttemptCount: 1,
	}
	if err := p.manager.TaskStorage().SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	result, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.TasksRestarted != 1 {
		t.Fatalf("TasksRestarted = %d, want 1", result.TasksRestarted)
	}

	got, err := p.manager.TaskStorage().GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusPending {
		t.Errorf("Task status = %s, want pending", got.Status)
	}

	msg, del, err := p.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("No task message re-dispatched: %v", err)
	}
	defer del()
	if msg.Type != models.MessageTypeEnrichTask {
		t.Errorf("Message type = %s, want enrich", msg.Type)
	}
}

func TestSweepFailsTaskAfterMaxAttempts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	product := &models.Product{
		NaturalKey: "owner-1:supplier:REF-2",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
	}
	if err := p.manager.ProductStorage().UpsertProduct(ctx, product); err != nil {
		t.Fatal(err)
	}
	if err := p.manager.ProductStorage().SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusEnriching, ""); err != nil {
		t.Fatal(err)
	}

	task := &models.EnrichmentTask{
		ID:           "task-2",
		ProductID:    product.ID,
		Capabilities: []models.Capability{models.CapabilityAIAnalysis},
		Status:       models.TaskStatusProcessing,
		AttemptCount: 3,
	}
	if err := p.manager.TaskStorage().SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := p.watcher.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	got, err := p.manager.TaskStorage().GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Task status = %s, want failed", got.Status)
	}

	fresh, err := p.manager.ProductStorage().GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.EnrichmentStatus != models.EnrichmentStatusFailed {
		t.Errorf("Product status = %s, want failed", fresh.EnrichmentStatus)
	}
}

func TestSweepRepairsOrphanedEnrichingRecord(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// The crash window: product marked enriching but no task was ever
	// persisted
	product := &models.Product{
		NaturalKey: "owner-1:supplier:REF-3",
		OwnerID:    "owner-1",
		Source:     "supplier",
		Name:       "Widget",
	}
	if err := p.manager.ProductStorage().UpsertProduct(ctx, product); err != nil {
		t.Fatal(err)
	}
	if err := p.manager.ProductStorage().SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusEnriching, ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	result, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if result.RecordsRepaired != 1 {
		t.Fatalf("RecordsRepaired = %d, want 1", result.RecordsRepaired)
	}

	// A fresh task now owns the record
	task, err := p.manager.TaskStorage().GetInFlightTaskForProduct(ctx, product.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("No repair task created")
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Repair task status = %s, want pending", task.Status)
	}

	msg, del, err := p.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("No repair message dispatched: %v", err)
	}
	defer del()
	if msg.Type != models.MessageTypeEnrichTask {
		t.Errorf("Message type = %s, want enrich", msg.Type)
	}

	// A second sweep finds the record owned by a live task and leaves it
	// alone. SetEnrichmentStatus just refreshed updated_at, so wait out
	// the zero threshold again.
	time.Sleep(10 * time.Millisecond)
	again, err := p.watcher.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.RecordsRepaired != 0 {
		t.Errorf("Second sweep repaired %d records, want 0", again.RecordsRepaired)
	}
}
