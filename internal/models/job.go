// -----------------------------------------------------------------------
// Job - durable record for one long-running, multi-chunk operation
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobKind classifies the work a job performs
type JobKind string

const (
	JobKindImport     JobKind = "import"
	JobKindExport     JobKind = "export"
	JobKindLink       JobKind = "link"
	JobKindEnrichment JobKind = "enrichment"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusStalled    JobStatus = "stalled"
)

// Job is the single source of truth for one long-running operation.
// Progress and status are mutated only through the job store's conditional
// updates so a chunk worker and the watcher cannot lose each other's writes.
type Job struct {
	ID      string  `json:"id" badgerhold:"key"`
	OwnerID string  `json:"owner_id"`
	Kind    JobKind `json:"kind"`
	Status  JobStatus `json:"status"`

	ProgressCurrent int `json:"progress_current"`
	ProgressTotal   int `json:"progress_total"`
	ChunkSize       int `json:"chunk_size"`

	// Source is set for import jobs; Cursor for bulk-link jobs.
	Source SourceDescriptor `json:"source,omitempty"`
	Cursor string           `json:"cursor,omitempty"`

	// ArtifactLocation is set by the export finalizer on completion.
	ArtifactLocation string `json:"artifact_location,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`

	// Metadata holds genuinely free-form per-job data (source platform,
	// per-record failure counts). Fields every kind needs stay typed above.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// validTransitions encodes the forward-only state machine. The only
// backward edge is stalled -> processing (recovery).
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusStalled},
	JobStatusStalled:    {JobStatusProcessing, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// CanTransition reports whether moving from the job's current status to
// target is a legal state machine edge.
func (j *Job) CanTransition(target JobStatus) bool {
	for _, s := range validTransitions[j.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkStarted moves the job into processing
func (j *Job) MarkStarted() {
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// MarkCompleted marks the job completed and stamps CompletedAt
func (j *Job) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed marks the job failed with a human-readable error message
func (j *Job) MarkFailed(errorMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = errorMsg
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkStalled flags a job whose chunks stopped advancing
func (j *Job) MarkStalled() {
	j.Status = JobStatusStalled
	j.UpdatedAt = time.Now()
}

// Validate checks the job invariants that must hold at rest
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Kind == "" {
		return fmt.Errorf("job kind is required")
	}
	if j.ProgressCurrent > j.ProgressTotal {
		return fmt.Errorf("progress_current %d exceeds progress_total %d", j.ProgressCurrent, j.ProgressTotal)
	}
	if j.IsTerminal() && j.CompletedAt == nil {
		return fmt.Errorf("terminal job %s has no completed_at", j.ID)
	}
	return nil
}

// ChunkCount returns the number of chunks the job's total divides into
func (j *Job) ChunkCount() int {
	if j.ChunkSize <= 0 || j.ProgressTotal <= 0 {
		return 0
	}
	return (j.ProgressTotal + j.ChunkSize - 1) / j.ChunkSize
}

// ChunkStatus is the lifecycle state of one chunk
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// Chunk is one bounded, offset-addressed slice of a job's dataset.
// Chunks are persisted so a crashed worker can be resumed from its last
// committed offset rather than from zero.
type Chunk struct {
	ID         string      `json:"id" badgerhold:"key"`
	JobID      string      `json:"job_id" badgerholdIndex:"JobID"`
	Index      int         `json:"index"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`
	Status     ChunkStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	LastError  string      `json:"last_error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// ChunkKey builds the deterministic chunk ID for (jobID, offset) so that
// re-dispatching the same slice converges on the same row.
func ChunkKey(jobID string, offset int) string {
	return fmt.Sprintf("%s:%d", jobID, offset)
}
