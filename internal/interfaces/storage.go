package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/catena/internal/models"
)

// JobStorage - durable job records and their chunks.
// Progress and status writes are expressed as conditional/atomic operations
// so chunk workers and the watcher cannot lose updates when they race.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// CompareAndSetStatus transitions the job only if its current status
	// matches expected. Returns false without error when it does not.
	CompareAndSetStatus(ctx context.Context, jobID string, expected, target models.JobStatus, errorMsg string) (bool, error)

	// Chunk operations
	SaveChunk(ctx context.Context, chunk *models.Chunk) error

	// CompleteChunk marks the chunk completed and adds processed to the
	// job's progress in one atomic write, so a crash can never leave a
	// completed chunk whose work was not counted. Returns the updated job.
	CompleteChunk(ctx context.Context, chunk *models.Chunk, processed int) (*models.Job, error)
	GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error)
	GetChunksByJob(ctx context.Context, jobID string) ([]*models.Chunk, error)
	GetStaleChunks(ctx context.Context, olderThan time.Time) ([]*models.Chunk, error)
}

// JobListOptions filters job listings
type JobListOptions struct {
	OwnerID string
	Kind    models.JobKind
	Status  models.JobStatus
	Limit   int
	Offset  int
}

// TaskStorage - enrichment task persistence
type TaskStorage interface {
	SaveTask(ctx context.Context, task *models.EnrichmentTask) error

	// CreateTaskIfAbsent inserts the task unless its product already has a
	// pending or processing task. The existence check and the insert run
	// under one lock, so two concurrent callers cannot both claim the
	// product's in-flight slot. Returns the task that holds the slot.
	CreateTaskIfAbsent(ctx context.Context, task *models.EnrichmentTask) (bool, *models.EnrichmentTask, error)
	GetTask(ctx context.Context, taskID string) (*models.EnrichmentTask, error)

	// GetInFlightTaskForProduct returns the pending/processing task for a
	// product, or nil when the product has no in-flight task.
	GetInFlightTaskForProduct(ctx context.Context, productID string) (*models.EnrichmentTask, error)

	GetStaleTasks(ctx context.Context, olderThan time.Time, mediaOlderThan time.Time) ([]*models.EnrichmentTask, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// LinkStorage - scored product links, unique per (left, right) pair
type LinkStorage interface {
	// UpsertLink writes the link keyed on its pair key. Returns true when a
	// new row was created, false when an existing pair was updated.
	UpsertLink(ctx context.Context, link *models.Link) (bool, error)
	GetLink(ctx context.Context, leftID, rightID string) (*models.Link, error)
	GetLinksForRecord(ctx context.Context, recordID string) ([]*models.Link, error)
	DeleteLink(ctx context.Context, leftID, rightID string) error
}

// ProductStorage - catalog record persistence
type ProductStorage interface {
	UpsertProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductByKey(ctx context.Context, naturalKey string) (*models.Product, error)
	FindByNormalizedEAN(ctx context.Context, ean string, excludeSource string) ([]*models.Product, error)
	FindCandidates(ctx context.Context, ownerID, excludeSource string, limit int) ([]*models.Product, error)

	// ListPage returns up to limit products for an owner with ID greater
	// than afterID, ordered by ID. This is the bulk-link cursor.
	ListPage(ctx context.Context, ownerID, afterID string, limit int) ([]*models.Product, error)

	// ListByOwner returns the owner's products ordered by ID, sliced by
	// offset and limit. Export chunks replay the same slice on retry as
	// long as no concurrent import mutates the owner's dataset.
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*models.Product, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)

	// GetOrphanedEnriching returns products stuck in the enriching state
	// before the threshold; the caller checks for a live task.
	GetOrphanedEnriching(ctx context.Context, olderThan time.Time) ([]*models.Product, error)
	SetEnrichmentStatus(ctx context.Context, productID string, status models.EnrichmentStatus, errMsg string) error
}

// ArtifactStorage - export fragments and combined artifacts
type ArtifactStorage interface {
	WriteFragment(ctx context.Context, jobID string, chunkIndex int, data []byte) error
	// ListFragments returns fragment names for a job in storage listing
	// order; callers must not rely on that order being stable.
	ListFragments(ctx context.Context, jobID string) ([]string, error)
	ReadFragment(ctx context.Context, jobID string, name string) ([]byte, error)
	WriteArtifact(ctx context.Context, jobID string, data []byte) (string, error)
	DeleteFragments(ctx context.Context, jobID string) error
}

// StorageManager aggregates the individual stores behind one lifecycle
type StorageManager interface {
	JobStorage() JobStorage
	TaskStorage() TaskStorage
	LinkStorage() LinkStorage
	ProductStorage() ProductStorage
	ArtifactStorage() ArtifactStorage
	Close() error
}
