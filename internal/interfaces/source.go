package interfaces

import (
	"context"

	"github.com/ternarybob/catena/internal/models"
)

// SourceRecord is one raw row read from a catalog source before it is
// normalized into a Product.
type SourceRecord struct {
	EAN       string
	Name      string
	Reference string
	Price     float64
	Extra     map[string]string
}

// Source is a readable catalog dataset. Count runs before any job row is
// created so an empty source fails fast; ReadChunk is offset-addressed so
// a chunk can be replayed from its last committed offset.
type Source interface {
	Count(ctx context.Context) (int, error)
	ReadChunk(ctx context.Context, offset, limit int) ([]SourceRecord, error)
}

// SourceFactory resolves a descriptor into a readable source
type SourceFactory interface {
	Open(ctx context.Context, desc models.SourceDescriptor) (Source, error)
}
