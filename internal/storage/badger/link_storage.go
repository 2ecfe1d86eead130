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

// LinkStorage implements interfaces.LinkStorage on badgerhold.
// Links are keyed on the deterministic pair key, which makes every write
// an upsert and the (left, right) uniqueness invariant structural.
type LinkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewLinkStorage creates a new LinkStorage instance
func NewLinkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LinkStorage {
	return &LinkStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LinkStorage) UpsertLink(ctx context.Context, link *models.Link) (bool, error) {
	if err := link.Validate(); err != nil {
		return false, fmt.Errorf("invalid link: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link.PairKey = models.LinkPairKey(link.LeftID, link.RightID)

	var existing models.Link
	err := s.db.Store().Get(link.PairKey, &existing)
	created := err == badgerhold.ErrNotFound
	if err != nil && err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("failed to check existing link: %w", err)
	}

	if !created {
		// Keep the original identity and creation time; a re-link only
		// refreshes the type and score.
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	} else if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(link.PairKey, link); err != nil {
		return false, fmt.Errorf("failed to save link: %w", err)
	}
	return created, nil
}

func (s *LinkStorage) GetLink(ctx context.Context, leftID, rightID string) (*models.Link, error) {
	var link models.Link
	if err := s.db.Store().Get(models.LinkPairKey(leftID, rightID), &link); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

func (s *LinkStorage) GetLinksForRecord(ctx context.Context, recordID string) ([]*models.Link, error) {
	var links []models.Link
	query := badgerhold.Where("LeftID").Eq(recordID).Or(badgerhold.Where("RightID").Eq(recordID))
	if err := s.db.Store().Find(&links, query); err != nil {
		return nil, fmt.Errorf("failed to get links for record %s: %w", recordID, err)
	}

	result := make([]*models.Link, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}

func (s *LinkStorage) DeleteLink(ctx context.Context, leftID, rightID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().Delete(models.LinkPairKey(leftID, rightID), &models.Link{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}
