package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProductStorage implements interfaces.ProductStorage on badgerhold
type ProductStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewProductStorage creates a new ProductStorage instance
func NewProductStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProductStorage {
	return &ProductStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProductStorage) UpsertProduct(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return fmt.Errorf("invalid product: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing models.Product
	err := s.db.Store().Get(product.NaturalKey, &existing)
	if err == nil {
		// Replayed imports keep the original identity
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		if product.EnrichmentStatus == "" {
			product.EnrichmentStatus = existing.EnrichmentStatus
		}
	} else if err == badgerhold.ErrNotFound {
		if product.ID == "" {
			product.ID = common.NewProductID()
		}
		if product.CreatedAt.IsZero() {
			product.CreatedAt = time.Now()
		}
		if product.EnrichmentStatus == "" {
			product.EnrichmentStatus = models.EnrichmentStatusNone
		}
	} else {
		return fmt.Errorf("failed to check existing product: %w", err)
	}

	product.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(product.NaturalKey, product); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *ProductStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var products []models.Product
	if err := s.db.Store().Find(&products, badgerhold.Where("ID").Eq(id).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	return &products[0], nil
}

func (s *ProductStorage) GetProductByKey(ctx context.Context, naturalKey string) (*models.Product, error) {
	var product models.Product
	if err := s.db.Store().Get(naturalKey, &product); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product by key: %w", err)
	}
	return &product, nil
}

func (s *ProductStorage) FindByNormalizedEAN(ctx context.Context, ean string, excludeSource string) ([]*models.Product, error) {
	if ean == "" {
		return nil, nil
	}

	var products []models.Product
	query := badgerhold.Where("NormalizedEAN").Eq(ean)
	if excludeSource != "" {
		query = query.And("Source").Ne(excludeSource)
	}
	if err := s.db.Store().Find(&products, query); err != nil {
		return nil, fmt.Errorf("failed to find products by EAN: %w", err)
	}

	result := make([]*models.Product, len(products))
	for i := range products {
		result[i] = &products[i]
	}
	return result, nil
}

func (s *ProductStorage) FindCandidates(ctx context.Context, ownerID, excludeSource string, limit int) ([]*models.Product, error) {
	var products []models.Product
	query := badgerhold.Where("OwnerID").Eq(ownerID)
	if excludeSource != "" {
		query = query.And("Source").Ne(excludeSource)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&products, query); err != nil {
		return nil, fmt.Errorf("failed to find candidate products: %w", err)
	}

	result := make([]*models.Product, len(products))
	for i := range products {
		result[i] = &products[i]
	}
	return result, nil
}

// ListPage implements the bulk-link cursor: products for an owner with ID
// strictly greater than afterID, ordered by ID. Badgerhold string ordering
// matches the cursor's lexicographic contract.
func (s *ProductStorage) ListPage(ctx context.Context, ownerID, afterID string, limit int) ([]*models.Product, error) {
	var products []models.Product
	query := badgerhold.Where("OwnerID").Eq(ownerID)
	if err := s.db.Store().Find(&products, query); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	result := make([]*models.Product, 0, limit)
	for i := range products {
		if products[i].ID <= afterID {
			continue
		}
		result = append(result, &products[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ListByOwner serves offset-addressed export chunks. The full owner set is
// sorted by ID before slicing so a replayed offset sees the same rows.
func (s *ProductStorage) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*models.Product, error) {
	var products []models.Product
	if err := s.db.Store().Find(&products, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	if offset < 0 || offset >= len(products) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(products) {
		end = len(products)
	}

	result := make([]*models.Product, 0, end-offset)
	for i := offset; i < end; i++ {
		result = append(result, &products[i])
	}
	return result, nil
}

func (s *ProductStorage) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	count, err := s.db.Store().Count(&models.Product{}, badgerhold.Where("OwnerID").Eq(ownerID))
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return int(count), nil
}

func (s *ProductStorage) GetOrphanedEnriching(ctx context.Context, olderThan time.Time) ([]*models.Product, error) {
	var enriching []models.Product
	if err := s.db.Store().Find(&enriching, badgerhold.Where("EnrichmentStatus").Eq(models.EnrichmentStatusEnriching)); err != nil {
		return nil, fmt.Errorf("failed to find enriching products: %w", err)
	}

	var orphaned []*models.Product
	for i := range enriching {
		if enriching[i].UpdatedAt.Before(olderThan) {
			orphaned = append(orphaned, &enriching[i])
		}
	}
	return orphaned, nil
}

func (s *ProductStorage) SetEnrichmentStatus(ctx context.Context, productID string, status models.EnrichmentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var products []models.Product
	if err := s.db.Store().Find(&products, badgerhold.Where("ID").Eq(productID).Limit(1)); err != nil {
		return fmt.Errorf("failed to find product %s: %w", productID, err)
	}
	if len(products) == 0 {
		return fmt.Errorf("product not found: %s", productID)
	}

	p := products[0]
	p.EnrichmentStatus = status
	p.EnrichmentError = errMsg
	p.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(p.NaturalKey, &p); err != nil {
		return fmt.Errorf("failed to update enrichment status: %w", err)
	}
	return nil
}
