package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// Service creates and executes enrichment tasks. Task creation enforces
// at most one in-flight task per product: the store's locked
// check-and-insert makes the slot structural, not advisory. Execution
// routes each capability through the provider router and merges results
// into the product's attributes.
type Service struct {
	tasks    interfaces.TaskStorage
	products interfaces.ProductStorage
	router   interfaces.ProviderRouter
	queue    interfaces.QueueManager
	config   *common.ProvidersConfig
	logger   arbor.ILogger
}

func NewService(logger arbor.ILogger, tasks interfaces.TaskStorage, products interfaces.ProductStorage, router interfaces.ProviderRouter, queue interfaces.QueueManager, cfg *common.ProvidersConfig) *Service {
	return &Service{
		tasks:    tasks,
		products: products,
		router:   router,
		queue:    queue,
		config:   cfg,
		logger:   logger.WithPrefix("enrichment"),
	}
}

// RequestEnrichment creates a task for the product and dispatches it.
// When the product already has a pending or processing task that task is
// returned unchanged, so duplicate requests, chunk replays, and
// concurrent deliveries cannot double-enrich a record.
func (s *Service) RequestEnrichment(ctx context.Context, productID string, capabilities []models.Capability, priority int) (*models.EnrichmentTask, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	now := time.Now()
	task := &models.EnrichmentTask{
		ID:           common.NewTaskID(),
		ProductID:    productID,
		Capabilities: capabilities,
		Priority:     priority,
		Status:       models.TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The store claims the product's single in-flight slot under one lock,
	// so concurrent requests for the same product all resolve to the task
	// that won.
	created, winner, err := s.tasks.CreateTaskIfAbsent(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for %s: %w", productID, err)
	}
	if !created {
		s.logger.Debug().
			Str("product", productID).
			Str("task", winner.ID).
			Msg("Product already has an in-flight task")
		return winner, nil
	}

	if err := s.products.SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusEnriching, ""); err != nil {
		return nil, fmt.Errorf("failed to mark product enriching: %w", err)
	}

	msg, err := models.NewEnrichMessage(task.ID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	s.logger.Info().
		Str("product", productID).
		Str("task", task.ID).
		Int("capabilities", len(capabilities)).
		Msg("Enrichment task dispatched")
	return task, nil
}

// ExecuteTask runs one task end to end. Replays of a completed task are
// no-ops; each capability's result is merged into the product under the
// capability key so partial completion survives a retry.
func (s *Service) ExecuteTask(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if task.Status == models.TaskStatusCompleted {
		return nil
	}

	product, err := s.products.GetProduct(ctx, task.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load product %s for task %s: %w", task.ProductID, taskID, err)
	}

	task.Status = models.TaskStatusProcessing
	task.AttemptCount++
	task.UpdatedAt = time.Now()
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}

	for _, capability := range task.Capabilities {
		if hasAttribute(product, capability) {
			// A previous attempt already filled this capability
			continue
		}

		result, err := s.router.Invoke(ctx, &interfaces.ProviderRequest{
			Capability: capability,
			Product:    product,
		}, s.orderFor(capability))
		if err != nil {
			return s.failTask(ctx, task, product, capability, err)
		}

		mergeResult(product, capability, result)
		if err := s.products.UpsertProduct(ctx, product); err != nil {
			return fmt.Errorf("failed to persist enrichment for %s: %w", product.ID, err)
		}
	}

	task.Status = models.TaskStatusCompleted
	task.LastError = ""
	task.UpdatedAt = time.Now()
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	if err := s.products.SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusEnriched, ""); err != nil {
		return fmt.Errorf("failed to mark product enriched: %w", err)
	}

	s.logger.Info().
		Str("task", task.ID).
		Str("product", product.ID).
		Msg("Enrichment task completed")
	return nil
}

func (s *Service) failTask(ctx context.Context, task *models.EnrichmentTask, product *models.Product, capability models.Capability, cause error) error {
	task.Status = models.TaskStatusFailed
	task.LastError = cause.Error()
	task.UpdatedAt = time.Now()
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to record task failure: %w", err)
	}
	if err := s.products.SetEnrichmentStatus(ctx, product.ID, models.EnrichmentStatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("failed to record product enrichment failure: %w", err)
	}

	s.logger.Warn().
		Str("task", task.ID).
		Str("product", product.ID).
		Str("capability", string(capability)).
		Err(cause).
		Msg("Enrichment task failed")
	return fmt.Errorf("capability %s failed for product %s: %w", capability, product.ID, cause)
}

// orderFor picks the configured provider order for a capability
func (s *Service) orderFor(capability models.Capability) []string {
	switch capability {
	case models.CapabilityMedia:
		return s.config.MediaOrder
	case models.CapabilityMarketplaceData:
		return []string{"marketplace"}
	default:
		return s.config.AnalysisOrder
	}
}

func hasAttribute(product *models.Product, capability models.Capability) bool {
	if product.Attributes == nil {
		return false
	}
	_, ok := product.Attributes[string(capability)]
	return ok
}

func mergeResult(product *models.Product, capability models.Capability, result *interfaces.ProviderResult) {
	if product.Attributes == nil {
		product.Attributes = make(map[string]interface{})
	}
	var parsed interface{}
	if err := json.Unmarshal(result.Data, &parsed); err != nil {
		parsed = string(result.Data)
	}
	product.Attributes[string(capability)] = parsed
	product.Attributes[string(capability)+"_provider"] = result.Provider
}
