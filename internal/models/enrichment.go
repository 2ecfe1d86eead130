package models

import (
	"fmt"
	"time"
)

// Capability identifies one kind of provider work
type Capability string

const (
	CapabilityAIAnalysis      Capability = "ai_analysis"
	CapabilityMarketplaceData Capability = "marketplace_data"
	CapabilitySpecifications  Capability = "specifications"
	CapabilityMedia           Capability = "media"
)

// TaskStatus is the lifecycle state of an enrichment task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// EnrichmentTask is one unit of provider work bound to a product.
// At most one task with status pending or processing may exist per product;
// the task store's locked check-and-insert enforces this.
type EnrichmentTask struct {
	ID           string       `json:"id" badgerhold:"key"`
	ProductID    string       `json:"product_id" badgerholdIndex:"ProductID"`
	Capabilities []Capability `json:"capabilities"`
	Priority     int          `json:"priority"`
	Status       TaskStatus   `json:"status"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsInFlight returns true while the task still owns its product's slot
func (t *EnrichmentTask) IsInFlight() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// RequiresMedia reports whether the slow media staleness threshold applies
func (t *EnrichmentTask) RequiresMedia() bool {
	for _, c := range t.Capabilities {
		if c == CapabilityMedia {
			return true
		}
	}
	return false
}

// Validate checks required fields
func (t *EnrichmentTask) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if t.ProductID == "" {
		return fmt.Errorf("task product ID is required")
	}
	if len(t.Capabilities) == 0 {
		return fmt.Errorf("task requires at least one capability")
	}
	return nil
}
