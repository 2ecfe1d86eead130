package models

import (
	"fmt"
	"time"
)

// EnrichmentStatus is the per-record enrichment state
type EnrichmentStatus string

const (
	EnrichmentStatusNone      EnrichmentStatus = "none"
	EnrichmentStatusEnriching EnrichmentStatus = "enriching"
	EnrichmentStatusEnriched  EnrichmentStatus = "enriched"
	EnrichmentStatusFailed    EnrichmentStatus = "failed"
)

// Product is one catalog record from a supplier feed or an enrichment
// dataset. Records are always written with Upsert on NaturalKey so that
// replaying an import chunk cannot duplicate rows.
type Product struct {
	ID         string `json:"id"`
	NaturalKey string `json:"natural_key" badgerhold:"key"`
	OwnerID    string `json:"owner_id" badgerholdIndex:"OwnerID"`
	Source     string `json:"source" badgerholdIndex:"Source"` // Dataset the record came from (supplier feed name, marketplace, analysis set)

	EAN           string  `json:"ean,omitempty"`
	NormalizedEAN string  `json:"normalized_ean,omitempty" badgerholdIndex:"NormalizedEAN"`
	Name          string  `json:"name"`
	Reference     string  `json:"reference,omitempty"`
	Price         float64 `json:"price,omitempty"`

	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	EnrichmentError  string           `json:"enrichment_error,omitempty"`

	// Attributes carries provider output (analysis text, marketplace data,
	// specification tables, media URLs) keyed by capability.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductNaturalKey builds the upsert key for a record. Reference wins when
// present; otherwise the raw EAN anchors the row.
func ProductNaturalKey(ownerID, source, reference, ean string) string {
	k := reference
	if k == "" {
		k = ean
	}
	return fmt.Sprintf("%s:%s:%s", ownerID, source, k)
}

// Validate checks required fields
func (p *Product) Validate() error {
	if p.NaturalKey == "" {
		return fmt.Errorf("product natural key is required")
	}
	if p.OwnerID == "" {
		return fmt.Errorf("product owner is required")
	}
	if p.Name == "" && p.EAN == "" {
		return fmt.Errorf("product requires a name or an EAN")
	}
	return nil
}
