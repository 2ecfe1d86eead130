package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ternarybob/catena/internal/models"
)

// ProviderRequest is a capability invocation for one product
type ProviderRequest struct {
	Capability models.Capability
	Product    *models.Product
}

// ProviderResult is the provider-agnostic output of one invocation.
// Data is merged into the product's attributes under the capability key.
type ProviderResult struct {
	Provider string
	Data     json.RawMessage
}

// Provider is one external capability endpoint (AI gateway, marketplace,
// media generator). Implementations return classified errors so the router
// can decide between falling back and failing fast.
type Provider interface {
	Name() string
	Supports(capability models.Capability) bool
	Invoke(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)
}

// ProviderRouter tries an ordered list of providers for one request
type ProviderRouter interface {
	Invoke(ctx context.Context, req *ProviderRequest, order []string) (*ProviderResult, error)
}
