package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
)

// Router dispatches enrichment requests across an ordered list of
// providers, advancing past transient failures and stopping on fatal
// ones. Each provider is tried at most once per call.
type Router struct {
	providers map[string]interfaces.Provider
	logger    arbor.ILogger
}

func NewRouter(logger arbor.ILogger, provs ...interfaces.Provider) *Router {
	m := make(map[string]interfaces.Provider, len(provs))
	for _, p := range provs {
		m[p.Name()] = p
	}
	return &Router{
		providers: m,
		logger:    logger.WithPrefix("router"),
	}
}

// Register adds or replaces a provider
func (r *Router) Register(p interfaces.Provider) {
	r.providers[p.Name()] = p
}

// Invoke walks the order list, skipping providers that are unknown or do
// not support the requested capability. The first success wins. A fatal
// failure propagates immediately; when every provider fails transiently
// the final error names all attempted providers.
func (r *Router) Invoke(ctx context.Context, req *interfaces.ProviderRequest, order []string) (*interfaces.ProviderResult, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("no provider order configured for capability %s", req.Capability)
	}

	var attempted []string
	var lastErr error

	for _, name := range order {
		p, ok := r.providers[name]
		if !ok {
			r.logger.Warn().Str("provider", name).Msg("Provider not registered, skipping")
			continue
		}
		if !p.Supports(req.Capability) {
			continue
		}

		attempted = append(attempted, name)
		result, err := p.Invoke(ctx, req)
		if err == nil {
			return result, nil
		}

		if !IsFallbackEligible(err) {
			return nil, fmt.Errorf("provider %s failed fatally: %w", name, err)
		}

		r.logger.Warn().Str("provider", name).Err(err).Msg("Provider failed, trying next")
		lastErr = err
	}

	if len(attempted) == 0 {
		return nil, fmt.Errorf("no registered provider supports capability %s", req.Capability)
	}
	return nil, fmt.Errorf("all providers failed (attempted: %s): %w", strings.Join(attempted, ", "), lastErr)
}
