package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// stubProvider fails with a fixed classification, or succeeds when kind
// is empty
type stubProvider struct {
	name     string
	supports map[models.Capability]bool
	kind     FailureKind
	calls    int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Supports(c models.Capability) bool {
	if p.supports == nil {
		return true
	}
	return p.supports[c]
}

func (p *stubProvider) Invoke(ctx context.Context, req *interfaces.ProviderRequest) (*interfaces.ProviderResult, error) {
	p.calls++
	if p.kind != "" {
		return nil, NewProviderError(p.name, p.kind, context.DeadlineExceeded)
	}
	return &interfaces.ProviderResult{
		Provider: p.name,
		Data:     json.RawMessage(`{"ok":true}`),
	}, nil
}

func analysisReq() *interfaces.ProviderRequest {
	return &interfaces.ProviderRequest{
		Capability: models.CapabilityAIAnalysis,
		Product:    &models.Product{ID: "p-1", Name: "Widget"},
	}
}

func TestRouterFirstSuccessWins(t *testing.T) {
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	router := NewRouter(arbor.NewLogger(), a, b)

	result, err := router.Invoke(context.Background(), analysisReq(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Provider != "a" {
		t.Errorf("Result from %s, want a", result.Provider)
	}
	if b.calls != 0 {
		t.Errorf("Second provider called %d times after first succeeded", b.calls)
	}
}

func TestRouterFallbackExhaustion(t *testing.T) {
	a := &stubProvider{name: "a", kind: FailureRateLimited}
	b := &stubProvider{name: "b", kind: FailureRateLimited}
	c := &stubProvider{name: "c"}
	router := NewRouter(arbor.NewLogger(), a, b, c)

	result, err := router.Invoke(context.Background(), analysisReq(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Provider != "c" {
		t.Errorf("Result from %s, want c", result.Provider)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("Call counts a=%d b=%d c=%d, each provider is tried at most once", a.calls, b.calls, c.calls)
	}
}

func TestRouterAllProvidersFail(t *testing.T) {
	a := &stubProvider{name: "a", kind: FailureRateLimited}
	b := &stubProvider{name: "b", kind: FailureUnavailable}
	router := NewRouter(arbor.NewLogger(), a, b)

	_, err := router.Invoke(context.Background(), analysisReq(), []string{"a", "b"})
	if err == nil {
		t.Fatal("Expected error when every provider fails")
	}
	if !strings.Contains(err.Error(), "attempted: a, b") {
		t.Errorf("Final error must name the attempted providers: %v", err)
	}
}

func TestRouterFatalFailureStopsImmediately(t *testing.T) {
	a := &stubProvider{name: "a", kind: FailureAuth}
	b := &stubProvider{name: "b"}
	router := NewRouter(arbor.NewLogger(), a, b)

	_, err := router.Invoke(context.Background(), analysisReq(), []string{"a", "b"})
	if err == nil {
		t.Fatal("Expected fatal error to propagate")
	}
	if b.calls != 0 {
		t.Errorf("Fallback ran %d times after a fatal failure", b.calls)
	}
}

func TestRouterSkipsUnsupportingProviders(t *testing.T) {
	text := &stubProvider{name: "text", supports: map[models.Capability]bool{models.CapabilityAIAnalysis: true}}
	media := &stubProvider{name: "media", supports: map[models.Capability]bool{models.CapabilityMedia: true}}
	router := NewRouter(arbor.NewLogger(), text, media)

	req := &interfaces.ProviderRequest{
		Capability: models.CapabilityMedia,
		Product:    &models.Product{ID: "p-1", Name: "Widget"},
	}
	result, err := router.Invoke(context.Background(), req, []string{"text", "media"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.Provider != "media" {
		t.Errorf("Result from %s, want media", result.Provider)
	}
	if text.calls != 0 {
		t.Error("Unsupporting provider must be skipped, not invoked")
	}
}

func TestRouterNoUsableProvider(t *testing.T) {
	router := NewRouter(arbor.NewLogger())

	if _, err := router.Invoke(context.Background(), analysisReq(), nil); err == nil {
		t.Error("Expected error for empty order")
	}
	if _, err := router.Invoke(context.Background(), analysisReq(), []string{"ghost"}); err == nil {
		t.Error("Expected error when no named provider is registered")
	}
}
