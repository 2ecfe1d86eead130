package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

const geminiAnalysisInstruction = `You are a product data analyst for a supplier catalog system.
Given the product record below, return a single JSON object with normalized attributes:
category, brand, description, and any technical specifications you can infer.
Return only the JSON object, no surrounding prose.

%s`

const geminiMediaInstruction = `Write a concise studio-quality image generation brief for this product.
Return a JSON object with fields "prompt" and "style".

%s`

// GeminiProvider enriches products through the Gemini API. It is the
// fallback for textual analysis and the only provider handling media.
type GeminiProvider struct {
	client  *genai.Client
	config  *common.GeminiConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
	timeout time.Duration
}

func NewGeminiProvider(ctx context.Context, logger arbor.ILogger, cfg *common.GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or providers.gemini.api_key)")
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = "gemini-2.5-flash-image"
	}

	timeout := 60 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid gemini timeout '%s': %w", cfg.Timeout, err)
		}
		timeout = d
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Debug().
		Str("model", cfg.Model).
		Str("image_model", cfg.ImageModel).
		Dur("timeout", timeout).
		Msg("Gemini provider initialized")

	return &GeminiProvider{
		client:  client,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger.WithPrefix("gemini"),
		timeout: timeout,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Supports(cap models.Capability) bool {
	switch cap {
	case models.CapabilityAIAnalysis, models.CapabilitySpecifications, models.CapabilityMedia:
		return true
	}
	return false
}

func (p *GeminiProvider) Invoke(ctx context.Context, req *interfaces.ProviderRequest) (*interfaces.ProviderResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewProviderError(p.Name(), FailureTimeout, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := p.config.Model
	instruction := fmt.Sprintf(geminiAnalysisInstruction, buildProductPrompt(req))
	if req.Capability == models.CapabilityMedia {
		model = p.config.ImageModel
		instruction = fmt.Sprintf(geminiMediaInstruction, buildProductPrompt(req))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.3)),
	}

	resp, err := p.client.Models.GenerateContent(timeoutCtx, model, []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromText(instruction),
			},
		},
	}, config)
	if err != nil {
		return nil, NewProviderError(p.Name(), classifyMessage(err.Error()), err)
	}

	text := resp.Text()
	if text == "" {
		return nil, NewProviderError(p.Name(), FailureInternal, fmt.Errorf("empty response from Gemini"))
	}

	data, err := extractJSONObject(text)
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureInternal, err)
	}

	return &interfaces.ProviderResult{
		Provider: p.Name(),
		Data:     data,
	}, nil
}
