package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
	"golang.org/x/time/rate"
)

const claudeSystemPrompt = `You are a product data analyst for a supplier catalog system.
Given a raw product record, return a single JSON object with normalized attributes:
category, brand, description, and any technical specifications you can infer.
Return only the JSON object, no surrounding prose.`

// ClaudeProvider enriches products through the Anthropic API. It covers
// textual analysis and specification extraction but not media, which the
// routing configuration sends elsewhere.
type ClaudeProvider struct {
	client  anthropic.Client
	config  *common.ClaudeConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
	timeout time.Duration
}

func NewClaudeProvider(logger arbor.ILogger, cfg *common.ClaudeConfig) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or providers.claude.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	cfg.Model = model

	timeout := 60 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid claude timeout '%s': %w", cfg.Timeout, err)
		}
		timeout = d
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
	)

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Msg("Claude provider initialized")

	return &ClaudeProvider{
		client:  client,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		logger:  logger.WithPrefix("claude"),
		timeout: timeout,
	}, nil
}

func (p *ClaudeProvider) Name() string {
	return "claude"
}

func (p *ClaudeProvider) Supports(cap models.Capability) bool {
	switch cap {
	case models.CapabilityAIAnalysis, models.CapabilitySpecifications:
		return true
	}
	return false
}

func (p *ClaudeProvider) Invoke(ctx context.Context, req *interfaces.ProviderRequest) (*interfaces.ProviderResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewProviderError(p.Name(), FailureTimeout, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	prompt := buildProductPrompt(req)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.maxTokens()),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: claudeSystemPrompt},
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, NewProviderError(p.Name(), classifyMessage(err.Error()), err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, NewProviderError(p.Name(), FailureInternal, fmt.Errorf("empty response from Claude"))
	}

	data, err := extractJSONObject(text.String())
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureInternal, err)
	}

	return &interfaces.ProviderResult{
		Provider: p.Name(),
		Data:     data,
	}, nil
}

func (p *ClaudeProvider) maxTokens() int {
	if p.config.MaxTokens > 0 {
		return p.config.MaxTokens
	}
	return 4096
}

// buildProductPrompt renders the product record the model is asked to analyze
func buildProductPrompt(req *interfaces.ProviderRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capability requested: %s\n\n", req.Capability)
	fmt.Fprintf(&b, "Product name: %s\n", req.Product.Name)
	if req.Product.Reference != "" {
		fmt.Fprintf(&b, "Supplier reference: %s\n", req.Product.Reference)
	}
	if req.Product.EAN != "" {
		fmt.Fprintf(&b, "EAN: %s\n", req.Product.EAN)
	}
	if req.Product.Price > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", req.Product.Price)
	}
	for k, v := range req.Product.Attributes {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}

// extractJSONObject pulls the first JSON object out of a model response,
// tolerating markdown fences and leading prose.
func extractJSONObject(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("malformed JSON in response")
	}
	return json.RawMessage(candidate), nil
}
