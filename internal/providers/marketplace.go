package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/interfaces"
	"github.com/ternarybob/catena/internal/models"
)

// MarketplaceProvider scrapes published listing data for a product from a
// marketplace search page, keyed on EAN. It is rate limited because the
// marketplace throttles aggressively.
type MarketplaceProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

type marketplaceListing struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Seller   string `json:"seller"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

func NewMarketplaceProvider(logger arbor.ILogger, cfg *common.MarketplaceConfig) (*MarketplaceProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("marketplace base_url is required")
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid marketplace timeout '%s': %w", cfg.Timeout, err)
		}
		timeout = d
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &MarketplaceProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		logger:     logger.WithPrefix("marketplace"),
	}, nil
}

func (p *MarketplaceProvider) Name() string {
	return "marketplace"
}

func (p *MarketplaceProvider) Supports(cap models.Capability) bool {
	return cap == models.CapabilityMarketplaceData
}

func (p *MarketplaceProvider) Invoke(ctx context.Context, req *interfaces.ProviderRequest) (*interfaces.ProviderResult, error) {
	query := req.Product.EAN
	if query == "" {
		query = req.Product.Name
	}
	if query == "" {
		return nil, NewProviderError(p.Name(), FailureBadRequest, fmt.Errorf("product has neither EAN nor name to search on"))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewProviderError(p.Name(), FailureTimeout, err)
	}

	searchURL := fmt.Sprintf("%s/search?q=%s", p.baseURL, url.QueryEscape(query))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureBadRequest, err)
	}
	httpReq.Header.Set("User-Agent", "catena/"+common.GetVersion())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewProviderError(p.Name(), ClassifyHTTPStatus(resp.StatusCode),
			fmt.Errorf("marketplace returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	listings, err := p.parseListings(resp.Body)
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureInternal, err)
	}

	p.logger.Debug().
		Str("query", query).
		Int("listings", len(listings)).
		Msg("Marketplace search completed")

	data, err := json.Marshal(map[string]interface{}{
		"query":    query,
		"listings": listings,
	})
	if err != nil {
		return nil, NewProviderError(p.Name(), FailureInternal, err)
	}

	return &interfaces.ProviderResult{
		Provider: p.Name(),
		Data:     data,
	}, nil
}

// parseListings extracts listing cards from the marketplace search page
func (p *MarketplaceProvider) parseListings(body io.Reader) ([]marketplaceListing, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace HTML: %w", err)
	}

	var listings []marketplaceListing
	doc.Find(".listing, .product-card, [data-listing]").Each(func(_ int, s *goquery.Selection) {
		listing := marketplaceListing{
			Title:  strings.TrimSpace(s.Find(".title, h2, h3").First().Text()),
			Price:  strings.TrimSpace(s.Find(".price, [data-price]").First().Text()),
			Seller: strings.TrimSpace(s.Find(".seller, .vendor").First().Text()),
		}
		if href, ok := s.Find("a").First().Attr("href"); ok {
			listing.URL = href
		}
		if src, ok := s.Find("img").First().Attr("src"); ok {
			listing.ImageURL = src
		}
		if listing.Title != "" {
			listings = append(listings, listing)
		}
	})

	return listings, nil
}
