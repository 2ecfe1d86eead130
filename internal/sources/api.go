package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/interfaces"
)

// APISource pulls a supplier catalog from an HTTP endpoint returning a
// JSON array of records. The full payload is fetched once and cached, the
// same stability contract the file sources give chunk replays.
type APISource struct {
	url        string
	authHeader string
	httpClient *http.Client
	logger     arbor.ILogger

	records []interfaces.SourceRecord
	loaded  bool
}

type apiRecord struct {
	EAN       string            `json:"ean"`
	Barcode   string            `json:"barcode"`
	Name      string            `json:"name"`
	Title     string            `json:"title"`
	Reference string            `json:"reference"`
	SKU       string            `json:"sku"`
	Price     json.Number       `json:"price"`
	Extra     map[string]string `json:"extra"`
}

func NewAPISource(logger arbor.ILogger, url string, options map[string]string) *APISource {
	timeout := 60 * time.Second
	if t := options["timeout"]; t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}
	return &APISource{
		url:        url,
		authHeader: options["authorization"],
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithPrefix("api-source"),
	}
}

func (s *APISource) Count(ctx context.Context) (int, error) {
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	return len(s.records), nil
}

func (s *APISource) ReadChunk(ctx context.Context, offset, limit int) ([]interfaces.SourceRecord, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	if offset < 0 || offset >= len(s.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	return s.records[offset:end], nil
}

func (s *APISource) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.authHeader != "" {
		req.Header.Set("Authorization", s.authHeader)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var raw []apiRecord
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode catalog payload: %w", err)
	}

	records := make([]interfaces.SourceRecord, 0, len(raw))
	for _, r := range raw {
		rec := interfaces.SourceRecord{
			EAN:       firstNonEmpty(r.EAN, r.Barcode),
			Name:      firstNonEmpty(r.Name, r.Title),
			Reference: firstNonEmpty(r.Reference, r.SKU),
			Extra:     r.Extra,
		}
		if r.Price != "" {
			if v, err := strconv.ParseFloat(r.Price.String(), 64); err == nil {
				rec.Price = v
			}
		}
		if rec.EAN == "" && rec.Name == "" {
			continue
		}
		records = append(records, rec)
	}

	s.records = records
	s.loaded = true

	s.logger.Info().
		Str("url", s.url).
		Int("records", len(records)).
		Msg("Catalog loaded from API")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
