package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/catena/internal/interfaces"
)

// column aliases recognized in supplier CSV headers, lowercased
var (
	eanColumns       = []string{"ean", "ean13", "gtin", "barcode", "upc"}
	nameColumns      = []string{"name", "title", "product_name", "designation", "description"}
	referenceColumns = []string{"reference", "ref", "sku", "supplier_ref", "article"}
	priceColumns     = []string{"price", "unit_price", "price_ht", "cost"}
)

// CSVSource reads a supplier catalog from a delimited file. Rows are
// materialized once on first access and served by offset afterwards, so
// replaying a chunk sees the same slice it saw the first time.
type CSVSource struct {
	path      string
	delimiter rune
	records   []interfaces.SourceRecord
	loaded    bool
}

func NewCSVSource(path string, options map[string]string) *CSVSource {
	delim := ','
	if d := options["delimiter"]; d != "" {
		delim = rune(d[0])
	}
	return &CSVSource{path: path, delimiter: delim}
}

func (s *CSVSource) Count(ctx context.Context) (int, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return len(s.records), nil
}

func (s *CSVSource) ReadChunk(ctx context.Context, offset, limit int) ([]interfaces.SourceRecord, error) {
	if err := s.load(); err != nil {
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

func (s *CSVSource) load() error {
	if s.loaded {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open catalog file %s: %w", s.path, err)
	}
	defer f.Close()

	records, err := ParseCatalogCSV(f, s.delimiter)
	if err != nil {
		return fmt.Errorf("failed to parse catalog file %s: %w", s.path, err)
	}
	s.records = records
	s.loaded = true
	return nil
}

// ParseCatalogCSV reads a header-first delimited catalog into source
// records. Unrecognized columns land in Extra so nothing the supplier
// sent is dropped. Rows missing both a name and an EAN are skipped.
func ParseCatalogCSV(r io.Reader, delimiter rune) ([]interfaces.SourceRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	eanIdx := findColumn(header, eanColumns)
	nameIdx := findColumn(header, nameColumns)
	refIdx := findColumn(header, referenceColumns)
	priceIdx := findColumn(header, priceColumns)

	if eanIdx < 0 && nameIdx < 0 {
		return nil, fmt.Errorf("no EAN or name column found in header %v", header)
	}

	var records []interfaces.SourceRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		rec := interfaces.SourceRecord{
			EAN:       cell(row, eanIdx),
			Name:      cell(row, nameIdx),
			Reference: cell(row, refIdx),
		}
		if p := cell(row, priceIdx); p != "" {
			rec.Price = parsePrice(p)
		}
		if rec.EAN == "" && rec.Name == "" {
			continue
		}

		for i, h := range header {
			if i == eanIdx || i == nameIdx || i == refIdx || i == priceIdx {
				continue
			}
			v := cell(row, i)
			if v == "" {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string)
			}
			rec.Extra[strings.ToLower(strings.TrimSpace(h))] = v
		}

		records = append(records, rec)
	}
	return records, nil
}

func findColumn(header []string, aliases []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// parsePrice tolerates European decimal commas and currency symbols
func parsePrice(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, raw)
	if strings.Contains(cleaned, ",") && !strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
