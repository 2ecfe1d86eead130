package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCatalogCSV(t *testing.T) {
	input := `EAN;Name;Reference;Price;Color
4006381333931;Stabilo Boss Yellow;SB-70-44;2,49 EUR;yellow
96385074;Moleskine Notebook;MN-001;14.90;
;Parker Jotter Pen;PJ-60;9.99;blue
;;;;
`
	records, err := ParseCatalogCSV(strings.NewReader(input), ';')
	if err != nil {
		t.Fatalf("ParseCatalogCSV failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Parsed %d records, want 3", len(records))
	}

	first := records[0]
	if first.EAN != "4006381333931" {
		t.Errorf("EAN = %q", first.EAN)
	}
	if first.Name != "Stabilo Boss Yellow" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.Reference != "SB-70-44" {
		t.Errorf("Reference = %q", first.Reference)
	}
	if first.Price != 2.49 {
		t.Errorf("Price = %v, want 2.49 (European decimal comma)", first.Price)
	}
	if first.Extra["color"] != "yellow" {
		t.Errorf("Extra[color] = %q, unrecognized columns must be preserved", first.Extra["color"])
	}

	if records[1].Price != 14.90 {
		t.Errorf("Price = %v, want 14.90", records[1].Price)
	}

	// Row with name but no EAN is still importable
	if records[2].Name != "Parker Jotter Pen" || records[2].EAN != "" {
		t.Errorf("Name-only row mis-parsed: %+v", records[2])
	}
}

func TestParseCatalogCSVColumnAliases(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"Standard", "ean,name,reference,price"},
		{"GTIN and SKU", "gtin,title,sku,unit_price"},
		{"Barcode and designation", "barcode,designation,ref,cost"},
		{"Uppercase with spaces", " EAN , Product_Name , Supplier_Ref , Price_HT "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.header + "\n4006381333931,Widget,W-1,5.00\n"
			records, err := ParseCatalogCSV(strings.NewReader(input), ',')
			if err != nil {
				t.Fatalf("ParseCatalogCSV failed: %v", err)
			}
			if len(records) != 1 {
				t.Fatalf("Parsed %d records, want 1", len(records))
			}
			r := records[0]
			if r.EAN != "4006381333931" || r.Name != "Widget" || r.Reference != "W-1" || r.Price != 5.00 {
				t.Errorf("Aliased columns mis-mapped: %+v", r)
			}
		})
	}
}

func TestParseCatalogCSVRejectsUnusableHeader(t *testing.T) {
	input := "supplier,warehouse,stock\nacme,berlin,40\n"
	_, err := ParseCatalogCSV(strings.NewReader(input), ',')
	if err == nil {
		t.Fatal("Expected error for header with neither EAN nor name column")
	}
}

func TestParseCatalogCSVEmptyInput(t *testing.T) {
	records, err := ParseCatalogCSV(strings.NewReader(""), ',')
	if err != nil {
		t.Fatalf("Empty input must not error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Parsed %d records from empty input", len(records))
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"2.49", 2.49},
		{"2,49", 2.49},
		{"2,49 EUR", 2.49},
		{"$1,234.56", 1234.56},
		{"14.90", 14.9},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parsePrice(tt.input); got != tt.expected {
			t.Errorf("parsePrice(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCSVSourceReadChunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.csv")

	var b strings.Builder
	b.WriteString("name,reference,price\n")
	for i := 0; i < 10; i++ {
		b.WriteString("Product ")
		b.WriteByte(byte('A' + i))
		b.WriteString(",REF-")
		b.WriteByte(byte('0' + i))
		b.WriteString(",1.00\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	source := NewCSVSource(path, nil)
	ctx := context.Background()

	count, err := source.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 10 {
		t.Fatalf("Count = %d, want 10", count)
	}

	chunk, err := source.ReadChunk(ctx, 4, 3)
	if err != nil {
		t.Fatalf("ReadChunk failed: %v", err)
	}
	if len(chunk) != 3 {
		t.Fatalf("ReadChunk returned %d records, want 3", len(chunk))
	}
	if chunk[0].Name != "Product E" {
		t.Errorf("Chunk starts at %q, want Product E", chunk[0].Name)
	}

	// Last slice is short; past-the-end is empty
	tail, err := source.ReadChunk(ctx, 8, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 {
		t.Errorf("Tail chunk has %d records, want 2", len(tail))
	}
	past, err := source.ReadChunk(ctx, 20, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("Past-the-end chunk has %d records, want 0", len(past))
	}

	// Replaying a chunk sees the same slice
	replay, err := source.ReadChunk(ctx, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	if replay[0].Name != chunk[0].Name || replay[2].Name != chunk[2].Name {
		t.Error("Replayed chunk differs from first read")
	}
}
