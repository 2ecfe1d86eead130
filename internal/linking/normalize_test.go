package linking

import "testing"

func TestNormalizeEAN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Valid EAN-13",
			input:    "4006381333931",
			expected: "4006381333931",
		},
		{
			name:     "EAN-13 with hyphens",
			input:    "400-638-133-3931",
			expected: "4006381333931",
		},
		{
			name:     "EAN-13 with spaces",
			input:    " 4006381 333931 ",
			expected: "4006381333931",
		},
		{
			name:     "Valid EAN-8",
			input:    "96385074",
			expected: "96385074",
		},
		{
			name:     "Valid UPC-A (12 digits)",
			input:    "036000291452",
			expected: "036000291452",
		},
		{
			name:     "Valid GTIN-14",
			input:    "00012345600012",
			expected: "00012345600012",
		},
		{
			name:     "Bad check digit",
			input:    "4006381333932",
			expected: "",
		},
		{
			name:     "Too short",
			input:    "1234567",
			expected: "",
		},
		{
			name:     "Unsupported length (10 digits)",
			input:    "1234567890",
			expected: "",
		},
		{
			name:     "Empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "Letters only",
			input:    "not-a-barcode",
			expected: "",
		},
		{
			name:     "Digits buried in text",
			input:    "EAN: 4006381333931",
			expected: "4006381333931",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEAN(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeEAN(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidCheckDigit(t *testing.T) {
	// Known-good codes from real products
	valid := []string{"4006381333931", "5901234123457", "96385074", "036000291452"}
	for _, code := range valid {
		if !validCheckDigit(code) {
			t.Errorf("validCheckDigit(%q) = false, want true", code)
		}
	}

	invalid := []string{"4006381333930", "5901234123450", "96385075"}
	for _, code := range invalid {
		if validCheckDigit(code) {
			t.Errorf("validCheckDigit(%q) = true, want false", code)
		}
	}
}
