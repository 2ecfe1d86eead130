package linking

import (
	"strings"
	"unicode"
)

// NormalizeEAN strips formatting from an EAN/GTIN code and validates it.
// Returns the digits-only form with the empty string for anything that is
// not a plausible barcode, so callers can treat "" as "no natural key".
func NormalizeEAN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch len(digits) {
	case 8, 12, 13, 14:
	default:
		return ""
	}

	if !validCheckDigit(digits) {
		return ""
	}
	return digits
}

// validCheckDigit verifies the GS1 check digit. Weights alternate 3 and 1
// from the position next to the check digit, rightmost data digit first.
func validCheckDigit(digits string) bool {
	sum := 0
	weight := 3
	for i := len(digits) - 2; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	check := (10 - sum%10) % 10
	return check == int(digits[len(digits)-1]-'0')
}
