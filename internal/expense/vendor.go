package expense

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxVendorLength caps normalized vendor names, in runes
const MaxVendorLength = 64

func normalizeVendor(raw string) (string, error) {
	vendor := strings.Join(strings.Fields(raw), " ")
	if vendor == "" {
		return "", fmt.Errorf("vendor is empty")
	}

	// Mixed case is assumed deliberate ("McDonald's", "eBay")
	lower, upper := strings.ToLower(vendor), strings.ToUpper(vendor)
	if lower != upper && (vendor == lower || vendor == upper) {
		// A Caser is stateful, so one per call
		vendor = cases.Title(language.Und).String(vendor)
	}

	if utf8.RuneCountInString(vendor) > MaxVendorLength {
		vendor = strings.TrimSpace(string([]rune(vendor)[:MaxVendorLength]))
	}
	return vendor, nil
}
