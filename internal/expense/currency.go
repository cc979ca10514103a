package expense

import (
	"strings"
	"unicode"

	"golang.org/x/text/currency"
)

// Multi-character symbols come first so "US$" is not read as "$"
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"AU$", "AUD"},
	{"CA$", "CAD"},
	{"NZ$", "NZD"},
	{"HK$", "HKD"},
	{"A$", "AUD"},
	{"C$", "CAD"},
	{"S$", "SGD"},
	{"R$", "BRL"},
	{"zł", "PLN"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"₽", "RUB"},
	{"₺", "TRY"},
	{"₪", "ILS"},
	{"$", "USD"},
}

var currencyWords = map[string]string{
	"euro":    "EUR",
	"euros":   "EUR",
	"dollar":  "USD",
	"dollars": "USD",
	"bucks":   "USD",
	"pound":   "GBP",
	"pounds":  "GBP",
	"quid":    "GBP",
	"yen":     "JPY",
	"rupee":   "INR",
	"rupees":  "INR",
	"franc":   "CHF",
	"francs":  "CHF",
}

// hintCodes are the ISO codes recognized inside free text. Arbitrary
// three-letter words are not trusted there ("ALL" and "TOP" are currencies).
var hintCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "INR": true, "CNY": true,
	"HKD": true, "SGD": true, "SEK": true, "NOK": true, "DKK": true,
	"PLN": true, "CZK": true, "HUF": true, "BRL": true, "MXN": true,
	"ZAR": true, "KRW": true, "TRY": true, "ILS": true, "AED": true,
	"RON": true, "BGN": true, "THB": true,
}

// Codes that are also common words only count when written in capitals
var wordLikeCodes = map[string]bool{"TRY": true, "ILS": true, "RON": true}

// isISOCurrency reports whether code is a recognized ISO 4217 code
func isISOCurrency(code string) bool {
	if len(code) != 3 || code != strings.ToUpper(code) {
		return false
	}
	if code == "XXX" || code == "XTS" {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}

// resolveCurrency reads an explicit currency value: an ISO code in any case,
// a symbol or a currency word, possibly with surrounding text.
func resolveCurrency(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if code := strings.ToUpper(raw); isISOCurrency(code) {
		return code, true
	}
	for _, s := range currencySymbols {
		if raw == s.symbol {
			return s.code, true
		}
	}
	if code, ok := currencyWords[strings.ToLower(raw)]; ok {
		return code, true
	}
	return findCurrency(raw)
}

// findCurrency looks for a currency hint inside free text. The most
// specific hint wins: prefixed dollar symbols, then ISO codes, then other
// symbols and currency words. A bare "$" is the last resort, so "$45 CAD"
// reads as CAD.
func findCurrency(text string) (string, bool) {
	upper := strings.ToUpper(text)
	for _, s := range currencySymbols {
		if len(s.symbol) > 1 && strings.HasSuffix(s.symbol, "$") && strings.Contains(upper, s.symbol) {
			return s.code, true
		}
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if code := strings.ToUpper(w); len(w) == 3 && hintCodes[code] && (w == code || !wordLikeCodes[code]) {
			return code, true
		}
	}

	for _, s := range currencySymbols {
		if !strings.Contains(s.symbol, "$") && strings.Contains(upper, strings.ToUpper(s.symbol)) {
			return s.code, true
		}
	}
	for _, w := range words {
		if code, ok := currencyWords[strings.ToLower(w)]; ok {
			return code, true
		}
	}

	if strings.Contains(text, "$") {
		return "USD", true
	}
	return "", false
}
