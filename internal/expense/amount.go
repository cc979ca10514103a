package expense

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountToken matches the first number in free text, separators included.
// Apostrophes and (narrow) no-break spaces are thousands separators in
// Swiss and French formatting. Plain spaces only count between strict
// three digit groups, as in "1 234,56".
var amountToken = regexp.MustCompile(`-?(?:\d{1,3}(?: \d{3})+(?:[.,]\d+)?|\d[\d.,'\x{00A0}\x{202F}]*)`)

var plainNumber = regexp.MustCompile(`^\d+(\.\d+)?$`)

// parseAmount extracts a decimal from text such as "4.80€", "28 USD",
// "1.234,56" or "$1,234.56". Surrounding text is ignored.
//
// Separator rules: when both '.' and ',' appear the last one is the decimal
// mark. A lone ',' followed by exactly three digits is a thousands
// separator, otherwise a decimal mark. A lone '.' is always a decimal mark;
// repeated marks of the same kind are thousands separators.
func parseAmount(raw string) (decimal.Decimal, error) {
	token := amountToken.FindString(raw)
	if token == "" {
		return decimal.Zero, fmt.Errorf("no numeric value in %q", raw)
	}

	negative := strings.HasPrefix(token, "-")
	token = strings.TrimPrefix(token, "-")
	token = strings.TrimRight(token, ".,'\u00a0\u202f")
	token = strings.NewReplacer("'", "", " ", "", "\u00a0", "", "\u202f", "").Replace(token)

	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(token, ",") == 1 && len(token)-lastComma-1 != 3 {
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(token, ".") > 1 {
			token = strings.ReplaceAll(token, ".", "")
		}
	}

	if !plainNumber.MatchString(token) {
		return decimal.Zero, fmt.Errorf("malformed number %q", raw)
	}

	amount, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %q: %w", raw, err)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}
