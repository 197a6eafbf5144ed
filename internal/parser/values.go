package parser

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// dateLayouts are tried in order. Layouts with a time component are truncated
// to their calendar date.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006.01.02",
	"2006-1-2",
	"2006/1/2",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// numericPattern matches plain decimal numbers with optional sign, thousands
// grouping, fraction and exponent.
var numericPattern = regexp.MustCompile(`^[+-]?(?:\d{1,3}(?:,\d{3})+|\d+)?(?:\.\d+)?(?:[eE][+-]?\d+)?$`)

// maxExponent bounds the decimal exponent of a numeric cell. Larger
// magnitudes expand to unbounded digit strings when bound to a statement, so
// such cells are stored as text.
const maxExponent = 1000

var errUnknownDateFormat = errors.New("unrecognised date format")

// parseDate converts a trade date cell into a calendar date.
func parseDate(raw string) (domain.Date, error) {
	s := width.Fold.String(strings.TrimSpace(raw))
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return domain.DateOf(t), nil
		}
	}
	return domain.Date{}, errUnknownDateFormat
}

// parseValue decides between the numeric and the text column.
// Exactly one of the returned values is set.
func parseValue(raw string) (decimal.NullDecimal, *string) {
	trimmed := strings.TrimSpace(raw)

	if n, ok := parseNumeric(trimmed); ok {
		return decimal.NewNullDecimal(n), nil
	}
	return decimal.NullDecimal{}, &trimmed
}

func parseNumeric(s string) (decimal.Decimal, bool) {
	folded := width.Fold.String(s)
	if folded == "" || !numericPattern.MatchString(folded) || !containsDigit(folded) {
		return decimal.Decimal{}, false
	}

	folded = strings.ReplaceAll(folded, ",", "")
	folded = strings.TrimPrefix(folded, "+")
	switch {
	case strings.HasPrefix(folded, "."):
		folded = "0" + folded
	case strings.HasPrefix(folded, "-."):
		folded = "-0" + folded[1:]
	}

	d, err := decimal.NewFromString(folded)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.Decimal{}, false
	}
	return d, true
}

// containsDigit rejects mantissa-less matches such as "e5" or "-".
func containsDigit(s string) bool {
	mantissa := s
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mantissa = s[:i]
	}
	return strings.ContainsAny(mantissa, "0123456789")
}
