package textutil

import (
	"errors"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
)

// ErrInvalidCurrency reports a currency code that is not an ISO 4217 code.
var ErrInvalidCurrency = errors.New("textutil: invalid currency code")

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup from free text, collapses whitespace and truncates to maxRunes
// when maxRunes is positive.
func SanitizePlainText(raw string, maxRunes int) string {
	cleaned := html.UnescapeString(plainTextPolicy.Sanitize(raw))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// NormalizeCurrency upper-cases and validates an ISO 4217 currency code.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", ErrInvalidCurrency
	}
	return unit.String(), nil
}
