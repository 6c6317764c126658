package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrTaxMatrixInvalid is returned when the tax category text cannot be parsed into a usable matrix.
var ErrTaxMatrixInvalid = errors.New("tax matrix: invalid")

const (
	taxDefaultRow           = "default"
	taxDefaultShorthandCat  = "A"
	taxMatrixPairSeparators = ",;|"
)

var (
	// InvalidTaxRate is returned by TaxForCategory for categories the matrix does not define.
	InvalidTaxRate = decimal.NewFromInt(-1)

	hundred = decimal.NewFromInt(100)
)

// TaxMatrix maps (country, category) to a tax rate in [0,1]. It is immutable once parsed.
type TaxMatrix struct {
	categories []string
	rows       map[string]map[string]decimal.Decimal
}

// ParseTaxMatrix builds a matrix from rows of the form
//
//	default A:20 B:10 C:0
//	AT      A:20 B:10
//	DE      A:19 B:7
//
// A text consisting of a single number is shorthand for one default category "A".
func ParseTaxMatrix(raw string) (*TaxMatrix, error) {
	m := &TaxMatrix{rows: make(map[string]map[string]decimal.Decimal)}

	for n, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.Map(func(r rune) rune {
			if strings.ContainsRune(taxMatrixPairSeparators, r) {
				return ' '
			}
			return r
		}, line))
		if len(fields) == 0 {
			continue
		}

		country := taxDefaultRow
		pairs := fields
		switch {
		case len(fields) == 1 && !strings.Contains(fields[0], ":"):
			pairs = []string{taxDefaultShorthandCat + ":" + fields[0]}
		case !strings.Contains(fields[0], ":"):
			country = normaliseTaxCountry(fields[0])
			pairs = fields[1:]
		}
		if _, dup := m.rows[country]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate row %q", ErrTaxMatrixInvalid, n+1, country)
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("%w: line %d: row %q has no categories", ErrTaxMatrixInvalid, n+1, country)
		}

		row := make(map[string]decimal.Decimal, len(pairs))
		var order []string
		for _, pair := range pairs {
			category, rate, err := parseTaxPair(pair)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrTaxMatrixInvalid, n+1, err)
			}
			if _, dup := row[category]; dup {
				return nil, fmt.Errorf("%w: line %d: duplicate category %q", ErrTaxMatrixInvalid, n+1, category)
			}
			row[category] = rate
			order = append(order, category)
		}
		m.rows[country] = row
		if country == taxDefaultRow {
			m.categories = order
		}
	}

	defaults, ok := m.rows[taxDefaultRow]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q row", ErrTaxMatrixInvalid, taxDefaultRow)
	}
	for country, row := range m.rows {
		for category := range row {
			if _, known := defaults[category]; !known {
				return nil, fmt.Errorf("%w: row %q uses category %q missing from the default row", ErrTaxMatrixInvalid, country, category)
			}
		}
	}
	return m, nil
}

// IsValidTaxMatrix reports whether raw parses into a matrix.
func IsValidTaxMatrix(raw string) bool {
	_, err := ParseTaxMatrix(raw)
	return err == nil
}

func parseTaxPair(pair string) (string, decimal.Decimal, error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 {
		return "", decimal.Zero, fmt.Errorf("malformed pair %q", pair)
	}
	category := strings.ToUpper(strings.TrimSpace(parts[0]))
	if category == "" {
		return "", decimal.Zero, fmt.Errorf("empty category in %q", pair)
	}
	percent, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(parts[1]), "%"))
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("invalid percentage in %q", pair)
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return "", decimal.Zero, fmt.Errorf("percentage out of range in %q", pair)
	}
	return category, percent.Div(hundred), nil
}

func normaliseTaxCountry(country string) string {
	trimmed := strings.TrimSpace(country)
	if strings.EqualFold(trimmed, taxDefaultRow) {
		return taxDefaultRow
	}
	return strings.ToUpper(trimmed)
}

// DefaultCategory is the first category of the default row.
func (m *TaxMatrix) DefaultCategory() string {
	if m == nil || len(m.categories) == 0 {
		return ""
	}
	return m.categories[0]
}

// Categories lists the categories of the default row in declaration order.
func (m *TaxMatrix) Categories() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.categories...)
}

// Countries lists the country rows, excluding the default row, sorted.
func (m *TaxMatrix) Countries() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.rows))
	for country := range m.rows {
		if country != taxDefaultRow {
			out = append(out, country)
		}
	}
	sort.Strings(out)
	return out
}

// TaxForCategory resolves the rate for a category in a country. An empty category resolves to the
// default category, an unknown country to the default row, and a country row lacking the category
// to the default row's rate. Unknown categories yield InvalidTaxRate.
func (m *TaxMatrix) TaxForCategory(category, country string) decimal.Decimal {
	if m == nil {
		return InvalidTaxRate
	}
	category = strings.ToUpper(strings.TrimSpace(category))
	if category == "" {
		category = m.DefaultCategory()
	}
	defaults := m.rows[taxDefaultRow]
	fallback, known := defaults[category]
	if !known {
		return InvalidTaxRate
	}
	if row, ok := m.rows[normaliseTaxCountry(country)]; ok {
		if rate, ok := row[category]; ok {
			return rate
		}
	}
	return fallback
}
