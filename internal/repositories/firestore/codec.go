package firestore

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money fields are stored as decimal strings.
func encodeMoney(v decimal.Decimal) string {
	return v.String()
}

func decodeMoney(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

// moneyDecoder collects the first decode failure so document converters stay linear.
type moneyDecoder struct {
	err error
}

func (d *moneyDecoder) decode(field, raw string) decimal.Decimal {
	v, err := decodeMoney(field, raw)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
