package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Cents is an AUD amount stored as BIGINT cents to avoid floating point errors.
type Cents int64

// ToDecimal converts cents to dollars.
func (c Cents) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c)).Div(hundred)
}

// Abs returns the magnitude.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// String returns the dollar representation, e.g. "-200.00 AUD".
func (c Cents) String() string {
	return fmt.Sprintf("%s %s", c.ToDecimal().StringFixed(2), Currency)
}

// ParseDollars converts a decimal dollar string ("100", "100.5", "1,250.00") to cents.
// More than two fractional digits is rejected rather than rounded.
func ParseDollars(raw string) (Cents, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has sub-cent precision", raw)
	}
	return Cents(scaled.IntPart()), nil
}
