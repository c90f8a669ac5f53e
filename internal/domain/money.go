package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var microsPerUnit = decimal.NewFromInt(1_000_000)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return MicrosToDecimal(m.Amount)
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// MicrosToDecimal converts micros to a decimal amount in currency units.
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(microsPerUnit)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating sub-micro precision.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsPerUnit).IntPart()
}

// ParseMicros parses a decimal string such as a NUMERIC column rendered as text.
func ParseMicros(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// RoundToCents rounds micros half-up to the nearest cent.
func RoundToCents(micros int64) int64 {
	return FromDecimal(MicrosToDecimal(micros).Round(2))
}

// FormatMicros renders micros with two decimal places.
func FormatMicros(micros int64) string {
	return MicrosToDecimal(micros).StringFixed(2)
}
