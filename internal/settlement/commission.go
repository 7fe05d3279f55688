package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCommissionRate is the platform's share of every rental payment.
var DefaultCommissionRate = decimal.RequireFromString("0.1")

// Commission computes the owner's share of a payment after the platform fee.
type Commission struct {
	rate decimal.Decimal
}

// NewCommission validates rate, which must lie in [0, 1).
func NewCommission(rate decimal.Decimal) (Commission, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Commission{}, fmt.Errorf("commission rate %s out of range [0, 1)", rate)
	}
	return Commission{rate: rate}, nil
}

// ParseCommission parses a decimal string such as "0.1".
func ParseCommission(s string) (Commission, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return Commission{}, fmt.Errorf("parse commission rate %q: %w", s, err)
	}
	return NewCommission(rate)
}

// Rate returns the configured commission rate.
func (c Commission) Rate() decimal.Decimal {
	return c.rate
}

// Net returns floor(amount * (1 - rate)).
func (c Commission) Net(amount int64) int64 {
	share := decimal.NewFromInt(1).Sub(c.rate)
	return decimal.NewFromInt(amount).Mul(share).Floor().IntPart()
}
