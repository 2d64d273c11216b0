package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Commission struct {
	rate decimal.Decimal
}

// ParseCommission accepts a rate in [0, 1) such as "0.05".
func ParseCommission(rate string) (Commission, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return Commission{}, fmt.Errorf("%w: %q", ErrInvalidCommissionRate, rate)
	}
	if r.IsNegative() || r.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Commission{}, fmt.Errorf("%w: %s", ErrInvalidCommissionRate, r)
	}

	return Commission{rate: r}, nil
}

func (c Commission) Rate() decimal.Decimal {
	return c.rate
}

// Fee is the commission on gross rounded half away from zero to a whole unit.
func (c Commission) Fee(gross int64) int64 {
	return decimal.NewFromInt(gross).Mul(c.rate).Round(0).IntPart()
}

func (c Commission) Net(gross int64) int64 {
	return gross - c.Fee(gross)
}

// CandidateAmount is the signed amount a candidate of kind carries for gross.
func (c Commission) CandidateAmount(kind CandidateKind, gross int64) int64 {
	net := c.Net(gross)
	if kind == CandidateKindRefund {
		return -net
	}

	return net
}
