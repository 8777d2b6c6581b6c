package matching

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Role identifies which side of a trade a fee rate applies to.
type Role int

const (
	RoleMaker Role = iota
	RoleTaker
)

// FeeSchedule is the immutable fee configuration for the engine, replacing the
// source's global constants with an explicit dependency object per §9.
type FeeSchedule struct {
	Taker    decimal.Decimal // positive
	Maker    decimal.Decimal // negative (rebate)
	Exchange decimal.Decimal
	Broker   decimal.Decimal
	Referral decimal.Decimal
}

// NewFeeSchedule validates TAKER - |MAKER| = EXCHANGE + BROKER + REFERRAL per §6.
func NewFeeSchedule(taker, maker, exchange, broker, referral decimal.Decimal) (FeeSchedule, error) {
	if !maker.IsNegative() {
		return FeeSchedule{}, fmt.Errorf("matching: FEES.MAKER must be negative, got %s", maker)
	}
	lhs := taker.Sub(maker.Abs())
	rhs := exchange.Add(broker).Add(referral)
	if !lhs.Equal(rhs) {
		return FeeSchedule{}, fmt.Errorf("matching: fee schedule inconsistent: TAKER-|MAKER|=%s, EXCHANGE+BROKER+REFERRAL=%s", lhs, rhs)
	}
	return FeeSchedule{
		Taker:    taker,
		Maker:    maker,
		Exchange: exchange,
		Broker:   broker,
		Referral: referral,
	}, nil
}

// Rate returns the fee rate applicable to role.
func (f FeeSchedule) Rate(role Role) decimal.Decimal {
	if role == RoleMaker {
		return f.Maker
	}
	return f.Taker
}
