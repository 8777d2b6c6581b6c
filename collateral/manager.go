// Package collateral locks and unlocks balance/position collateral against
// orders per §4.3.
package collateral

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/matching"
	"github.com/perpcore/matchengine/storage"
)

// Manager computes and moves collateral for orders. It holds no state of its
// own; every call takes the already-locked rows a Tx produced.
type Manager struct {
	fees matching.FeeSchedule
}

// New builds a Manager bound to fees, used to compute the worst-case taker
// fee folded into a non-post-only lock amount.
func New(fees matching.FeeSchedule) *Manager {
	return &Manager{fees: fees}
}

// LockResult reports what Lock moved.
type LockResult struct {
	LockedAsset    storage.LockedAssetType
	LockedQuantity decimal.Decimal
}

// Lock computes and moves the collateral for order per §4.3. balance is the
// account's USDT balance row (ASSET path); position is the opposite-side
// position row (POSITION path, reduce-only only) — callers pass whichever
// applies and leave the other nil.
func (m *Manager) Lock(order *storage.Order, balance *storage.Balance, position *storage.Position) (LockResult, error) {
	if order.ReduceOnly {
		return m.lockPosition(order, position)
	}
	return m.lockBalance(order, balance)
}

func (m *Manager) lockBalance(order *storage.Order, balance *storage.Balance) (LockResult, error) {
	var orderValue decimal.Decimal
	if order.Type == storage.OrderTypeLimit {
		orderValue = order.Quantity.Mul(order.Price)
	} else {
		orderValue = order.QuoteQuantity
	}

	amount := orderValue.Div(decimal.NewFromInt32(order.Leverage))
	if !order.PostOnly {
		amount = amount.Add(orderValue.Mul(m.fees.Taker))
	}
	amount = matching.CeilRound3(amount)

	if balance == nil || balance.Free.LessThan(amount) {
		log.Warn().Str("order_id", order.ID.String()).Str("amount", amount.String()).Msg("insufficient collateral")
		return LockResult{}, matching.ErrInsufficientCollateral
	}

	balance.Free = balance.Free.Sub(amount)
	balance.Locked = balance.Locked.Add(amount)

	order.LockedAsset = storage.LockedAssetBalance
	order.LockedQuantity = amount

	return LockResult{LockedAsset: storage.LockedAssetBalance, LockedQuantity: amount}, nil
}

func (m *Manager) lockPosition(order *storage.Order, position *storage.Position) (LockResult, error) {
	amount := order.Quantity

	if position == nil {
		return LockResult{}, matching.ErrInsufficientCollateral
	}
	available := position.Quantity.Sub(position.LockedQuantity)
	if available.LessThan(amount) {
		log.Warn().Str("order_id", order.ID.String()).Str("amount", amount.String()).Msg("insufficient position to reduce")
		return LockResult{}, matching.ErrInsufficientCollateral
	}

	position.LockedQuantity = position.LockedQuantity.Add(amount)

	order.LockedAsset = storage.LockedAssetPosition
	order.LockedQuantity = amount

	return LockResult{LockedAsset: storage.LockedAssetPosition, LockedQuantity: amount}, nil
}

// Unlock reverses Lock for an order being canceled, per §4.3. balance/position
// is whichever row order.LockedAsset names; the caller is responsible for
// having locked the correct one.
func (m *Manager) Unlock(order *storage.Order, balance *storage.Balance, position *storage.Position) error {
	switch order.LockedAsset {
	case storage.LockedAssetBalance:
		if balance == nil {
			return fmt.Errorf("collateral: unlock ASSET requires a balance row")
		}
		balance.Locked = balance.Locked.Sub(order.LockedQuantity)
		balance.Free = balance.Free.Add(order.LockedQuantity)
	case storage.LockedAssetPosition:
		if position == nil {
			return fmt.Errorf("collateral: unlock POSITION requires a position row")
		}
		position.LockedQuantity = position.LockedQuantity.Sub(order.LockedQuantity)
	case storage.LockedAssetNone:
		return nil
	}
	order.LockedAsset = storage.LockedAssetNone
	order.LockedQuantity = decimal.Zero
	return nil
}
