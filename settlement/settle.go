// Package settlement mutates orders, positions, and balances for a single
// maker/taker fill, per §4.6. This is the direct Go rendering of
// orm/models.py's Trade.create_trade + SubTrade.create_sub_trades.
package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/matching"
	"github.com/perpcore/matchengine/storage"
)

// PartyInput bundles the mutable rows settlement needs for one side
// (maker or taker) of a fill.
type PartyInput struct {
	Order    *storage.Order
	Balance  *storage.Balance // non-nil when Order.LockedAsset == ASSET
	Position *storage.Position
}

// Outcome is the typed record of what one Settle call produced, replacing the
// source's runtime-polymorphic records dict per §9.
type Outcome struct {
	Trade        *storage.Trade
	MakerSub     *storage.SubTrade
	TakerSub     *storage.SubTrade
	NoTrade      bool // q snapped to zero; no Trade/SubTrades were written
}

// Settle fills maker against taker for up to the crossable quantity, mutating
// both orders, positions, and balances in place, and returns the records to
// publish. lot is the contract's min_base_quantity.
func Settle(fees matching.FeeSchedule, clock matching.Clock, lot decimal.Decimal, maker, taker PartyInput) (*Outcome, error) {
	makerOrder, takerOrder := maker.Order, taker.Order

	makerRemaining := makerOrder.Quantity.Sub(makerOrder.FilledQuantity)

	var q decimal.Decimal
	if takerOrder.IsQuoteMeasured() {
		takerRemainingQuote := takerOrder.QuoteQuantity.Sub(takerOrder.FilledQuote)
		q = matching.Min(makerRemaining, takerRemainingQuote.Div(makerOrder.Price))
	} else {
		takerRemaining := takerOrder.Quantity.Sub(takerOrder.FilledQuantity)
		q = matching.Min(makerRemaining, takerRemaining)
	}

	q = matching.FloorLotSnap(q, lot)
	if q.Sign() <= 0 {
		if takerOrder.FilledQuantity.IsPositive() || takerOrder.FilledQuote.IsPositive() {
			takerOrder.Status = storage.OrderStatusFilled
			releaseIfFilled(takerOrder, taker.Balance)
		} else {
			takerOrder.Status = storage.OrderStatusCanceled
		}
		return &Outcome{NoTrade: true}, nil
	}

	qq := q.Mul(makerOrder.Price)
	now := clock.Now()

	trade := &storage.Trade{
		ID:            uuid.New(),
		Symbol:        makerOrder.Symbol,
		MakerOrderID:  makerOrder.ID,
		TakerOrderID:  takerOrder.ID,
		Price:         makerOrder.Price,
		Quantity:      q,
		QuoteQuantity: qq,
		InsertTime:    now,
	}

	// Order fill counters (§4.6 Order updates).
	makerOrder.FilledQuantity = makerOrder.FilledQuantity.Add(q)
	makerOrder.FilledQuote = makerOrder.FilledQuote.Add(qq)
	takerOrder.FilledQuantity = takerOrder.FilledQuantity.Add(q)
	takerOrder.FilledQuote = takerOrder.FilledQuote.Add(qq)

	if makerOrder.FilledQuantity.Equal(makerOrder.Quantity) {
		makerOrder.Status = storage.OrderStatusFilled
	}
	if takerTerminal(takerOrder) {
		takerOrder.Status = storage.OrderStatusFilled
	}

	makerSub, err := settleParty(fees, now, trade, matching.RoleMaker, maker, q, qq, trade.Price)
	if err != nil {
		return nil, err
	}
	takerSub, err := settleParty(fees, now, trade, matching.RoleTaker, taker, q, qq, trade.Price)
	if err != nil {
		return nil, err
	}

	releaseIfFilled(makerOrder, maker.Balance)
	releaseIfFilled(takerOrder, taker.Balance)

	return &Outcome{Trade: trade, MakerSub: makerSub, TakerSub: takerSub}, nil
}

func takerTerminal(o *storage.Order) bool {
	if o.IsQuoteMeasured() {
		return o.FilledQuote.Equal(o.QuoteQuantity)
	}
	return o.FilledQuantity.Equal(o.Quantity)
}

func settleParty(fees matching.FeeSchedule, now time.Time, trade *storage.Trade, role matching.Role, p PartyInput, q, qq, tradePrice decimal.Decimal) (*storage.SubTrade, error) {
	order, balance, position := p.Order, p.Balance, p.Position

	commission := qq.Mul(fees.Rate(role))
	rebate := decimal.Zero
	if commission.IsNegative() {
		rebate = commission.Abs()
		commission = decimal.Zero
	}

	isOpening := position.Quantity.IsZero() || position.Side == order.Side

	if isOpening {
		if position.Quantity.IsZero() {
			position.Side = order.Side
		}
		position.Quantity = position.Quantity.Add(q)
		marginDelta := qq.Div(decimal.NewFromInt32(order.Leverage))
		position.Margin = position.Margin.Add(marginDelta)

		if order.LockedAsset == storage.LockedAssetBalance {
			consumed := marginDelta.Add(commission)
			if balance == nil {
				return nil, matching.ErrInvariantViolation
			}
			balance.Locked = balance.Locked.Sub(consumed)
			order.LockedQuantity = order.LockedQuantity.Sub(consumed)
			balance.Free = balance.Free.Add(rebate)
		} else if order.LockedAsset == storage.LockedAssetPosition {
			// Not reachable for a valid reduce-only order (reduce-only always
			// faces an opposite-side position), guarded defensively.
			position.LockedQuantity = position.LockedQuantity.Sub(q)
			order.LockedQuantity = order.LockedQuantity.Sub(q)
			if balance != nil {
				balance.Free = balance.Free.Add(rebate)
			}
		}
	} else {
		closed := matching.Min(position.Quantity, q)
		position.Quantity = position.Quantity.Sub(closed)

		releasedMargin := closed.Mul(position.EntryPrice).Div(decimal.NewFromInt32(order.Leverage))
		pnl := closed.Mul(tradePrice).Div(decimal.NewFromInt32(order.Leverage)).Sub(releasedMargin).Mul(decimal.NewFromInt32(position.Leverage))
		if position.Side == storage.SideShort {
			pnl = pnl.Neg()
		}
		position.Margin = position.Margin.Sub(releasedMargin)

		creditToFree := releasedMargin.Add(pnl).Sub(commission).Add(rebate)
		if balance == nil {
			return nil, matching.ErrInvariantViolation
		}
		balance.Free = balance.Free.Add(creditToFree)

		if order.LockedAsset == storage.LockedAssetBalance {
			released := releasedMargin.Add(commission)
			balance.Locked = balance.Locked.Sub(released)
			order.LockedQuantity = order.LockedQuantity.Sub(released)
		} else if order.LockedAsset == storage.LockedAssetPosition {
			position.LockedQuantity = position.LockedQuantity.Sub(q)
			order.LockedQuantity = order.LockedQuantity.Sub(q)
		}

		remainder := q.Sub(closed)
		if remainder.IsPositive() {
			position.Side = order.Side
			position.Quantity = remainder
			marginDelta2 := remainder.Mul(tradePrice).Div(decimal.NewFromInt32(order.Leverage))
			position.Margin = position.Margin.Add(marginDelta2)
			if order.LockedAsset == storage.LockedAssetBalance {
				balance.Locked = balance.Locked.Sub(marginDelta2)
				order.LockedQuantity = order.LockedQuantity.Sub(marginDelta2)
			}
		}
	}

	if position.Quantity.IsZero() {
		position.Margin = decimal.Zero
		position.EntryPrice = decimal.Zero
		position.LiquidationPrice = decimal.Zero
	} else {
		position.EntryPrice = position.Margin.Mul(decimal.NewFromInt32(position.Leverage)).Div(position.Quantity)
		one := decimal.NewFromInt(1)
		inverseLeverage := one.Div(decimal.NewFromInt32(position.Leverage))
		if position.Side == storage.SideLong {
			position.LiquidationPrice = position.EntryPrice.Mul(one.Sub(inverseLeverage))
		} else {
			position.LiquidationPrice = position.EntryPrice.Mul(one.Add(inverseLeverage))
		}
	}

	sub := &storage.SubTrade{
		ID:              uuid.New(),
		TradeID:         trade.ID,
		OrderID:         order.ID,
		AccountID:       order.AccountID,
		Side:            order.Side,
		IsMaker:         role == matching.RoleMaker,
		Commission:      commission,
		CommissionAsset: storage.CollateralAssetUSDT,
		InsertTime:      now,
	}
	return sub, nil
}

// releaseIfFilled implements §9 Open Question 1: once an order is FILLED any
// residue left in its lock is logged as a warning and swept to free rather
// than silently leaking, so the order's lock ends at zero.
func releaseIfFilled(order *storage.Order, balance *storage.Balance) {
	if order.Status != storage.OrderStatusFilled {
		return
	}
	if order.LockedQuantity.IsZero() {
		return
	}
	if order.LockedAsset == storage.LockedAssetBalance && balance != nil {
		log.Warn().
			Str("order_id", order.ID.String()).
			Str("residue", order.LockedQuantity.String()).
			Msg("releasing lock residue on FILLED order")
		balance.Locked = balance.Locked.Sub(order.LockedQuantity)
		balance.Free = balance.Free.Add(order.LockedQuantity)
	}
	order.LockedQuantity = decimal.Zero
}
