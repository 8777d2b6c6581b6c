// Package engine implements the Matching Engine (§4.5): the per-order state
// machine that turns a QUEUED order into fills against the resting book, or
// unwinds a cancel request, and publishes every downstream event the trade
// produced. It is the direct Go rendering of the source's receive_order /
// match_order / cancel_order trio.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/collateral"
	"github.com/perpcore/matchengine/matching"
	"github.com/perpcore/matchengine/orderbook"
	"github.com/perpcore/matchengine/publish"
	"github.com/perpcore/matchengine/settlement"
	"github.com/perpcore/matchengine/storage"
)

// Engine owns the collaborators one order event needs: the durable store, the
// collateral manager, the fee schedule and clock settlement needs, and the
// publisher for downstream events.
type Engine struct {
	store      *storage.Store
	collateral *collateral.Manager
	fees       matching.FeeSchedule
	clock      matching.Clock
	publisher  *publish.Publisher
	halts      *SymbolHalts
}

// New builds an Engine. halts may be nil only in tests that don't exercise
// INVARIANT_VIOLATION handling.
func New(store *storage.Store, coll *collateral.Manager, fees matching.FeeSchedule, clock matching.Clock, publisher *publish.Publisher, halts *SymbolHalts) *Engine {
	return &Engine{store: store, collateral: coll, fees: fees, clock: clock, publisher: publisher, halts: halts}
}

// partyUpdate bundles one account's mutated rows from a single event, for the
// publish step.
type partyUpdate struct {
	order    *storage.Order
	balance  *storage.Balance
	position *storage.Position
}

// fillRecord is one maker/taker match produced while sending an order.
type fillRecord struct {
	trade    *storage.Trade
	makerSub *storage.SubTrade
	takerSub *storage.SubTrade
}

// result is everything ProcessOrder needs to publish once its transaction
// has committed, replacing the source's runtime records dict (§9) with a
// typed structure.
type result struct {
	matched         bool
	symbol          string
	takerSide       storage.Side
	taker           partyUpdate
	makers          []partyUpdate
	fills           []fillRecord
	makerFillPrices []decimal.Decimal
	wasPlaced       bool // the taker order was already resting before this event
}

// ProcessOrder is the entry point a Dispatcher worker calls for one inbound
// event: load the order, decide send vs. cancel from its own status, commit
// or fall back to cancel, then publish. Mirrors the source's receive_order.
func (e *Engine) ProcessOrder(ctx context.Context, orderID uuid.UUID) error {
	tx := e.store.Begin(ctx)
	order, err := tx.LockOrder(orderID)
	if err != nil {
		tx.Rollback()
		return err
	}
	symbol := order.Symbol

	if e.halts != nil {
		if halted, reason := e.halts.IsHalted(symbol); halted {
			tx.Rollback()
			return fmt.Errorf("matching: symbol %s is halted: %s", symbol, reason)
		}
	}

	var res *result
	if order.Status == storage.OrderStatusQueued {
		res, err = e.send(tx, order)
	} else {
		res, err = e.cancel(tx, order)
	}

	if err != nil {
		tx.Rollback()
		e.maybeHalt(symbol, err)
		return err
	}

	if res.matched {
		if err := tx.Commit(); err != nil {
			return err
		}
	} else {
		tx.Rollback()
		res, err = e.fallbackCancel(ctx, orderID)
		if err != nil {
			e.maybeHalt(symbol, err)
			return err
		}
	}

	e.publish(ctx, res)
	return nil
}

// maybeHalt trips the symbol's halt when err signals a broken invariant.
func (e *Engine) maybeHalt(symbol string, err error) {
	if e.halts != nil && errors.Is(err, matching.ErrInvariantViolation) {
		e.halts.Trip(symbol, err.Error())
	}
}

// fallbackCancel re-runs the cancel path on a fresh transaction after a send
// attempt left the order unmatched, mirroring the source's db.rollback()
// followed by a second cancel_order call on the same session.
func (e *Engine) fallbackCancel(ctx context.Context, orderID uuid.UUID) (*result, error) {
	tx := e.store.Begin(ctx)
	order, err := tx.LockOrder(orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	res, err := e.cancel(tx, order)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// cancel unlocks the order's collateral and marks it CANCELED if it isn't
// already terminal, per §4.5's cancel path.
func (e *Engine) cancel(tx *storage.Tx, order *storage.Order) (*result, error) {
	wasPlaced := order.Status == storage.OrderStatusPlaced

	var balance *storage.Balance
	var position *storage.Position
	var err error

	if order.LockedAsset == storage.LockedAssetBalance {
		balance, err = tx.LockBalance(order.AccountID, storage.CollateralAssetUSDT)
		if err != nil {
			return nil, err
		}
	} else if order.LockedAsset == storage.LockedAssetPosition {
		position, err = tx.LockPosition(order.AccountID, order.Symbol, order.Leverage)
		if err != nil {
			return nil, err
		}
	}

	if err := e.collateral.Unlock(order, balance, position); err != nil {
		return nil, err
	}

	if !order.Status.IsTerminal() {
		order.Status = storage.OrderStatusCanceled
	}
	order.UpdateTime = e.clock.Now()

	if err := tx.SaveOrder(order); err != nil {
		return nil, err
	}
	if balance != nil {
		if err := tx.SaveBalance(balance); err != nil {
			return nil, err
		}
	}
	if position != nil {
		if err := tx.SavePosition(position); err != nil {
			return nil, err
		}
	}

	return &result{
		matched:   true,
		symbol:    order.Symbol,
		takerSide: order.Side,
		taker:     partyUpdate{order: order, balance: balance, position: position},
		wasPlaced: wasPlaced,
	}, nil
}

// send locks collateral and walks the resting book in price-time priority,
// settling against each crossable maker until the taker is filled, the book
// is exhausted, or a lot-snapped remainder rounds to zero. Mirrors §4.4/§4.5's
// match_order, with the source's offset+1 recursion rendered as an explicit
// page-cursor loop over the Order Book View (§9 redesign).
func (e *Engine) send(tx *storage.Tx, order *storage.Order) (*result, error) {
	contract, err := tx.GetContract(order.Symbol)
	if err != nil {
		return nil, err
	}

	takerBalance, err := tx.LockBalance(order.AccountID, storage.CollateralAssetUSDT)
	if err != nil {
		return nil, err
	}
	takerPosition, err := tx.LockPosition(order.AccountID, order.Symbol, order.Leverage)
	if err != nil {
		return nil, err
	}

	if err := e.lockCollateral(tx, order, takerBalance, takerPosition); err != nil {
		if errors.Is(err, matching.ErrInsufficientCollateral) {
			order.Status = storage.OrderStatusCanceled
			return e.restUnmatched(tx, order, takerBalance, takerPosition)
		}
		return nil, err
	}

	var priceBound *storage.PriceBound
	if order.Type == storage.OrderTypeLimit {
		priceBound = storage.NewPriceBound(order.Price, order.Side == storage.SideLong)
	}
	view := orderbook.NewView(tx)

	res := &result{symbol: order.Symbol, takerSide: order.Side}

	if !order.PostOnly {
		stop := false
		for page := 0; !stop && order.Status != storage.OrderStatusFilled; page++ {
			makers, err := view.Page(order.Symbol, order.Side, priceBound, page)
			if err != nil {
				return nil, err
			}
			if len(makers) == 0 {
				break
			}
			for i := range makers {
				maker := &makers[i]

				makerBalance, err := tx.LockBalance(maker.AccountID, storage.CollateralAssetUSDT)
				if err != nil {
					return nil, err
				}
				makerPosition, err := tx.LockPosition(maker.AccountID, maker.Symbol, maker.Leverage)
				if err != nil {
					return nil, err
				}

				outcome, err := settlement.Settle(e.fees, e.clock, contract.MinBaseQuantity,
					settlement.PartyInput{Order: maker, Balance: makerBalance, Position: makerPosition},
					settlement.PartyInput{Order: order, Balance: takerBalance, Position: takerPosition},
				)
				if err != nil {
					return nil, err
				}
				if outcome.NoTrade {
					stop = true
					break
				}

				if err := tx.SaveOrder(maker); err != nil {
					return nil, err
				}
				if err := tx.SaveBalance(makerBalance); err != nil {
					return nil, err
				}
				if err := tx.SavePosition(makerPosition); err != nil {
					return nil, err
				}
				if err := tx.InsertTrade(outcome.Trade); err != nil {
					return nil, err
				}
				if err := tx.InsertSubTrade(outcome.MakerSub); err != nil {
					return nil, err
				}
				if err := tx.InsertSubTrade(outcome.TakerSub); err != nil {
					return nil, err
				}

				res.makers = append(res.makers, partyUpdate{order: maker, balance: makerBalance, position: makerPosition})
				res.fills = append(res.fills, fillRecord{trade: outcome.Trade, makerSub: outcome.MakerSub, takerSub: outcome.TakerSub})
				res.makerFillPrices = append(res.makerFillPrices, maker.Price)

				if order.Status == storage.OrderStatusFilled {
					break
				}
			}
		}
	}

	return e.restUnmatched(tx, order, takerBalance, takerPosition, res)
}

// restUnmatched finalizes the taker's terminal status once matching has run
// out of book to cross: a MARKET order never rests, a LIMIT order rests as
// PLACED unless its unfilled remainder snaps below one lot.
func (e *Engine) restUnmatched(tx *storage.Tx, order *storage.Order, balance *storage.Balance, position *storage.Position, partial ...*result) (*result, error) {
	res := &result{symbol: order.Symbol, takerSide: order.Side}
	if len(partial) > 0 {
		res = partial[0]
	}

	if !order.Status.IsTerminal() {
		if order.Type == storage.OrderTypeMarket {
			order.Status = storage.OrderStatusCanceled
		} else {
			contract, err := tx.GetContract(order.Symbol)
			if err != nil {
				return nil, err
			}
			remaining := order.Quantity.Sub(order.FilledQuantity)
			if matching.FloorLotSnap(remaining, contract.MinBaseQuantity).Sign() <= 0 {
				order.Status = storage.OrderStatusCanceled
			} else {
				order.Status = storage.OrderStatusPlaced
			}
		}
	}

	if order.Status == storage.OrderStatusCanceled {
		if err := e.collateral.Unlock(order, balance, position); err != nil {
			return nil, err
		}
	}

	order.UpdateTime = e.clock.Now()
	if err := tx.SaveOrder(order); err != nil {
		return nil, err
	}
	if balance != nil {
		if err := tx.SaveBalance(balance); err != nil {
			return nil, err
		}
	}
	if position != nil {
		if err := tx.SavePosition(position); err != nil {
			return nil, err
		}
	}

	res.matched = true
	res.taker = partyUpdate{order: order, balance: balance, position: position}
	return res, nil
}

// lockCollateral runs the Collateral Manager's Lock for a freshly QUEUED
// order, returning ErrInsufficientCollateral as a non-fatal "reject this
// order" signal rather than an engine error.
func (e *Engine) lockCollateral(tx *storage.Tx, order *storage.Order, balance *storage.Balance, position *storage.Position) error {
	var lockBalance *storage.Balance
	var lockPosition *storage.Position
	if order.ReduceOnly {
		lockPosition = position
	} else {
		lockBalance = balance
	}
	_, err := e.collateral.Lock(order, lockBalance, lockPosition)
	return err
}

// publish emits every downstream event a settled or canceled order produced:
// order/balance/position updates per touched account, trade/subtrade records
// per fill, and the order-book deltas the fills and the taker's resting price
// moved. Publish failures are logged, not propagated — the event has already
// committed durably and at-least-once delivery is the publisher's contract.
func (e *Engine) publish(ctx context.Context, res *result) {
	if e.publisher == nil {
		return
	}

	emit := func(pu partyUpdate) {
		account := pu.order.AccountID.String()
		if err := e.publisher.Publish(ctx, publish.KindUpdateOrder, res.symbol, account, publish.NewOrderPayload(pu.order)); err != nil {
			log.Error().Err(err).Str("order_id", pu.order.ID.String()).Msg("publish order update failed")
		}
		if pu.balance != nil {
			if err := e.publisher.Publish(ctx, publish.KindBalance, res.symbol, account, publish.NewBalancePayload(pu.balance)); err != nil {
				log.Error().Err(err).Str("account_id", account).Msg("publish balance failed")
			}
		}
		if pu.position != nil {
			if err := e.publisher.Publish(ctx, publish.KindPosition, res.symbol, account, publish.NewPositionPayload(pu.position)); err != nil {
				log.Error().Err(err).Str("account_id", account).Msg("publish position failed")
			}
		}
	}

	emit(res.taker)
	for _, pu := range res.makers {
		emit(pu)
	}

	for _, f := range res.fills {
		if err := e.publisher.Publish(ctx, publish.KindTrade, res.symbol, "", publish.NewTradePayload(f.trade)); err != nil {
			log.Error().Err(err).Str("trade_id", f.trade.ID.String()).Msg("publish trade failed")
		}
		if err := e.publisher.Publish(ctx, publish.KindSubTrade, res.symbol, f.makerSub.AccountID.String(), publish.NewSubTradePayload(f.makerSub, f.trade)); err != nil {
			log.Error().Err(err).Msg("publish maker subtrade failed")
		}
		if err := e.publisher.Publish(ctx, publish.KindSubTrade, res.symbol, f.takerSub.AccountID.String(), publish.NewSubTradePayload(f.takerSub, f.trade)); err != nil {
			log.Error().Err(err).Msg("publish taker subtrade failed")
		}
	}

	if len(res.fills) == 0 && res.taker.order.Status != storage.OrderStatusPlaced && !res.wasPlaced {
		return
	}
	makerSide := res.takerSide.Opposite()
	deltas, err := publish.BuildOrderBookDeltas(orderbook.NewView(e.store), res.symbol, makerSide, res.makerFillPrices, res.taker.order, res.wasPlaced)
	if err != nil {
		log.Error().Err(err).Str("symbol", res.symbol).Msg("build order book deltas failed")
		return
	}
	for _, d := range deltas {
		if err := e.publisher.Publish(ctx, publish.KindOrderBook, res.symbol, "", d); err != nil {
			log.Error().Err(err).Str("symbol", res.symbol).Msg("publish order book delta failed")
		}
	}
}
