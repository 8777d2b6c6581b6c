package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpcore/matchengine/matching"
	"github.com/perpcore/matchengine/storage"
)

func testFees(t *testing.T) matching.FeeSchedule {
	t.Helper()
	fs, err := matching.NewFeeSchedule(
		decimal.RequireFromString("0.0004"),
		decimal.RequireFromString("-0.0001"),
		decimal.RequireFromString("0.0002"),
		decimal.RequireFromString("0.00005"),
		decimal.RequireFromString("0.00005"),
	)
	require.NoError(t, err)
	return fs
}

func lot(t *testing.T) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString("0.001")
}

func freshOrder(side storage.Side, orderType storage.OrderType, price, qty decimal.Decimal, leverage int32) *storage.Order {
	return &storage.Order{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Symbol:    "BTC-PERP",
		Side:      side,
		Type:      orderType,
		Price:     price,
		Quantity:  qty,
		Leverage:  leverage,
		Status:    storage.OrderStatusPlaced,
	}
}

func freshPosition(leverage int32) *storage.Position {
	return &storage.Position{Quantity: decimal.Zero, LockedQuantity: decimal.Zero, Margin: decimal.Zero, Leverage: leverage}
}

// TestSettleOpensPositionForBothSides covers a maker/taker pair neither of
// which had an existing position: both sides open a new position at the
// trade price with the maker's fee rebated and the taker's fee charged.
func TestSettleOpensPositionForBothSides(t *testing.T) {
	fees := testFees(t)
	clock := matching.NewSequentialClock(time.Unix(0, 0))

	maker := freshOrder(storage.SideShort, storage.OrderTypeLimit, decimal.RequireFromString("100"), decimal.RequireFromString("1"), 10)
	taker := freshOrder(storage.SideLong, storage.OrderTypeLimit, decimal.RequireFromString("101"), decimal.RequireFromString("1"), 10)

	// Lock amounts mirror what the Collateral Manager would have computed at
	// order-entry time from each order's own price (worst-case taker fee):
	// maker 100*1/10 + 100*1*0.0004 = 10.04; taker 101*1/10 + 101*1*0.0004 = 10.141.
	makerBalance := &storage.Balance{Free: decimal.RequireFromString("1000"), Locked: decimal.RequireFromString("10.04")}
	takerBalance := &storage.Balance{Free: decimal.RequireFromString("1000"), Locked: decimal.RequireFromString("10.141")}
	maker.LockedAsset, maker.LockedQuantity = storage.LockedAssetBalance, decimal.RequireFromString("10.04")
	taker.LockedAsset, taker.LockedQuantity = storage.LockedAssetBalance, decimal.RequireFromString("10.141")

	makerPosition, takerPosition := freshPosition(10), freshPosition(10)

	outcome, err := Settle(fees, clock, lot(t),
		PartyInput{Order: maker, Balance: makerBalance, Position: makerPosition},
		PartyInput{Order: taker, Balance: takerBalance, Position: takerPosition},
	)
	require.NoError(t, err)
	require.False(t, outcome.NoTrade)

	assert.Equal(t, storage.OrderStatusFilled, maker.Status)
	assert.Equal(t, storage.OrderStatusFilled, taker.Status)
	assert.True(t, outcome.Trade.Price.Equal(decimal.RequireFromString("100")))
	assert.True(t, outcome.Trade.Quantity.Equal(decimal.RequireFromString("1")))

	assert.Equal(t, storage.SideShort, makerPosition.Side)
	assert.True(t, makerPosition.Quantity.Equal(decimal.RequireFromString("1")))
	assert.Equal(t, storage.SideLong, takerPosition.Side)
	assert.True(t, takerPosition.Quantity.Equal(decimal.RequireFromString("1")))

	// maker rebate: commission = 100*-0.0001 = -0.01 -> rebate 0.01 credited to
	// free immediately, plus the 0.04 of lock residue (10.04 locked - 10
	// margin consumed) swept to free once FILLED.
	assert.True(t, outcome.MakerSub.Commission.IsZero())
	assert.True(t, makerBalance.Free.Equal(decimal.RequireFromString("1000.05")), "got %s", makerBalance.Free)
	assert.True(t, makerBalance.Locked.IsZero())

	// taker fee: commission = 100*0.0004 = 0.04, charged against the lock; the
	// remaining 0.101 of lock residue (10.141 locked - 10.04 margin+fee
	// consumed) is swept to free once FILLED.
	assert.True(t, outcome.TakerSub.Commission.Equal(decimal.RequireFromString("0.04")))
	assert.True(t, takerBalance.Free.Equal(decimal.RequireFromString("1000.101")), "got %s", takerBalance.Free)
	assert.True(t, takerBalance.Locked.IsZero())

	// both orders' lock residue fully released by the FILLED sweep.
	assert.True(t, maker.LockedQuantity.IsZero())
	assert.True(t, taker.LockedQuantity.IsZero())
}

// TestSettleReducesOppositePosition covers a taker closing out an existing
// opposite-side position: realized PnL is credited (or debited) to free and
// the position shrinks instead of opening a second one.
func TestSettleReducesOppositePosition(t *testing.T) {
	fees := testFees(t)
	clock := matching.NewSequentialClock(time.Unix(0, 0))

	maker := freshOrder(storage.SideLong, storage.OrderTypeLimit, decimal.RequireFromString("110"), decimal.RequireFromString("1"), 10)
	taker := freshOrder(storage.SideShort, storage.OrderTypeLimit, decimal.RequireFromString("100"), decimal.RequireFromString("1"), 10)
	taker.ReduceOnly = true

	makerBalance := &storage.Balance{Free: decimal.RequireFromString("1000"), Locked: decimal.RequireFromString("11")}
	maker.LockedAsset, maker.LockedQuantity = storage.LockedAssetBalance, decimal.RequireFromString("11")

	takerBalance := &storage.Balance{Free: decimal.RequireFromString("500")}
	takerPosition := &storage.Position{
		Side:       storage.SideLong,
		Quantity:   decimal.RequireFromString("1"),
		EntryPrice: decimal.RequireFromString("90"),
		Margin:     decimal.RequireFromString("9"),
		Leverage:   10,
	}
	taker.LockedAsset, taker.LockedQuantity = storage.LockedAssetPosition, decimal.RequireFromString("1")
	takerPosition.LockedQuantity = decimal.RequireFromString("1")

	makerPosition := freshPosition(10)

	outcome, err := Settle(fees, clock, lot(t),
		PartyInput{Order: maker, Balance: makerBalance, Position: makerPosition},
		PartyInput{Order: taker, Balance: takerBalance, Position: takerPosition},
	)
	require.NoError(t, err)
	require.False(t, outcome.NoTrade)

	// taker closes its entire long at 110, entry was 90: PnL = (110-90)*1 = 20 (at 1x economic terms, leverage cancels).
	assert.True(t, takerPosition.Quantity.IsZero())
	assert.True(t, takerPosition.Margin.IsZero())
	assert.True(t, takerPosition.EntryPrice.IsZero())

	// released margin (9) + pnl(20) - commission(0.044) credited to free.
	want := decimal.RequireFromString("500").
		Add(decimal.RequireFromString("9")).
		Add(decimal.RequireFromString("20")).
		Sub(decimal.RequireFromString("0.044"))
	assert.True(t, takerBalance.Free.Equal(want), "got %s want %s", takerBalance.Free, want)
	assert.True(t, takerPosition.LockedQuantity.IsZero())
}

// TestSettleReleasesAssetLockAcrossMultipleClosingFills covers a non-reduce-
// only, ASSET-locked taker that needs two fills to close an opposite
// position: each fill must release its own released-margin+commission slice
// of the lock, not just the final one, or a later FILLED sweep would release
// a stale, too-large residue and manufacture balance.
func TestSettleReleasesAssetLockAcrossMultipleClosingFills(t *testing.T) {
	fees := testFees(t)
	clock := matching.NewSequentialClock(time.Unix(0, 0))

	taker := freshOrder(storage.SideShort, storage.OrderTypeLimit, decimal.RequireFromString("100"), decimal.RequireFromString("2"), 10)
	takerBalance := &storage.Balance{Free: decimal.RequireFromString("1000"), Locked: decimal.RequireFromString("20.08")}
	// orderValue=200, margin=20, fee=200*0.0004=0.08, ceil-3 = 20.08 — the lock
	// the Collateral Manager would have placed at order-entry time.
	taker.LockedAsset, taker.LockedQuantity = storage.LockedAssetBalance, decimal.RequireFromString("20.08")
	takerPosition := &storage.Position{
		Side:       storage.SideLong,
		Quantity:   decimal.RequireFromString("2"),
		EntryPrice: decimal.RequireFromString("90"),
		Margin:     decimal.RequireFromString("18"),
		Leverage:   10,
	}

	maker1 := freshOrder(storage.SideLong, storage.OrderTypeLimit, decimal.RequireFromString("105"), decimal.RequireFromString("1"), 10)
	maker1Balance := &storage.Balance{Free: decimal.RequireFromString("1000")}
	maker1Position := freshPosition(10)

	outcome1, err := Settle(fees, clock, lot(t),
		PartyInput{Order: maker1, Balance: maker1Balance, Position: maker1Position},
		PartyInput{Order: taker, Balance: takerBalance, Position: takerPosition},
	)
	require.NoError(t, err)
	require.False(t, outcome1.NoTrade)

	// fill 1: closed=1 @ entry 90 -> releasedMargin=9, commission=105*0.0004=0.042;
	// lock releases 9.042, leaving 20.08-9.042=11.038 in taker.LockedQuantity.
	assert.True(t, taker.LockedQuantity.Equal(decimal.RequireFromString("11.038")), "got %s", taker.LockedQuantity)
	assert.True(t, takerBalance.Locked.Equal(decimal.RequireFromString("11.038")), "got %s", takerBalance.Locked)
	assert.Equal(t, storage.OrderStatusPlaced, taker.Status)
	assert.True(t, takerPosition.Quantity.Equal(decimal.RequireFromString("1")))

	maker2 := freshOrder(storage.SideLong, storage.OrderTypeLimit, decimal.RequireFromString("95"), decimal.RequireFromString("1"), 10)
	maker2Balance := &storage.Balance{Free: decimal.RequireFromString("1000")}
	maker2Position := freshPosition(10)

	outcome2, err := Settle(fees, clock, lot(t),
		PartyInput{Order: maker2, Balance: maker2Balance, Position: maker2Position},
		PartyInput{Order: taker, Balance: takerBalance, Position: takerPosition},
	)
	require.NoError(t, err)
	require.False(t, outcome2.NoTrade)

	// fill 2: closed=1 @ entry 90 -> releasedMargin=9, commission=95*0.0004=0.038;
	// lock releases 9.038, leaving 11.038-9.038=2.0 of residue (the order's
	// worst-case opening lock exceeds what these closing fills consumed), which
	// the FILLED sweep below releases to free.
	assert.Equal(t, storage.OrderStatusFilled, taker.Status)
	assert.True(t, taker.LockedQuantity.IsZero(), "got %s", taker.LockedQuantity)
	assert.True(t, takerBalance.Locked.IsZero(), "got %s", takerBalance.Locked)
	assert.True(t, takerPosition.Quantity.IsZero())
	assert.True(t, takerPosition.Margin.IsZero())

	// fill1 credit: 9 (margin) + 15 (pnl=(105/10-9)*10) - 0.042 = 23.958
	// fill2 credit: 9 (margin) +  5 (pnl=(95/10-9)*10)  - 0.038 = 13.962
	// + 2.0 residual swept on FILLED = 39.92 total credited to free.
	want := decimal.RequireFromString("1000").Add(decimal.RequireFromString("39.92"))
	assert.True(t, takerBalance.Free.Equal(want), "got %s want %s", takerBalance.Free, want)
}

// TestSettleSnapsQuantityToLotAndStopsWithoutTrade covers the q<=0 branch: a
// taker remainder too small to fill one lot produces no Trade/SubTrade rows.
func TestSettleSnapsQuantityToLotAndStopsWithoutTrade(t *testing.T) {
	fees := testFees(t)
	clock := matching.NewSequentialClock(time.Unix(0, 0))

	maker := freshOrder(storage.SideShort, storage.OrderTypeLimit, decimal.RequireFromString("100"), decimal.RequireFromString("1"), 10)
	maker.FilledQuantity = decimal.RequireFromString("0.9995")

	taker := freshOrder(storage.SideLong, storage.OrderTypeLimit, decimal.RequireFromString("101"), decimal.RequireFromString("0.9995"), 10)
	taker.FilledQuantity = decimal.RequireFromString("0.999")

	outcome, err := Settle(fees, clock, lot(t),
		PartyInput{Order: maker, Balance: &storage.Balance{}, Position: freshPosition(10)},
		PartyInput{Order: taker, Balance: &storage.Balance{}, Position: freshPosition(10)},
	)
	require.NoError(t, err)
	assert.True(t, outcome.NoTrade)
	assert.Equal(t, storage.OrderStatusFilled, taker.Status)
}
