package publish

import (
	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/orderbook"
	"github.com/perpcore/matchengine/storage"
)

// BuildOrderBookDeltas computes the order-book-delta payloads affected by a
// matched or resting event, per §4.7 and the source's get_order_book_updates:
// every maker fill price on the maker side, plus the taker's own resting
// price if it rests, diffed against the live aggregate with zero-quantity
// tombstones for levels the aggregate no longer returns.
func BuildOrderBookDeltas(view *orderbook.View, symbol string, makerSide storage.Side, makerFillPrices []decimal.Decimal, newOrder *storage.Order, takerWasResting bool) ([]OrderBookLevelPayload, error) {
	priceSet := make(map[string]decimal.Decimal, len(makerFillPrices)+1)
	makerPriceSet := make(map[string]struct{}, len(makerFillPrices))
	var sides []storage.Side
	if len(makerFillPrices) > 0 {
		sides = append(sides, makerSide)
	}
	for _, p := range makerFillPrices {
		priceSet[p.String()] = p
		makerPriceSet[p.String()] = struct{}{}
	}

	// The taker's own price level needs a refresh if it now rests (new
	// resting liquidity) or if it used to rest and this event removed it
	// (fill-to-completion or cancel of a resting order).
	restsOnBook := newOrder.Status == storage.OrderStatusPlaced
	if restsOnBook || takerWasResting {
		sides = append(sides, newOrder.Side)
		priceSet[newOrder.Price.String()] = newOrder.Price
	}

	if len(priceSet) == 0 {
		return nil, nil
	}

	prices := make([]decimal.Decimal, 0, len(priceSet))
	for _, p := range priceSet {
		prices = append(prices, p)
	}

	rows, err := view.Aggregate(symbol, sides, prices)
	if err != nil {
		return nil, err
	}

	deltas := make([]OrderBookLevelPayload, 0, len(priceSet))
	for _, row := range rows {
		deltas = append(deltas, NewOrderBookLevelPayload(row))
		delete(priceSet, row.Price.String())
	}

	for key, price := range priceSet {
		side := newOrder.Side
		if _, isMakerPrice := makerPriceSet[key]; isMakerPrice {
			side = makerSide
		}
		deltas = append(deltas, OrderBookLevelPayload{
			Side:     string(side),
			Price:    price.String(),
			Quantity: decimal.Zero.String(),
		})
	}

	return deltas, nil
}
