// Package orderbook implements the Order Book View (§4.4): price-time
// priority maker candidates for a taker, and the order-book aggregate used
// for book-delta publication.
package orderbook

import (
	"github.com/shopspring/decimal"

	"github.com/perpcore/matchengine/storage"
)

const pageSize = 10

// reader is satisfied by both *storage.Tx (in-flight matching, reflecting
// uncommitted mutations) and *storage.Store (post-commit reads for book-delta
// publication) — View doesn't care which it's reading through.
type reader interface {
	QueryMakers(symbol string, side storage.Side, priceBound *storage.PriceBound, offset, limit int) ([]storage.Order, error)
	Aggregate(symbol string, sides []storage.Side, prices []decimal.Decimal) ([]storage.AggregateLevel, error)
}

// View is a read-only query surface over resting orders.
type View struct {
	r reader
}

// NewView binds a View to a reader — the engine's in-flight transaction
// while matching, or the Store once that transaction has committed.
func NewView(r reader) *View {
	return &View{r: r}
}

// Page returns up to pageSize maker orders opposite takerSide, best-price
// first then oldest-first, at the given zero-based page offset. priceBound is
// nil for MARKET takers.
func (v *View) Page(symbol string, takerSide storage.Side, priceBound *storage.PriceBound, page int) ([]storage.Order, error) {
	makerSide := takerSide.Opposite()
	return v.r.QueryMakers(symbol, makerSide, priceBound, page*pageSize, pageSize)
}

// Aggregate sums open quantity by (side, price) for book-delta publication.
func (v *View) Aggregate(symbol string, sides []storage.Side, prices []decimal.Decimal) ([]storage.AggregateLevel, error) {
	return v.r.Aggregate(symbol, sides, prices)
}
