package publish

import (
	"github.com/perpcore/matchengine/storage"
)

// Payload shapes mirror each entity's observable fields per §3/§6. Decimals
// serialize as strings (decimal.Decimal already marshals to JSON as a
// quoted string via its MarshalJSON), identifiers as canonical UUID strings.

type OrderPayload struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Type           string `json:"type"`
	PostOnly       bool   `json:"post_only"`
	ReduceOnly     bool   `json:"reduce_only"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	QuoteQuantity  string `json:"quote_quantity"`
	FilledQuantity string `json:"filled_quantity"`
	FilledQuote    string `json:"filled_quote"`
	Status         string `json:"status"`
	InsertTime     int64  `json:"insert_time"`
	UpdateTime     int64  `json:"update_time"`
}

func NewOrderPayload(o *storage.Order) OrderPayload {
	return OrderPayload{
		ID:             o.ID.String(),
		AccountID:      o.AccountID.String(),
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		PostOnly:       o.PostOnly,
		ReduceOnly:     o.ReduceOnly,
		Price:          o.Price.String(),
		Quantity:       o.Quantity.String(),
		QuoteQuantity:  o.QuoteQuantity.String(),
		FilledQuantity: o.FilledQuantity.String(),
		FilledQuote:    o.FilledQuote.String(),
		Status:         string(o.Status),
		InsertTime:     o.InsertTime.UnixMilli(),
		UpdateTime:     o.UpdateTime.UnixMilli(),
	}
}

type TradePayload struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	QuoteQuantity string `json:"quote_quantity"`
	InsertTime    int64  `json:"insert_time"`
}

func NewTradePayload(t *storage.Trade) TradePayload {
	return TradePayload{
		ID:            t.ID.String(),
		Symbol:        t.Symbol,
		Price:         t.Price.String(),
		Quantity:      t.Quantity.String(),
		QuoteQuantity: t.QuoteQuantity.String(),
		InsertTime:    t.InsertTime.UnixMilli(),
	}
}

type SubTradePayload struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	AccountID       string `json:"account_id"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Quantity        string `json:"quantity"`
	QuoteQuantity   string `json:"quote_quantity"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commission_asset"`
	Side            string `json:"side"`
	IsMaker         bool   `json:"is_maker"`
	InsertTime      int64  `json:"insert_time"`
}

func NewSubTradePayload(st *storage.SubTrade, trade *storage.Trade) SubTradePayload {
	return SubTradePayload{
		ID:              st.ID.String(),
		OrderID:         st.OrderID.String(),
		AccountID:       st.AccountID.String(),
		Symbol:          trade.Symbol,
		Price:           trade.Price.String(),
		Quantity:        trade.Quantity.String(),
		QuoteQuantity:   trade.QuoteQuantity.String(),
		Commission:      st.Commission.String(),
		CommissionAsset: st.CommissionAsset,
		Side:            string(st.Side),
		IsMaker:         st.IsMaker,
		InsertTime:      st.InsertTime.UnixMilli(),
	}
}

type BalancePayload struct {
	AccountID string `json:"account_id"`
	Asset     string `json:"asset"`
	Free      string `json:"free"`
	Locked    string `json:"locked"`
}

func NewBalancePayload(b *storage.Balance) BalancePayload {
	return BalancePayload{
		AccountID: b.AccountID.String(),
		Asset:     b.Asset,
		Free:      b.Free.String(),
		Locked:    b.Locked.String(),
	}
}

type PositionPayload struct {
	AccountID        string `json:"account_id"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Quantity         string `json:"quantity"`
	LockedQuantity   string `json:"locked_quantity"`
	EntryPrice       string `json:"entry_price"`
	LiquidationPrice string `json:"liquidation_price"`
	Margin           string `json:"margin"`
	Leverage         int32  `json:"leverage"`
}

func NewPositionPayload(p *storage.Position) PositionPayload {
	return PositionPayload{
		AccountID:        p.AccountID.String(),
		Symbol:           p.Symbol,
		Side:             string(p.Side),
		Quantity:         p.Quantity.String(),
		LockedQuantity:   p.LockedQuantity.String(),
		EntryPrice:       p.EntryPrice.String(),
		LiquidationPrice: p.LiquidationPrice.String(),
		Margin:           p.Margin.String(),
		Leverage:         p.Leverage,
	}
}

type OrderBookLevelPayload struct {
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

func NewOrderBookLevelPayload(level storage.AggregateLevel) OrderBookLevelPayload {
	return OrderBookLevelPayload{
		Side:     string(level.Side),
		Price:    level.Price.String(),
		Quantity: level.Quantity.String(),
	}
}
