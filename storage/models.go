package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contract is a tradable symbol with its lot-size and precision rules.
type Contract struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Symbol          string         `gorm:"uniqueIndex;not null"`
	BaseAsset       string         `gorm:"not null"`
	QuoteAsset      string         `gorm:"not null"`
	BasePrecision   int32          `gorm:"not null"`
	QuotePrecision  int32          `gorm:"not null"`
	MinBaseQuantity decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	MinQuoteQuantity decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Status          ContractStatus `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Account is a leveraged trading account. Wallet/main-sub structure is an
// external collaborator (§1); only the attributes the core reads are modeled.
type Account struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	WalletID  uuid.UUID `gorm:"type:uuid;index;not null"`
	Leverage  int32     `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the free/locked collateral split for one (account, asset) pair.
type Balance struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_balance_account_asset;not null"`
	Asset     string          `gorm:"uniqueIndex:idx_balance_account_asset;not null"`
	Free      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Locked    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	UpdatedAt time.Time
}

// Position is the one-way-mode position for one (account, symbol) pair.
type Position struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AccountID        uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_position_account_symbol;not null"`
	Symbol           string          `gorm:"uniqueIndex:idx_position_account_symbol;not null"`
	Side             Side            `gorm:"type:varchar(8);not null"`
	Quantity         decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	LockedQuantity   decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	EntryPrice       decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	LiquidationPrice decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Margin           decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Leverage         int32           `gorm:"not null"`
	UpdatedAt        time.Time
}

// Order is a single leveraged order on a symbol.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AccountID      uuid.UUID       `gorm:"type:uuid;index;not null"`
	Symbol         string          `gorm:"index;not null"`
	Side           Side            `gorm:"type:varchar(8);not null"`
	Type           OrderType       `gorm:"type:varchar(8);not null"`
	PostOnly       bool            `gorm:"not null"`
	ReduceOnly     bool            `gorm:"not null"`
	Price          decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Quantity       decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	QuoteQuantity  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	FilledQuote    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Leverage       int32           `gorm:"not null"`
	LockedAsset    LockedAssetType `gorm:"type:varchar(16);not null"`
	LockedQuantity decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Status         OrderStatus     `gorm:"type:varchar(16);index;not null"`
	InsertTime     time.Time       `gorm:"index;not null"`
	UpdateTime     time.Time       `gorm:"not null"`
}

// IsQuoteMeasured reports whether the order's remaining size is tracked in
// quote terms (a MARKET order submitted with quote_quantity rather than quantity).
func (o *Order) IsQuoteMeasured() bool {
	return o.Type == OrderTypeMarket && o.Quantity.IsZero() && o.QuoteQuantity.IsPositive()
}

// Trade is an immutable maker/taker match.
type Trade struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Symbol        string          `gorm:"index;not null"`
	MakerOrderID  uuid.UUID       `gorm:"type:uuid;index;not null"`
	TakerOrderID  uuid.UUID       `gorm:"type:uuid;index;not null"`
	Price         decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Quantity      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	QuoteQuantity decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	InsertTime    time.Time       `gorm:"index;not null"`
}

// SubTrade is one side's settlement record of a Trade; two are written per Trade.
type SubTrade struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TradeID         uuid.UUID       `gorm:"type:uuid;index;not null"`
	OrderID         uuid.UUID       `gorm:"type:uuid;index;not null"`
	AccountID       uuid.UUID       `gorm:"type:uuid;index;not null"`
	Side            Side            `gorm:"type:varchar(8);not null"`
	IsMaker         bool            `gorm:"not null"`
	Commission      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	CommissionAsset string          `gorm:"not null"`
	InsertTime      time.Time       `gorm:"index;not null"`
}
