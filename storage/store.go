package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/perpcore/matchengine/matching"
)

// Store is the transactional durable store of entities per §4.2. It wraps a
// *gorm.DB the way the teacher's internal/database.Database wraps its own
// connection, branching on the DSN scheme to pick the driver.
type Store struct {
	db      *gorm.DB
	locking bool // true for postgres; sqlite has no FOR UPDATE support and serializes writers by file lock instead
}

// New opens dsn against Postgres (dsn starting with postgres:// or
// postgresql://) or Sqlite otherwise (":memory:" for tests), then migrates
// the schema — mirroring internal/database.New's branch.
func New(dsn string) (*Store, error) {
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&Contract{}, &Account{}, &Balance{}, &Position{}, &Order{}, &Trade{}, &SubTrade{},
	); err != nil {
		return nil, err
	}

	log.Info().Str("dsn_scheme", dsnScheme(dsn)).Msg("store connected")
	return &Store{db: db, locking: isPostgres}, nil
}

func dsnScheme(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Tx is a single unit-of-work: begin/commit/rollback per §4.2.
type Tx struct {
	db      *gorm.DB
	locking bool
}

// Begin starts a transaction bound to ctx (used to bound row-lock waits per §5).
func (s *Store) Begin(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx).Begin(), locking: s.locking}
}

func (t *Tx) Commit() error   { return t.db.Commit().Error }
func (t *Tx) Rollback() error { return t.db.Rollback().Error }

// forUpdate applies select_for_update only against dialects that support it.
func (t *Tx) forUpdate() *gorm.DB {
	if t.locking {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

// LockOrder loads an order for update (select_for_update), mapping a
// zero-rows result to ErrNotFound and a lock-wait timeout to ErrConflict.
func (t *Tx) LockOrder(id uuid.UUID) (*Order, error) {
	var order Order
	err := t.forUpdate().First(&order, "id = ?", id).Error
	return &order, mapLockErr(err)
}

// LockBalance loads (or lazily creates) a balance row for update.
func (t *Tx) LockBalance(accountID uuid.UUID, asset string) (*Balance, error) {
	var balance Balance
	err := t.forUpdate().
		First(&balance, "account_id = ? AND asset = ?", accountID, asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = Balance{
			ID:        uuid.New(),
			AccountID: accountID,
			Asset:     asset,
			Free:      decimal.Zero,
			Locked:    decimal.Zero,
			UpdatedAt: time.Now(),
		}
		if createErr := t.db.Create(&balance).Error; createErr != nil {
			return nil, createErr
		}
		return &balance, nil
	}
	if err != nil {
		return nil, mapLockErr(err)
	}
	return &balance, nil
}

// LockPosition loads (or lazily creates) a position row for update. A freshly
// created position has zero quantity and defaults to LONG; settlement sets
// its side from the order on first fill.
func (t *Tx) LockPosition(accountID uuid.UUID, symbol string, leverage int32) (*Position, error) {
	var position Position
	err := t.forUpdate().
		First(&position, "account_id = ? AND symbol = ?", accountID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		position = Position{
			ID:               uuid.New(),
			AccountID:        accountID,
			Symbol:           symbol,
			Side:             SideLong,
			Quantity:         decimal.Zero,
			LockedQuantity:   decimal.Zero,
			EntryPrice:       decimal.Zero,
			LiquidationPrice: decimal.Zero,
			Margin:           decimal.Zero,
			Leverage:         leverage,
			UpdatedAt:        time.Now(),
		}
		if createErr := t.db.Create(&position).Error; createErr != nil {
			return nil, createErr
		}
		return &position, nil
	}
	if err != nil {
		return nil, mapLockErr(err)
	}
	return &position, nil
}

// LockContract loads a contract by symbol for update.
func (t *Tx) LockContract(symbol string) (*Contract, error) {
	var contract Contract
	err := t.forUpdate().First(&contract, "symbol = ?", symbol).Error
	return &contract, mapLockErr(err)
}

// GetContract reads a contract by symbol without a row lock. Contract rows
// change only through operator administration, never through matching, so
// readers never need to wait behind a writer.
func (t *Tx) GetContract(symbol string) (*Contract, error) {
	return getContract(t.db, symbol)
}

// GetContract mirrors Tx.GetContract for callers holding only a *Store.
func (s *Store) GetContract(symbol string) (*Contract, error) {
	return getContract(s.db, symbol)
}

func getContract(db *gorm.DB, symbol string) (*Contract, error) {
	var contract Contract
	err := db.First(&contract, "symbol = ?", symbol).Error
	return &contract, mapLockErr(err)
}

// SaveContract upserts a contract row. Contracts are operator-managed
// reference data created or updated through administration, never by the
// matching path itself.
func (s *Store) SaveContract(c *Contract) error { return s.db.Save(c).Error }

func (t *Tx) SaveOrder(o *Order) error       { return t.db.Save(o).Error }
func (t *Tx) SaveBalance(b *Balance) error   { return t.db.Save(b).Error }
func (t *Tx) SavePosition(p *Position) error { return t.db.Save(p).Error }
func (t *Tx) InsertTrade(tr *Trade) error    { return t.db.Create(tr).Error }
func (t *Tx) InsertSubTrade(st *SubTrade) error { return t.db.Create(st).Error }

// QueryMakers returns up to limit resting maker orders of side, ordered
// best-price-first then oldest-first, offset pages starting at offset — the
// explicit page-cursor rendering of the source's recursive offset+1 query
// (§4.4, §9 redesign note). priceBound is nil for MARKET takers (no crossable
// price filter); otherwise it is the taker's limit price.
func (t *Tx) QueryMakers(symbol string, side Side, priceBound *PriceBound, offset, limit int) ([]Order, error) {
	return queryMakers(t.db, symbol, side, priceBound, offset, limit)
}

// QueryMakers mirrors Tx.QueryMakers for callers holding only a *Store.
func (s *Store) QueryMakers(symbol string, side Side, priceBound *PriceBound, offset, limit int) ([]Order, error) {
	return queryMakers(s.db, symbol, side, priceBound, offset, limit)
}

func queryMakers(db *gorm.DB, symbol string, side Side, priceBound *PriceBound, offset, limit int) ([]Order, error) {
	q := db.Where("symbol = ? AND side = ? AND status = ?", symbol, side, OrderStatusPlaced)
	if priceBound != nil {
		if priceBound.TakerIsLong {
			q = q.Where("price <= ?", priceBound.Value)
		} else {
			q = q.Where("price >= ?", priceBound.Value)
		}
	}
	orderBy := "price ASC, insert_time ASC"
	if side == SideLong {
		orderBy = "price DESC, insert_time ASC"
	}
	var rows []Order
	err := q.Order(orderBy).Offset(offset).Limit(limit).Find(&rows).Error
	return rows, err
}

// AggregateLevel is one (side, price, open quantity) row from the order book
// aggregate query.
type AggregateLevel struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Aggregate sums (quantity - filled_quantity) grouped by (price, side) for
// active orders on symbol restricted to sides/prices, grounded on
// orm/models.py Order.get_order_book's raw SQL.
func (t *Tx) Aggregate(symbol string, sides []Side, prices []decimal.Decimal) ([]AggregateLevel, error) {
	return aggregate(t.db, symbol, sides, prices)
}

// Aggregate mirrors Tx.Aggregate for callers holding only a *Store.
func (s *Store) Aggregate(symbol string, sides []Side, prices []decimal.Decimal) ([]AggregateLevel, error) {
	return aggregate(s.db, symbol, sides, prices)
}

func aggregate(db *gorm.DB, symbol string, sides []Side, prices []decimal.Decimal) ([]AggregateLevel, error) {
	q := db.Table("orders").
		Select("side, price, SUM(quantity - filled_quantity) as quantity").
		Where("symbol = ? AND status = ?", symbol, OrderStatusPlaced)
	if len(sides) > 0 {
		q = q.Where("side IN ?", sides)
	}
	if len(prices) > 0 {
		q = q.Where("price IN ?", prices)
	}
	var rows []AggregateLevel
	err := q.Group("price, side").Order("price DESC, side DESC").Scan(&rows).Error
	return rows, err
}

// PriceBound is the crossable-price predicate input for QueryMakers: a LIMIT
// taker only crosses makers at-or-better than its own price.
type PriceBound struct {
	Value       decimal.Decimal
	TakerIsLong bool
}

// NewPriceBound builds the crossable-price predicate input for QueryMakers.
func NewPriceBound(value decimal.Decimal, takerIsLong bool) *PriceBound {
	return &PriceBound{Value: value, TakerIsLong: takerIsLong}
}

func mapLockErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return matching.ErrNotFound
	}
	if isLockTimeout(err) {
		return matching.ErrConflict
	}
	return err
}

// isLockTimeout recognizes the Postgres lock_timeout / statement_timeout
// error text; sqlite has no row-lock waits (single-writer by file lock), so
// this path only triggers in production.
func isLockTimeout(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "lock_timeout") ||
		strings.Contains(msg, "statement_timeout") ||
		strings.Contains(msg, "canceling statement due to")
}
