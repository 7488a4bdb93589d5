// Package store defines the persistence interface for the trade engine.
// Implementations include PostgreSQL (source of truth), SQLite (embedded),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

// Store is the persistence interface. Reads outside Update see only
// committed state. Lookups of missing rows return errors wrapping
// model.ErrNotFound.
type Store interface {
	// --- Accounts ---

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id int64) (*model.Account, error)

	// GetAccountByUser retrieves the account owned by a user.
	GetAccountByUser(ctx context.Context, userID int64) (*model.Account, error)

	// --- Stocks ---

	// GetStock retrieves a stock by its ID.
	GetStock(ctx context.Context, id int64) (*model.Stock, error)

	// GetStockByTicker retrieves a stock by its ticker symbol.
	GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error)

	// ListStocks returns all stocks ordered by ticker.
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// ListPriceTicks returns the most recent ticks of a stock, newest first.
	ListPriceTicks(ctx context.Context, stockID int64, limit int) ([]model.PriceTick, error)

	// --- Positions and audit trail ---

	// ListPositions returns an account's positions ordered by ticker.
	ListPositions(ctx context.Context, accountID int64) ([]model.Position, error)

	// ListOrders returns an account's orders ordered by ID.
	ListOrders(ctx context.Context, accountID int64) ([]model.Order, error)

	// ListFills returns the fills of an order.
	ListFills(ctx context.Context, orderID int64) ([]model.Fill, error)

	// ListTransactions returns an account's cash audit entries ordered by ID.
	ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error)

	// --- Market schedule ---

	// GetMarketSchedule returns the schedule, or an error wrapping
	// model.ErrNotFound when none is configured.
	GetMarketSchedule(ctx context.Context) (*model.MarketSchedule, error)

	// SaveMarketSchedule replaces the schedule.
	SaveMarketSchedule(ctx context.Context, sched *model.MarketSchedule) error

	// --- Unit of work ---

	// Update runs fn inside one atomic unit. If fn returns an error nothing
	// it wrote becomes visible; otherwise all of its writes commit together.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is an open unit of work. All methods observe the unit's own writes.
type Tx interface {
	// MaxID returns the largest persisted identifier of kind, or 0.
	MaxID(ctx context.Context, kind model.IDKind) (int64, error)

	// ReserveID records an identifier of kind as issued and returns it. The
	// result is greater than floor and than every id reserved before, by
	// any process sharing the database. Reservations are written outside
	// the unit of work and survive its rollback.
	ReserveID(ctx context.Context, kind model.IDKind, floor int64) (int64, error)

	// LockAccount reads an account and holds it exclusively until the unit
	// ends, serializing concurrent units on the same account.
	LockAccount(ctx context.Context, id int64) (*model.Account, error)

	// InsertAccount creates an account.
	InsertAccount(ctx context.Context, a *model.Account) error

	// SaveCashBalance overwrites an account's balance.
	SaveCashBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error

	// Position returns the (account, stock) position or model.ErrNotFound.
	Position(ctx context.Context, accountID, stockID int64) (*model.Position, error)

	// InsertPosition creates a position; (account, stock) is unique.
	InsertPosition(ctx context.Context, p *model.Position) error

	// SavePositionQuantity overwrites a position's quantity.
	SavePositionQuantity(ctx context.Context, id, quantity int64) error

	// DeletePosition removes a position row.
	DeletePosition(ctx context.Context, id int64) error

	// InsertOrder appends an immutable order.
	InsertOrder(ctx context.Context, o *model.Order) error

	// InsertFill appends an immutable fill.
	InsertFill(ctx context.Context, f *model.Fill) error

	// InsertTransaction appends an immutable cash audit entry.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// Stocks returns all stocks ordered by ticker.
	Stocks(ctx context.Context) ([]model.Stock, error)

	// InsertStock creates a stock; tickers are unique.
	InsertStock(ctx context.Context, s *model.Stock) error

	// SaveStockPrice updates the generated price fields of a stock.
	SaveStockPrice(ctx context.Context, id int64, current, dayHigh, dayLow decimal.Decimal) error

	// InsertPriceTick appends a price history point.
	InsertPriceTick(ctx context.Context, t *model.PriceTick) error
}
