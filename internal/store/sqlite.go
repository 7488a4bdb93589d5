package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const sqliteIDSchema = `CREATE TABLE IF NOT EXISTS id_reservations (
    kind TEXT PRIMARY KEY,
    last_id INTEGER NOT NULL
);`

// SQLiteStore implements Store on an embedded SQLite database. Money is
// stored as decimal text. Every unit of work opens with BEGIN IMMEDIATE,
// so writers are serialized by the database itself.
//
// Id reservations live in a second database file next to the first
// (path + "-ids"), written in autocommit mode while a unit holds the main
// write lock, so they survive the unit's rollback.
type SQLiteStore struct {
	db  *sql.DB
	ids *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openSQLiteFile(ctx, fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path), sqliteSchema)
	if err != nil {
		return nil, err
	}
	ids, err := openSQLiteFile(ctx, fmt.Sprintf("file:%s-ids?_busy_timeout=5000", path), sqliteIDSchema)
	if err != nil {
		db.Close()
		return nil, err
	}
	ids.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, ids: ids}, nil
}

func openSQLiteFile(ctx context.Context, dsn, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// Close closes both database files.
func (s *SQLiteStore) Close() error {
	return errors.Join(s.db.Close(), s.ids.Close())
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sqliteStockColumns = `id, ticker, company_name, initial_price, opening_price, current_price,
	day_high, day_low, float_shares, created_at`

func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return liteAccount(ctx, s.db, `SELECT id, user_id, cash_balance, created_at FROM accounts WHERE id = ?`, id)
}

func (s *SQLiteStore) GetAccountByUser(ctx context.Context, userID int64) (*model.Account, error) {
	return liteAccount(ctx, s.db, `SELECT id, user_id, cash_balance, created_at FROM accounts WHERE user_id = ?`, userID)
}

func (s *SQLiteStore) GetStock(ctx context.Context, id int64) (*model.Stock, error) {
	return liteStock(ctx, s.db, `SELECT `+sqliteStockColumns+` FROM stocks WHERE id = ?`, id)
}

func (s *SQLiteStore) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	return liteStock(ctx, s.db, `SELECT `+sqliteStockColumns+` FROM stocks WHERE ticker = ?`, ticker)
}

func (s *SQLiteStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return liteStocks(ctx, s.db)
}

func (s *SQLiteStore) ListPriceTicks(ctx context.Context, stockID int64, limit int) ([]model.PriceTick, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stock_id, price, timestamp FROM price_ticks
		 WHERE stock_id = ? ORDER BY id DESC LIMIT ?`, stockID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []model.PriceTick
	for rows.Next() {
		var t model.PriceTick
		var price string
		if err := rows.Scan(&t.ID, &t.StockID, &price, &t.Timestamp); err != nil {
			return nil, err
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (s *SQLiteStore) ListPositions(ctx context.Context, accountID int64) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.account_id, p.stock_id, st.ticker, p.quantity
		 FROM positions p JOIN stocks st ON st.id = p.stock_id
		 WHERE p.account_id = ? ORDER BY st.ticker`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.AccountID, &p.StockID, &p.Ticker, &p.Quantity); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) ListOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.account_id, o.stock_id, st.ticker, o.action, o.quantity,
		        o.status, o.commit_id, o.created_at, o.executed_at
		 FROM orders o JOIN stocks st ON st.id = o.stock_id
		 WHERE o.account_id = ? ORDER BY o.id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var action, status string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.StockID, &o.Ticker, &action, &o.Quantity,
			&status, &o.CommitID, &o.CreatedAt, &o.ExecutedAt); err != nil {
			return nil, err
		}
		o.Action, o.Status = model.Action(action), model.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) ListFills(ctx context.Context, orderID int64) ([]model.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, price, quantity, executed_at FROM fills WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var price string
		if err := rows.Scan(&f.ID, &f.OrderID, &price, &f.Quantity, &f.ExecutedAt); err != nil {
			return nil, err
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, type, amount, commit_id, created_at
		 FROM transactions WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var typ, amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &typ, &amount, &t.CommitID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TxType(typ)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *SQLiteStore) GetMarketSchedule(ctx context.Context) (*model.MarketSchedule, error) {
	var m model.MarketSchedule
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, open_hour, open_minute, close_hour, close_minute, holiday
		 FROM market_schedule WHERE id = 1`).
		Scan(&status, &m.OpenHour, &m.OpenMinute, &m.CloseHour, &m.CloseMinute, &m.Holiday)
	if err != nil {
		return nil, liteNotFound(err, "market schedule")
	}
	m.Status = model.MarketStatus(status)
	return &m, nil
}

func (s *SQLiteStore) SaveMarketSchedule(ctx context.Context, m *model.MarketSchedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_schedule (id, status, open_hour, open_minute, close_hour, close_minute, holiday)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE
		 SET status = excluded.status,
		     open_hour = excluded.open_hour, open_minute = excluded.open_minute,
		     close_hour = excluded.close_hour, close_minute = excluded.close_minute,
		     holiday = excluded.holiday`,
		string(m.Status), m.OpenHour, m.OpenMinute, m.CloseHour, m.CloseMinute, m.Holiday)
	return err
}

// Update runs fn in one SQLite transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&liteTx{tx: tx, ids: s.ids}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type liteTx struct {
	tx  *sql.Tx
	ids *sql.DB
}

func (t *liteTx) MaxID(ctx context.Context, kind model.IDKind) (int64, error) {
	table, ok := kindTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown id kind %q", kind)
	}
	var max int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM `+table).Scan(&max); err != nil {
		return 0, fmt.Errorf("max %s id: %w", kind, err)
	}
	return max, nil
}

// ReserveID runs outside t.tx. Units only reserve while holding the main
// write lock, so the reservation file is never contended by a waiting unit.
func (t *liteTx) ReserveID(ctx context.Context, kind model.IDKind, floor int64) (int64, error) {
	if _, ok := kindTables[kind]; !ok {
		return 0, fmt.Errorf("unknown id kind %q", kind)
	}
	var next int64
	err := t.ids.QueryRowContext(ctx,
		`INSERT INTO id_reservations (kind, last_id) VALUES (?, ?)
		 ON CONFLICT(kind) DO UPDATE SET last_id = MAX(last_id, excluded.last_id - 1) + 1
		 RETURNING last_id`,
		string(kind), floor+1).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("reserve %s id: %w", kind, err)
	}
	return next, nil
}

// LockAccount is a plain read: the IMMEDIATE transaction already holds the
// database write lock.
func (t *liteTx) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	return liteAccount(ctx, t.tx, `SELECT id, user_id, cash_balance, created_at FROM accounts WHERE id = ?`, id)
}

func (t *liteTx) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, cash_balance, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.UserID, a.CashBalance.String(), a.CreatedAt)
	return liteConflict(err, fmt.Sprintf("account for user %d", a.UserID))
}

func (t *liteTx) SaveCashBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE accounts SET cash_balance = ? WHERE id = ?`, balance.String(), accountID)
	return liteAffected(res, err, fmt.Sprintf("account %d", accountID))
}

func (t *liteTx) Position(ctx context.Context, accountID, stockID int64) (*model.Position, error) {
	var p model.Position
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, account_id, stock_id, quantity FROM positions WHERE account_id = ? AND stock_id = ?`,
		accountID, stockID).Scan(&p.ID, &p.AccountID, &p.StockID, &p.Quantity)
	if err != nil {
		return nil, liteNotFound(err, fmt.Sprintf("position (%d, %d)", accountID, stockID))
	}
	return &p, nil
}

func (t *liteTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (id, account_id, stock_id, quantity) VALUES (?, ?, ?, ?)`,
		p.ID, p.AccountID, p.StockID, p.Quantity)
	return liteConflict(err, fmt.Sprintf("position (%d, %d)", p.AccountID, p.StockID))
}

func (t *liteTx) SavePositionQuantity(ctx context.Context, id, quantity int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE positions SET quantity = ? WHERE id = ?`, quantity, id)
	return liteAffected(res, err, fmt.Sprintf("position %d", id))
}

func (t *liteTx) DeletePosition(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	return liteAffected(res, err, fmt.Sprintf("position %d", id))
}

func (t *liteTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, account_id, stock_id, action, quantity, status, commit_id, created_at, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.StockID, string(o.Action), o.Quantity, string(o.Status), o.CommitID,
		o.CreatedAt, o.ExecutedAt)
	return liteConflict(err, fmt.Sprintf("order %d", o.ID))
}

func (t *liteTx) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO fills (id, order_id, price, quantity, executed_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.Price.String(), f.Quantity, f.ExecutedAt)
	return liteConflict(err, fmt.Sprintf("fill %d", f.ID))
}

func (t *liteTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, type, amount, commit_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.AccountID, string(tr.Type), tr.Amount.String(), tr.CommitID, tr.CreatedAt)
	return liteConflict(err, fmt.Sprintf("transaction %d", tr.ID))
}

func (t *liteTx) Stocks(ctx context.Context) ([]model.Stock, error) {
	return liteStocks(ctx, t.tx)
}

func (t *liteTx) InsertStock(ctx context.Context, st *model.Stock) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO stocks (`+sqliteStockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Ticker, st.CompanyName,
		st.InitialPrice.String(), st.OpeningPrice.String(), st.CurrentPrice.String(),
		st.DayHigh.String(), st.DayLow.String(), st.FloatShares, st.CreatedAt)
	return liteConflict(err, "stock "+st.Ticker)
}

func (t *liteTx) SaveStockPrice(ctx context.Context, id int64, current, dayHigh, dayLow decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE stocks SET current_price = ?, day_high = ?, day_low = ? WHERE id = ?`,
		current.String(), dayHigh.String(), dayLow.String(), id)
	return liteAffected(res, err, fmt.Sprintf("stock %d", id))
}

func (t *liteTx) InsertPriceTick(ctx context.Context, tick *model.PriceTick) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO price_ticks (id, stock_id, price, timestamp) VALUES (?, ?, ?, ?)`,
		tick.ID, tick.StockID, tick.Price.String(), tick.Timestamp)
	return liteConflict(err, fmt.Sprintf("price tick %d", tick.ID))
}

// --- helpers ---

func liteAccount(ctx context.Context, q sqlQuerier, query string, arg any) (*model.Account, error) {
	var a model.Account
	var balance string
	var createdAt time.Time
	if err := q.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.UserID, &balance, &createdAt); err != nil {
		return nil, liteNotFound(err, fmt.Sprintf("account %v", arg))
	}
	a.CreatedAt = createdAt
	var err error
	if a.CashBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	return &a, nil
}

func liteStock(ctx context.Context, q sqlQuerier, query string, arg any) (*model.Stock, error) {
	st, err := scanStock(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, liteNotFound(err, fmt.Sprintf("stock %v", arg))
	}
	return st, nil
}

func liteStocks(ctx context.Context, q sqlQuerier) ([]model.Stock, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sqliteStockColumns+` FROM stocks ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *st)
	}
	return stocks, rows.Err()
}

func liteNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func liteConflict(err error, what string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w", what, model.ErrConflict)
	}
	return err
}

func liteAffected(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}
