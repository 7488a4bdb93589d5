package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	accountColumns = `id, user_id, cash_balance::TEXT, created_at`
	stockColumns   = `id, ticker, company_name,
		initial_price::TEXT, opening_price::TEXT, current_price::TEXT,
		day_high::TEXT, day_low::TEXT, float_shares, created_at`
)

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return pgAccount(ctx, s.pool, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByUser(ctx context.Context, userID int64) (*model.Account, error) {
	return pgAccount(ctx, s.pool, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
}

func (s *PostgresStore) GetStock(ctx context.Context, id int64) (*model.Stock, error) {
	return pgStock(ctx, s.pool, `SELECT `+stockColumns+` FROM stocks WHERE id = $1`, id)
}

func (s *PostgresStore) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	return pgStock(ctx, s.pool, `SELECT `+stockColumns+` FROM stocks WHERE ticker = $1`, ticker)
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return pgStocks(ctx, s.pool)
}

func (s *PostgresStore) ListPriceTicks(ctx context.Context, stockID int64, limit int) ([]model.PriceTick, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, stock_id, price::TEXT, timestamp
		 FROM price_ticks WHERE stock_id = $1 ORDER BY id DESC LIMIT $2`, stockID, limit)
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

func (s *PostgresStore) ListPositions(ctx context.Context, accountID int64) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.account_id, p.stock_id, st.ticker, p.quantity
		 FROM positions p
		 JOIN stocks st ON st.id = p.stock_id
		 WHERE p.account_id = $1
		 ORDER BY st.ticker`, accountID)
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

func (s *PostgresStore) ListOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT o.id, o.account_id, o.stock_id, st.ticker, o.action, o.quantity,
		        o.status, o.commit_id::TEXT, o.created_at, o.executed_at
		 FROM orders o
		 JOIN stocks st ON st.id = o.stock_id
		 WHERE o.account_id = $1
		 ORDER BY o.id`, accountID)
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

func (s *PostgresStore) ListFills(ctx context.Context, orderID int64) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, price::TEXT, quantity, executed_at
		 FROM fills WHERE order_id = $1 ORDER BY id`, orderID)
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

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, type, amount::TEXT, commit_id::TEXT, created_at
		 FROM transactions WHERE account_id = $1 ORDER BY id`, accountID)
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

func (s *PostgresStore) GetMarketSchedule(ctx context.Context) (*model.MarketSchedule, error) {
	var m model.MarketSchedule
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status, open_hour, open_minute, close_hour, close_minute, holiday
		 FROM market_schedule WHERE id = 1`).
		Scan(&status, &m.OpenHour, &m.OpenMinute, &m.CloseHour, &m.CloseMinute, &m.Holiday)
	if err != nil {
		return nil, pgNotFound(err, "market schedule")
	}
	m.Status = model.MarketStatus(status)
	return &m, nil
}

func (s *PostgresStore) SaveMarketSchedule(ctx context.Context, m *model.MarketSchedule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_schedule (id, status, open_hour, open_minute, close_hour, close_minute, holiday)
		 VALUES (1, $1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     open_hour = EXCLUDED.open_hour, open_minute = EXCLUDED.open_minute,
		     close_hour = EXCLUDED.close_hour, close_minute = EXCLUDED.close_minute,
		     holiday = EXCLUDED.holiday`,
		string(m.Status), m.OpenHour, m.OpenMinute, m.CloseHour, m.CloseMinute, m.Holiday)
	return err
}

// Update runs fn in a READ COMMITTED transaction. Per-account isolation
// comes from SELECT ... FOR UPDATE in LockAccount and per-kind id
// allocation from transaction-scoped advisory locks in MaxID.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

var kindTables = map[model.IDKind]string{
	model.KindAccount:     "accounts",
	model.KindStock:       "stocks",
	model.KindPosition:    "positions",
	model.KindOrder:       "orders",
	model.KindFill:        "fills",
	model.KindTransaction: "transactions",
	model.KindPriceTick:   "price_ticks",
}

// advisoryKey namespaces the per-kind allocation locks.
func advisoryKey(kind model.IDKind) int64 {
	const namespace = 0x7e_1d_a1_00
	for i, k := range model.Kinds() {
		if k == kind {
			return namespace + int64(i)
		}
	}
	return namespace
}

func (t *pgTx) MaxID(ctx context.Context, kind model.IDKind) (int64, error) {
	table, ok := kindTables[kind]
	if !ok {
		return 0, fmt.Errorf("unknown id kind %q", kind)
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(kind)); err != nil {
		return 0, fmt.Errorf("lock %s ids: %w", kind, err)
	}
	var max int64
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM `+table).Scan(&max); err != nil {
		return 0, fmt.Errorf("max %s id: %w", kind, err)
	}
	return max, nil
}

// ReserveID draws from a per-kind sequence. nextval and setval are never
// rolled back, and the advisory lock taken in MaxID keeps the
// read-then-setval step exclusive per kind.
func (t *pgTx) ReserveID(ctx context.Context, kind model.IDKind, floor int64) (int64, error) {
	if _, ok := kindTables[kind]; !ok {
		return 0, fmt.Errorf("unknown id kind %q", kind)
	}
	seq := idSequence(kind)
	var next int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval($1::regclass)`, seq).Scan(&next); err != nil {
		return 0, fmt.Errorf("reserve %s id: %w", kind, err)
	}
	if next > floor {
		return next, nil
	}
	if _, err := t.tx.Exec(ctx, `SELECT setval($1::regclass, $2)`, seq, floor+1); err != nil {
		return 0, fmt.Errorf("reserve %s id: %w", kind, err)
	}
	return floor + 1, nil
}

func idSequence(kind model.IDKind) string { return "id_seq_" + string(kind) }

func (t *pgTx) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	return pgAccount(ctx, t.tx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, user_id, cash_balance, created_at) VALUES ($1, $2, $3::NUMERIC, $4)`,
		a.ID, a.UserID, a.CashBalance.String(), a.CreatedAt)
	return pgConflict(err, fmt.Sprintf("account for user %d", a.UserID))
}

func (t *pgTx) SaveCashBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash_balance = $2::NUMERIC WHERE id = $1`, accountID, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", accountID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) Position(ctx context.Context, accountID, stockID int64) (*model.Position, error) {
	var p model.Position
	err := t.tx.QueryRow(ctx,
		`SELECT id, account_id, stock_id, quantity FROM positions
		 WHERE account_id = $1 AND stock_id = $2`, accountID, stockID).
		Scan(&p.ID, &p.AccountID, &p.StockID, &p.Quantity)
	if err != nil {
		return nil, pgNotFound(err, fmt.Sprintf("position (%d, %d)", accountID, stockID))
	}
	return &p, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, account_id, stock_id, quantity) VALUES ($1, $2, $3, $4)`,
		p.ID, p.AccountID, p.StockID, p.Quantity)
	return pgConflict(err, fmt.Sprintf("position (%d, %d)", p.AccountID, p.StockID))
}

func (t *pgTx) SavePositionQuantity(ctx context.Context, id, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE positions SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, account_id, stock_id, action, quantity, status, commit_id, created_at, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.AccountID, o.StockID, string(o.Action), o.Quantity, string(o.Status), o.CommitID,
		o.CreatedAt, o.ExecutedAt)
	return pgConflict(err, fmt.Sprintf("order %d", o.ID))
}

func (t *pgTx) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO fills (id, order_id, price, quantity, executed_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)`,
		f.ID, f.OrderID, f.Price.String(), f.Quantity, f.ExecutedAt)
	return pgConflict(err, fmt.Sprintf("fill %d", f.ID))
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, account_id, type, amount, commit_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		tr.ID, tr.AccountID, string(tr.Type), tr.Amount.String(), tr.CommitID, tr.CreatedAt)
	return pgConflict(err, fmt.Sprintf("transaction %d", tr.ID))
}

func (t *pgTx) Stocks(ctx context.Context) ([]model.Stock, error) {
	return pgStocks(ctx, t.tx)
}

func (t *pgTx) InsertStock(ctx context.Context, st *model.Stock) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stocks (id, ticker, company_name, initial_price, opening_price, current_price,
		                     day_high, day_low, float_shares, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		st.ID, st.Ticker, st.CompanyName,
		st.InitialPrice.String(), st.OpeningPrice.String(), st.CurrentPrice.String(),
		st.DayHigh.String(), st.DayLow.String(), st.FloatShares, st.CreatedAt)
	return pgConflict(err, "stock "+st.Ticker)
}

func (t *pgTx) SaveStockPrice(ctx context.Context, id int64, current, dayHigh, dayLow decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE stocks
		 SET current_price = $2::NUMERIC, day_high = $3::NUMERIC, day_low = $4::NUMERIC
		 WHERE id = $1`,
		id, current.String(), dayHigh.String(), dayLow.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPriceTick(ctx context.Context, tick *model.PriceTick) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO price_ticks (id, stock_id, price, timestamp) VALUES ($1, $2, $3::NUMERIC, $4)`,
		tick.ID, tick.StockID, tick.Price.String(), tick.Timestamp)
	return pgConflict(err, fmt.Sprintf("price tick %d", tick.ID))
}

// --- helpers ---

func pgAccount(ctx context.Context, q pgQuerier, sql string, arg any) (*model.Account, error) {
	var a model.Account
	var balance string
	if err := q.QueryRow(ctx, sql, arg).Scan(&a.ID, &a.UserID, &balance, &a.CreatedAt); err != nil {
		return nil, pgNotFound(err, fmt.Sprintf("account %v", arg))
	}
	var err error
	if a.CashBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	return &a, nil
}

func pgStock(ctx context.Context, q pgQuerier, sql string, arg any) (*model.Stock, error) {
	st, err := scanStock(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, pgNotFound(err, fmt.Sprintf("stock %v", arg))
	}
	return st, nil
}

func pgStocks(ctx context.Context, q pgQuerier) ([]model.Stock, error) {
	rows, err := q.Query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY ticker`)
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

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanStock reads stockColumns. Money columns arrive as text.
func scanStock(row rowScanner) (*model.Stock, error) {
	var st model.Stock
	var initial, opening, current, high, low string
	var createdAt time.Time
	if err := row.Scan(&st.ID, &st.Ticker, &st.CompanyName,
		&initial, &opening, &current, &high, &low,
		&st.FloatShares, &createdAt); err != nil {
		return nil, err
	}
	st.CreatedAt = createdAt

	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&st.InitialPrice, initial},
		{&st.OpeningPrice, opening},
		{&st.CurrentPrice, current},
		{&st.DayHigh, high},
		{&st.DayLow, low},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("stock %s: %w", st.Ticker, err)
		}
	}
	return &st, nil
}

func pgNotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func pgConflict(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%s: %w", what, model.ErrConflict)
	}
	return err
}
