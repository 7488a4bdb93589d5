package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A unit of work stages its writes privately and applies them under the
// store lock at commit, so a failed unit leaves no trace. Accounts are
// serialized by per-account locks taken in LockAccount and held until the
// unit ends; units on different accounts run in parallel.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[int64]*model.Account
	stocks       map[int64]*model.Stock
	positions    map[int64]*model.Position
	orders       map[int64]model.Order
	fills        map[int64]model.Fill
	transactions map[int64]model.Transaction
	ticks        map[int64]model.PriceTick
	schedule     *model.MarketSchedule

	lockMu       sync.Mutex
	accountLocks map[int64]chan struct{}

	idMu     sync.Mutex
	reserved map[model.IDKind]int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[int64]*model.Account),
		stocks:       make(map[int64]*model.Stock),
		positions:    make(map[int64]*model.Position),
		orders:       make(map[int64]model.Order),
		fills:        make(map[int64]model.Fill),
		transactions: make(map[int64]model.Transaction),
		ticks:        make(map[int64]model.PriceTick),
		accountLocks: make(map[int64]chan struct{}),
		reserved:     make(map[model.IDKind]int64),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, model.ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByUser(_ context.Context, userID int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.UserID == userID {
			copy := *a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("account for user %d: %w", userID, model.ErrNotFound)
}

func (s *MemoryStore) GetStock(_ context.Context, id int64) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return nil, fmt.Errorf("stock %d: %w", id, model.ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) GetStockByTicker(_ context.Context, ticker string) (*model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stocks {
		if st.Ticker == ticker {
			copy := *st
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("stock %s: %w", ticker, model.ErrNotFound)
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]model.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	return stocks, nil
}

func (s *MemoryStore) ListPriceTicks(_ context.Context, stockID int64, limit int) ([]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ticks []model.PriceTick
	for _, t := range s.ticks {
		if t.StockID == stockID {
			ticks = append(ticks, t)
		}
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].ID > ticks[j].ID })
	if limit > 0 && len(ticks) > limit {
		ticks = ticks[:limit]
	}
	return ticks, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID int64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions {
		if p.AccountID != accountID {
			continue
		}
		pos := *p
		if st, ok := s.stocks[p.StockID]; ok {
			pos.Ticker = st.Ticker
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID int64) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.AccountID != accountID {
			continue
		}
		if st, ok := s.stocks[o.StockID]; ok {
			o.Ticker = st.Ticker
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *MemoryStore) ListFills(_ context.Context, orderID int64) ([]model.Fill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fills []model.Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			fills = append(fills, f)
		}
	}
	sort.Slice(fills, func(i, j int) bool { return fills[i].ID < fills[j].ID })
	return fills, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID int64) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []model.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			txns = append(txns, t)
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].ID < txns[j].ID })
	return txns, nil
}

func (s *MemoryStore) GetMarketSchedule(_ context.Context) (*model.MarketSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.schedule == nil {
		return nil, fmt.Errorf("market schedule: %w", model.ErrNotFound)
	}
	copy := *s.schedule
	return &copy, nil
}

func (s *MemoryStore) SaveMarketSchedule(_ context.Context, sched *model.MarketSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *sched
	s.schedule = &copy
	return nil
}

// Update runs fn against a private staging area and applies it atomically.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:            s,
		held:         make(map[int64]chan struct{}),
		accounts:     make(map[int64]model.Account),
		newAccounts:  make(map[int64]bool),
		stocks:       make(map[int64]model.Stock),
		newStocks:    make(map[int64]bool),
		positions:    make(map[int64]*model.Position),
		newPositions: make(map[int64]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) accountLock(id int64) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.accountLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.accountLocks[id] = l
	}
	return l
}

// commit re-checks primary keys and unique constraints against the current
// committed state, then applies every staged write.
func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.newAccounts {
		if _, ok := s.accounts[id]; ok {
			return fmt.Errorf("account %d: %w", id, model.ErrConflict)
		}
		for _, a := range s.accounts {
			if a.UserID == tx.accounts[id].UserID {
				return fmt.Errorf("account for user %d: %w", a.UserID, model.ErrConflict)
			}
		}
	}
	for id := range tx.newStocks {
		if _, ok := s.stocks[id]; ok {
			return fmt.Errorf("stock %d: %w", id, model.ErrConflict)
		}
		for _, st := range s.stocks {
			if st.Ticker == tx.stocks[id].Ticker {
				return fmt.Errorf("stock %s: %w", st.Ticker, model.ErrConflict)
			}
		}
	}
	for id := range tx.newPositions {
		if _, ok := s.positions[id]; ok {
			return fmt.Errorf("position %d: %w", id, model.ErrConflict)
		}
		np := tx.positions[id]
		for pid, p := range s.positions {
			if staged, ok := tx.positions[pid]; ok && staged == nil {
				continue
			}
			if p.AccountID == np.AccountID && p.StockID == np.StockID {
				return fmt.Errorf("position (%d, %d): %w", np.AccountID, np.StockID, model.ErrConflict)
			}
		}
	}
	for _, o := range tx.orders {
		if _, ok := s.orders[o.ID]; ok {
			return fmt.Errorf("order %d: %w", o.ID, model.ErrConflict)
		}
	}
	for _, f := range tx.fills {
		if _, ok := s.fills[f.ID]; ok {
			return fmt.Errorf("fill %d: %w", f.ID, model.ErrConflict)
		}
	}
	for _, t := range tx.transactions {
		if _, ok := s.transactions[t.ID]; ok {
			return fmt.Errorf("transaction %d: %w", t.ID, model.ErrConflict)
		}
	}
	for _, t := range tx.ticks {
		if _, ok := s.ticks[t.ID]; ok {
			return fmt.Errorf("price tick %d: %w", t.ID, model.ErrConflict)
		}
	}

	for id, a := range tx.accounts {
		a := a
		s.accounts[id] = &a
	}
	for id, st := range tx.stocks {
		st := st
		s.stocks[id] = &st
	}
	for id, p := range tx.positions {
		if p == nil {
			delete(s.positions, id)
			continue
		}
		s.positions[id] = p
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
	}
	for _, f := range tx.fills {
		s.fills[f.ID] = f
	}
	for _, t := range tx.transactions {
		s.transactions[t.ID] = t
	}
	for _, t := range tx.ticks {
		s.ticks[t.ID] = t
	}
	return nil
}

// memTx is a MemoryStore unit of work. It is confined to one goroutine.
type memTx struct {
	s    *MemoryStore
	held map[int64]chan struct{}

	accounts     map[int64]model.Account
	newAccounts  map[int64]bool
	stocks       map[int64]model.Stock
	newStocks    map[int64]bool
	positions    map[int64]*model.Position // nil marks a deletion
	newPositions map[int64]bool
	orders       []model.Order
	fills        []model.Fill
	transactions []model.Transaction
	ticks        []model.PriceTick
}

func (tx *memTx) release() {
	for id, l := range tx.held {
		<-l
		delete(tx.held, id)
	}
}

func (tx *memTx) MaxID(_ context.Context, kind model.IDKind) (int64, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	var max int64
	bump := func(id int64) {
		if id > max {
			max = id
		}
	}
	switch kind {
	case model.KindAccount:
		for id := range tx.s.accounts {
			bump(id)
		}
		for id := range tx.accounts {
			bump(id)
		}
	case model.KindStock:
		for id := range tx.s.stocks {
			bump(id)
		}
		for id := range tx.stocks {
			bump(id)
		}
	case model.KindPosition:
		for id := range tx.s.positions {
			bump(id)
		}
		for id := range tx.positions {
			bump(id)
		}
	case model.KindOrder:
		for id := range tx.s.orders {
			bump(id)
		}
		for _, o := range tx.orders {
			bump(o.ID)
		}
	case model.KindFill:
		for id := range tx.s.fills {
			bump(id)
		}
		for _, f := range tx.fills {
			bump(f.ID)
		}
	case model.KindTransaction:
		for id := range tx.s.transactions {
			bump(id)
		}
		for _, t := range tx.transactions {
			bump(t.ID)
		}
	case model.KindPriceTick:
		for id := range tx.s.ticks {
			bump(id)
		}
		for _, t := range tx.ticks {
			bump(t.ID)
		}
	default:
		return 0, fmt.Errorf("unknown id kind %q", kind)
	}
	return max, nil
}

// ReserveID keeps reservations on the store, so they outlive the unit and
// are shared by every allocator using this store.
func (tx *memTx) ReserveID(_ context.Context, kind model.IDKind, floor int64) (int64, error) {
	tx.s.idMu.Lock()
	defer tx.s.idMu.Unlock()

	next := tx.s.reserved[kind]
	if floor > next {
		next = floor
	}
	next++
	tx.s.reserved[kind] = next
	return next, nil
}

func (tx *memTx) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	if _, ok := tx.held[id]; !ok {
		l := tx.s.accountLock(id)
		select {
		case l <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		tx.held[id] = l
	}
	return tx.account(id)
}

func (tx *memTx) account(id int64) (*model.Account, error) {
	if a, ok := tx.accounts[id]; ok {
		return &a, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	a, ok := tx.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, model.ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (tx *memTx) InsertAccount(_ context.Context, a *model.Account) error {
	if _, err := tx.account(a.ID); err == nil {
		return fmt.Errorf("account %d: %w", a.ID, model.ErrConflict)
	}
	tx.accounts[a.ID] = *a
	tx.newAccounts[a.ID] = true
	return nil
}

func (tx *memTx) SaveCashBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	if _, ok := tx.held[accountID]; !ok && !tx.newAccounts[accountID] {
		return fmt.Errorf("account %d is not locked by this unit", accountID)
	}
	a, err := tx.account(accountID)
	if err != nil {
		return err
	}
	a.CashBalance = balance
	tx.accounts[accountID] = *a
	return nil
}

func (tx *memTx) Position(_ context.Context, accountID, stockID int64) (*model.Position, error) {
	for _, p := range tx.positions {
		if p != nil && p.AccountID == accountID && p.StockID == stockID {
			copy := *p
			return &copy, nil
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	for id, p := range tx.s.positions {
		if p.AccountID != accountID || p.StockID != stockID {
			continue
		}
		if _, staged := tx.positions[id]; staged {
			continue // deleted in this unit
		}
		copy := *p
		return &copy, nil
	}
	return nil, fmt.Errorf("position (%d, %d): %w", accountID, stockID, model.ErrNotFound)
}

func (tx *memTx) InsertPosition(ctx context.Context, p *model.Position) error {
	if _, err := tx.Position(ctx, p.AccountID, p.StockID); err == nil {
		return fmt.Errorf("position (%d, %d): %w", p.AccountID, p.StockID, model.ErrConflict)
	}
	copy := *p
	tx.positions[p.ID] = &copy
	tx.newPositions[p.ID] = true
	return nil
}

func (tx *memTx) SavePositionQuantity(_ context.Context, id, quantity int64) error {
	if p, ok := tx.positions[id]; ok {
		if p == nil {
			return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
		}
		p.Quantity = quantity
		return nil
	}

	tx.s.mu.RLock()
	p, ok := tx.s.positions[id]
	tx.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
	}
	copy := *p
	copy.Quantity = quantity
	tx.positions[id] = &copy
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, id int64) error {
	if tx.newPositions[id] {
		delete(tx.positions, id)
		delete(tx.newPositions, id)
		return nil
	}
	if p, ok := tx.positions[id]; ok && p == nil {
		return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
	}

	tx.s.mu.RLock()
	_, ok := tx.s.positions[id]
	tx.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("position %d: %w", id, model.ErrNotFound)
	}
	tx.positions[id] = nil
	return nil
}

func (tx *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	tx.orders = append(tx.orders, *o)
	return nil
}

func (tx *memTx) InsertFill(_ context.Context, f *model.Fill) error {
	tx.fills = append(tx.fills, *f)
	return nil
}

func (tx *memTx) InsertTransaction(_ context.Context, t *model.Transaction) error {
	tx.transactions = append(tx.transactions, *t)
	return nil
}

func (tx *memTx) Stocks(_ context.Context) ([]model.Stock, error) {
	tx.s.mu.RLock()
	merged := make(map[int64]model.Stock, len(tx.s.stocks)+len(tx.stocks))
	for id, st := range tx.s.stocks {
		merged[id] = *st
	}
	tx.s.mu.RUnlock()
	for id, st := range tx.stocks {
		merged[id] = st
	}

	stocks := make([]model.Stock, 0, len(merged))
	for _, st := range merged {
		stocks = append(stocks, st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Ticker < stocks[j].Ticker })
	return stocks, nil
}

func (tx *memTx) InsertStock(ctx context.Context, st *model.Stock) error {
	stocks, err := tx.Stocks(ctx)
	if err != nil {
		return err
	}
	for _, existing := range stocks {
		if existing.ID == st.ID || existing.Ticker == st.Ticker {
			return fmt.Errorf("stock %s: %w", st.Ticker, model.ErrConflict)
		}
	}
	tx.stocks[st.ID] = *st
	tx.newStocks[st.ID] = true
	return nil
}

func (tx *memTx) SaveStockPrice(_ context.Context, id int64, current, dayHigh, dayLow decimal.Decimal) error {
	st, ok := tx.stocks[id]
	if !ok {
		tx.s.mu.RLock()
		committed, found := tx.s.stocks[id]
		tx.s.mu.RUnlock()
		if !found {
			return fmt.Errorf("stock %d: %w", id, model.ErrNotFound)
		}
		st = *committed
	}
	st.CurrentPrice = current
	st.DayHigh = dayHigh
	st.DayLow = dayLow
	tx.stocks[id] = st
	return nil
}

func (tx *memTx) InsertPriceTick(_ context.Context, t *model.PriceTick) error {
	tx.ticks = append(tx.ticks, *t)
	return nil
}
