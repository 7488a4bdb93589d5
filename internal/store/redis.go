package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Units of work run against the primary and invalidate the keys they
// touched once they commit; reads check Redis first then fall back to the
// primary. Nothing inside a unit of work reads from the cache.
//
// Every cached key has a generation counter that invalidation bumps. A
// reader notes the generation before it reads the primary and fills the
// cache only if the generation is unchanged, so a value read before a
// commit is never cached after that commit's invalidation.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Unit of work (run on primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tracked := &trackingTx{accounts: map[int64]bool{}, stocks: map[int64]string{}}
	err := s.primary.Update(ctx, func(tx Tx) error {
		tracked.Tx = tx
		return fn(tracked)
	})
	if err != nil {
		return err
	}

	var keys []string
	for id := range tracked.accounts {
		keys = append(keys, positionsKey(id))
	}
	for id, ticker := range tracked.stocks {
		keys = append(keys, stockKey(id))
		if ticker != "" {
			keys = append(keys, tickerKey(ticker))
		}
	}
	s.invalidate(context.Background(), keys...)
	return nil
}

func (s *CachedStore) SaveMarketSchedule(ctx context.Context, sched *model.MarketSchedule) error {
	if err := s.primary.SaveMarketSchedule(ctx, sched); err != nil {
		return err
	}
	s.invalidate(ctx, scheduleKey)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStock(ctx context.Context, id int64) (*model.Stock, error) {
	data, err := s.rdb.Get(ctx, stockKey(id)).Bytes()
	if err == nil {
		var st model.Stock
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	gen := s.generation(ctx, stockKey(id))
	st, err := s.primary.GetStock(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, stockKey(id), gen, st)
	return st, nil
}

func (s *CachedStore) GetStockByTicker(ctx context.Context, ticker string) (*model.Stock, error) {
	// Try cache via ticker→stockID mapping. The mapping never changes once
	// a stock exists, so it is cached without a generation check.
	if id, err := s.rdb.Get(ctx, tickerKey(ticker)).Int64(); err == nil {
		return s.GetStock(ctx, id)
	}

	st, err := s.primary.GetStockByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, tickerKey(ticker), strconv.FormatInt(st.ID, 10), s.ttl)
	return st, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID int64) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	gen := s.generation(ctx, positionsKey(accountID))
	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, positionsKey(accountID), gen, positions)
	return positions, nil
}

func (s *CachedStore) GetMarketSchedule(ctx context.Context) (*model.MarketSchedule, error) {
	data, err := s.rdb.Get(ctx, scheduleKey).Bytes()
	if err == nil {
		var m model.MarketSchedule
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	gen := s.generation(ctx, scheduleKey)
	m, err := s.primary.GetMarketSchedule(ctx)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, scheduleKey, gen, m)
	return m, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetAccountByUser(ctx context.Context, userID int64) (*model.Account, error) {
	return s.primary.GetAccountByUser(ctx, userID)
}

func (s *CachedStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	return s.primary.ListStocks(ctx)
}

func (s *CachedStore) ListPriceTicks(ctx context.Context, stockID int64, limit int) ([]model.PriceTick, error) {
	return s.primary.ListPriceTicks(ctx, stockID, limit)
}

func (s *CachedStore) ListOrders(ctx context.Context, accountID int64) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, accountID)
}

func (s *CachedStore) ListFills(ctx context.Context, orderID int64) ([]model.Fill, error) {
	return s.primary.ListFills(ctx, orderID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, accountID)
}

// --- Cache helpers ---

// fillScript stores ARGV[2] under KEYS[1] only while the generation in
// KEYS[2] still equals ARGV[1]. ARGV[3] is the TTL in milliseconds, 0 for
// none.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// generation returns the current generation of key, or -1 when it cannot
// be read. A reader that saw -1 never fills the cache.
func (s *CachedStore) generation(ctx context.Context, key string) int64 {
	gen, err := s.rdb.Get(ctx, genKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return -1
	}
	return gen
}

// fill caches v under key if no invalidation happened since gen was read.
func (s *CachedStore) fill(ctx context.Context, key string, gen int64, v any) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = fillScript.Run(ctx, s.rdb, []string{key, genKey(key)},
		strconv.FormatInt(gen, 10), data, s.ttl.Milliseconds()).Err()
	if err != nil {
		slog.Warn("cache fill failed", "key", key, "err", err)
	}
}

// invalidate bumps the generation of every key and drops its value.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, genKey(key))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

const scheduleKey = "market:schedule"

func stockKey(id int64) string       { return fmt.Sprintf("stock:%d", id) }
func tickerKey(ticker string) string { return fmt.Sprintf("ticker:%s", ticker) }
func positionsKey(acct int64) string { return fmt.Sprintf("positions:%d", acct) }
func genKey(key string) string       { return "gen:" + key }

// trackingTx records which cached rows a unit of work touched. Position
// updates and deletes are always preceded by LockAccount on the owner, so
// locked accounts cover them.
type trackingTx struct {
	Tx
	accounts map[int64]bool
	stocks   map[int64]string
}

func (t *trackingTx) InsertPosition(ctx context.Context, p *model.Position) error {
	t.accounts[p.AccountID] = true
	return t.Tx.InsertPosition(ctx, p)
}

func (t *trackingTx) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	t.accounts[id] = true
	return t.Tx.LockAccount(ctx, id)
}

func (t *trackingTx) InsertStock(ctx context.Context, st *model.Stock) error {
	t.stocks[st.ID] = st.Ticker
	return t.Tx.InsertStock(ctx, st)
}

func (t *trackingTx) SaveStockPrice(ctx context.Context, id int64, current, dayHigh, dayLow decimal.Decimal) error {
	if _, ok := t.stocks[id]; !ok {
		t.stocks[id] = ""
	}
	return t.Tx.SaveStockPrice(ctx, id, current, dayHigh, dayLow)
}
