package market

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/events"
	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/metrics"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/store"
)

var minPrice = decimal.New(1, -2)

// Generator simulates price movement. It runs out of band and is never
// called by the trade path.
type Generator struct {
	store      store.Store
	ids        *idalloc.Allocator
	pub        events.Publisher
	volatility float64 // percent, e.g. 0.5

	onTick []func()

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator moving prices by at most volatility
// percent per tick.
func NewGenerator(st store.Store, ids *idalloc.Allocator, pub events.Publisher, volatility float64) *Generator {
	if pub == nil {
		pub = events.Nop{}
	}
	seed := uint64(time.Now().UnixNano())
	return &Generator{
		store:      st,
		ids:        ids,
		pub:        pub,
		volatility: volatility,
		rnd:        rand.New(rand.NewPCG(seed, seed>>1)),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithSeed makes the walk deterministic.
func (g *Generator) WithSeed(seed uint64) *Generator {
	g.rnd = rand.New(rand.NewPCG(seed, seed))
	return g
}

// OnTick registers fn to run after every committed tick, e.g. to clear a
// price cache.
func (g *Generator) OnTick(fn func()) {
	g.onTick = append(g.onTick, fn)
}

// Tick moves every stock once and appends one price tick per stock, all in
// one unit of work.
func (g *Generator) Tick(ctx context.Context) ([]model.PriceTick, error) {
	var ticks []model.PriceTick
	now := g.now()
	err := g.store.Update(ctx, func(tx store.Tx) error {
		ticks = ticks[:0]
		stocks, err := tx.Stocks(ctx)
		if err != nil {
			return err
		}
		for _, st := range stocks {
			price := g.next(st.CurrentPrice)
			high, low := st.DayHigh, st.DayLow
			if price.GreaterThan(high) {
				high = price
			}
			if price.LessThan(low) {
				low = price
			}
			if err := tx.SaveStockPrice(ctx, st.ID, price, high, low); err != nil {
				return err
			}

			id, err := g.ids.Next(ctx, tx, model.KindPriceTick)
			if err != nil {
				return err
			}
			tick := model.PriceTick{ID: id, StockID: st.ID, Price: price, Timestamp: now}
			if err := tx.InsertPriceTick(ctx, &tick); err != nil {
				return err
			}
			ticks = append(ticks, tick)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, fn := range g.onTick {
		fn()
	}
	metrics.PriceTicks.Add(float64(len(ticks)))
	for _, t := range ticks {
		g.pub.Publish(ctx, events.Event{
			Type: events.TypePriceTick,
			Key:  strconv.FormatInt(t.StockID, 10),
			Time: t.Timestamp,
			Data: t,
		})
	}
	slog.Info("prices updated", "stocks", len(ticks))
	return ticks, nil
}

// next applies a uniform random change in [-volatility%, +volatility%],
// floors at one cent and rounds to cents.
func (g *Generator) next(current decimal.Decimal) decimal.Decimal {
	g.mu.Lock()
	u := g.rnd.Float64()
	g.mu.Unlock()

	change := (2*u - 1) * g.volatility / 100
	price := current.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(change)))
	if price.LessThan(minPrice) {
		price = minPrice
	}
	return money.Round(price)
}

// Run ticks every interval until ctx is done. Tick errors are logged and
// do not stop the loop.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.Tick(ctx); err != nil && ctx.Err() == nil {
				slog.Error("price tick failed", "err", err)
			}
		}
	}
}
