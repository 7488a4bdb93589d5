package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/market"
	"github.com/investr/trade-engine/internal/model"
	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/symbol"
)

var adminCommands = []subcommands.Command{
	&addStockCmd{},
	&tickCmd{},
	&hoursCmd{},
}

type addStockCmd struct {
	ticker  string
	company string
	price   string
	float   int64
}

func (*addStockCmd) Name() string     { return "add-stock" }
func (*addStockCmd) Synopsis() string { return "list a new stock" }
func (*addStockCmd) Usage() string {
	return `add-stock -ticker <symbol> -company <name> -price <decimal> [-float <shares>]

  Lists a stock. Its opening, current, high and low prices start at the
  initial price. Tickers are unique.
`
}

func (c *addStockCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "Ticker symbol, e.g. ACME (required)")
	f.StringVar(&c.company, "company", "", "Company name (required)")
	f.StringVar(&c.price, "price", "", "Initial price (required)")
	f.Int64Var(&c.float, "float", 0, "Float shares")
}

func (c *addStockCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing price %q: %v\n", c.price, err)
		return subcommands.ExitUsageError
	}
	listing, err := symbol.ParseListing(c.ticker, c.company, price, c.float)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		st, err := a.svc.AddStock(ctx, listing)
		if err != nil {
			return err
		}
		fmt.Printf("stock %s listed as %d at %s\n", st.Ticker, st.ID, money.Format(st.CurrentPrice))
		return nil
	})
}

type tickCmd struct {
	count      int
	volatility float64
}

func (*tickCmd) Name() string     { return "tick" }
func (*tickCmd) Synopsis() string { return "advance simulated prices" }
func (*tickCmd) Usage() string {
	return `tick [-n <ticks>] [-volatility <percent>]

  Moves every stock by a random step and records its price history.
`
}

func (c *tickCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.count, "n", 1, "Number of ticks")
	f.Float64Var(&c.volatility, "volatility", -1, "Maximum step in percent (default: VOLATILITY)")
}

func (c *tickCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.count <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -n must be positive.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		vol := a.cfg.Volatility
		if c.volatility >= 0 {
			vol = c.volatility
		}
		gen := market.NewGenerator(a.store, a.ids, nil, vol)
		var ticks []model.PriceTick
		for i := 0; i < c.count; i++ {
			var err error
			if ticks, err = gen.Tick(ctx); err != nil {
				return err
			}
		}

		stocks, err := a.store.ListStocks(ctx)
		if err != nil {
			return err
		}
		for _, st := range stocks {
			fmt.Printf("%-10s %12s  (low %s, high %s)\n", st.Ticker,
				money.Format(st.CurrentPrice), money.Format(st.DayLow), money.Format(st.DayHigh))
		}
		fmt.Printf("%d stocks updated %d times\n", len(ticks), c.count)
		return nil
	})
}

type hoursCmd struct {
	set     bool
	status  string
	open    string
	close   string
	holiday bool
}

func (*hoursCmd) Name() string     { return "hours" }
func (*hoursCmd) Synopsis() string { return "show or set market hours" }
func (*hoursCmd) Usage() string {
	return `hours [-set -status OPEN|CLOSED -open HH:MM -close HH:MM [-holiday]]

  Without -set, prints whether the market is open now and why.
`
}

func (c *hoursCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.set, "set", false, "Replace the schedule")
	f.StringVar(&c.status, "status", "OPEN", "Manual switch, OPEN or CLOSED")
	f.StringVar(&c.open, "open", "09:30", "Opening time")
	f.StringVar(&c.close, "close", "16:00", "Closing time")
	f.BoolVar(&c.holiday, "holiday", false, "Mark today as a holiday")
}

func (c *hoursCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.set {
		return run(ctx, func(a *app) error {
			return printJSON(a.clock.Status(ctx))
		})
	}

	open, err := time.Parse("15:04", c.open)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -open %q: %v\n", c.open, err)
		return subcommands.ExitUsageError
	}
	closing, err := time.Parse("15:04", c.close)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -close %q: %v\n", c.close, err)
		return subcommands.ExitUsageError
	}
	sched := &model.MarketSchedule{
		Status:      model.MarketStatus(strings.ToUpper(c.status)),
		OpenHour:    open.Hour(),
		OpenMinute:  open.Minute(),
		CloseHour:   closing.Hour(),
		CloseMinute: closing.Minute(),
		Holiday:     c.holiday,
	}
	return run(ctx, func(a *app) error {
		if err := a.svc.SetSchedule(ctx, sched); err != nil {
			return err
		}
		return printJSON(a.clock.Status(ctx))
	})
}
