package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/investr/trade-engine/internal/money"
	"github.com/investr/trade-engine/internal/trade"
)

type tradeCmd struct {
	account  int64
	ticker   string
	action   string
	quantity int64
}

func (*tradeCmd) Name() string     { return "trade" }
func (*tradeCmd) Synopsis() string { return "buy or sell shares at the current price" }
func (*tradeCmd) Usage() string {
	return `trade -account <id> -ticker <symbol> -action BUY|SELL -qty <shares>

  Executes a market order at the stock's current price. The market must be
  open according to the configured schedule.
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account identifier (required)")
	f.StringVar(&c.ticker, "ticker", "", "Ticker symbol (required)")
	f.StringVar(&c.action, "action", "", "BUY or SELL (required)")
	f.Int64Var(&c.quantity, "qty", 0, "Number of shares (required)")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account <= 0 || c.ticker == "" || c.action == "" {
		fmt.Fprintln(os.Stderr, "Error: -account, -ticker and -action are required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		res, err := a.svc.ExecuteTrade(ctx, trade.TradeRequest{
			AccountID: c.account,
			Ticker:    c.ticker,
			Action:    c.action,
			Quantity:  c.quantity,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %d %s @ %s = %s (order %d)\n",
			res.Action, res.Quantity, res.Ticker, money.Format(res.Price), money.Format(res.Notional), res.OrderID)
		fmt.Printf("balance %s, position %d\n", money.Format(res.CashBalance), res.PositionQty)
		return nil
	})
}
