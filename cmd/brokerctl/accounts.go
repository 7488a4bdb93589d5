package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/investr/trade-engine/internal/money"
)

var accountCommands = []subcommands.Command{
	&openAccountCmd{},
	&cashCmd{name: "deposit"},
	&cashCmd{name: "withdraw"},
	&positionsCmd{},
	&equityCmd{},
}

type openAccountCmd struct {
	user int64
}

func (*openAccountCmd) Name() string     { return "open-account" }
func (*openAccountCmd) Synopsis() string { return "open the brokerage account of a user" }
func (*openAccountCmd) Usage() string {
	return `open-account -user <id>

  Opens an account with a zero cash balance. A user holds at most one account.
`
}

func (c *openAccountCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.user, "user", 0, "User identifier (required)")
}

func (c *openAccountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		acct, err := a.svc.OpenAccount(ctx, c.user)
		if err != nil {
			return err
		}
		fmt.Printf("account %d opened for user %d\n", acct.ID, acct.UserID)
		return nil
	})
}

// cashCmd implements both deposit and withdraw.
type cashCmd struct {
	name    string
	account int64
	amount  string
}

func (c *cashCmd) Name() string     { return c.name }
func (c *cashCmd) Synopsis() string { return c.name + " cash" }
func (c *cashCmd) Usage() string {
	return c.name + ` -account <id> -amount <decimal>

  The amount must be positive with at most two decimal places.
`
}

func (c *cashCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account identifier (required)")
	f.StringVar(&c.amount, "amount", "", "Amount, e.g. 125.50 (required)")
}

func (c *cashCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account <= 0 || c.amount == "" {
		fmt.Fprintln(os.Stderr, "Error: -account and -amount are required.")
		return subcommands.ExitUsageError
	}
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing amount %q: %v\n", c.amount, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		move := a.svc.Deposit
		if c.name == "withdraw" {
			move = a.svc.Withdraw
		}
		res, err := move(ctx, c.account, amount)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s, balance %s\n", res.Type, money.Format(res.Amount), money.Format(res.CashBalance))
		return nil
	})
}

type positionsCmd struct {
	account int64
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "list the holdings of an account" }
func (*positionsCmd) Usage() string {
	return `positions -account <id>
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account identifier (required)")
}

func (c *positionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -account is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		holdings, err := a.svc.Positions(ctx, c.account)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "Ticker\tQuantity\tPrice\tValue\t")
		for _, h := range holdings {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", h.Ticker, h.Quantity, money.Format(h.Price), money.Format(h.MarketValue))
		}
		return w.Flush()
	})
}

type equityCmd struct {
	account int64
	json    bool
}

func (*equityCmd) Name() string     { return "equity" }
func (*equityCmd) Synopsis() string { return "show cash plus market value of an account" }
func (*equityCmd) Usage() string {
	return `equity -account <id> [-json]
`
}

func (c *equityCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.account, "account", 0, "Account identifier (required)")
	f.BoolVar(&c.json, "json", false, "Print the full equity report as JSON")
}

func (c *equityCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -account is required.")
		return subcommands.ExitUsageError
	}
	return run(ctx, func(a *app) error {
		eq, err := a.svc.Equity(ctx, c.account)
		if err != nil {
			return err
		}
		if c.json {
			return printJSON(eq)
		}
		fmt.Printf("cash %s, positions %s, total %s\n",
			money.Format(eq.Cash), money.Format(eq.MarketValue), money.Format(eq.Total))
		return nil
	})
}
