package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/investr/trade-engine/internal/config"
	"github.com/investr/trade-engine/internal/idalloc"
	"github.com/investr/trade-engine/internal/market"
	"github.com/investr/trade-engine/internal/store"
	"github.com/investr/trade-engine/internal/trade"
)

// app is the wiring shared by every command.
type app struct {
	cfg   config.Config
	store store.Store
	ids   *idalloc.Allocator
	clock *market.Clock
	svc   *trade.Service
	close func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	loc, _ := cfg.Location()
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		cfg.SQLitePath = "broker.db"
	}

	st, closeStore, err := store.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	ids := idalloc.New()
	clock := market.NewClock(st, loc)
	return &app{
		cfg:   cfg,
		store: st,
		ids:   ids,
		clock: clock,
		svc:   trade.NewService(st, ids, market.NewStorePrices(st), clock, nil),
		close: closeStore,
	}, nil
}

// run opens the app, calls fn and maps its error to an exit status.
func run(ctx context.Context, fn func(a *app) error) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.close()

	if err := fn(a); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
