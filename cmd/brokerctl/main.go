// Command brokerctl operates the trade engine's ledger directly against the
// configured store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"
)

var verbose = flag.Bool("v", false, "log informational messages to stderr")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range accountCommands {
		commander.Register(c, "accounts")
	}
	commander.Register(&tradeCmd{}, "trading")
	for _, c := range adminCommands {
		commander.Register(c, "administration")
	}

	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	os.Exit(int(commander.Execute(context.Background())))
}
