// Command solmon tracks the SOL and WSOL balances of a set of Solana wallets and
// serves them over HTTP, websocket and server-sent events.
//
// Usage:
//
//	solmon --config config.yaml serve
//	solmon --config config.yaml setup
//	solmon --config config.yaml export --out balances.xlsx
//
// The admin token may also be supplied with SOLMON_ADMIN_TOKEN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mioxtw/sol-wallet-monitor/internal/setup"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "solmon",
		Usage: "monitor SOL and WSOL balances of Solana wallets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the yaml config, rewritten when wallets are added or removed",
				EnvVars: []string{"SOLMON_CONFIG"},
			},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the monitor and its web server",
				Action: serve,
			},
			{
				Name:  "setup",
				Usage: "interactively create a config file",
				Action: func(c *cli.Context) error {
					return setup.RunTUI(c.String("config"))
				},
			},
			{
				Name:  "export",
				Usage: "write the stored balance history to an xlsx workbook",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Value:   "balances.xlsx",
						Usage:   "output file",
					},
				},
				Action: runExport,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
