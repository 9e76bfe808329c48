package main

import (
	"fmt"

	"github.com/mioxtw/sol-wallet-monitor/config"
	"github.com/mioxtw/sol-wallet-monitor/internal/export"
	"github.com/mioxtw/sol-wallet-monitor/internal/storage/history"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func runExport(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	log, err := history.Open(c.Context, history.Options{
		Backend:     cfg.History.Backend,
		Dir:         cfg.History.Dir,
		PostgresURL: cfg.History.PostgresURL,
		RedisURL:    cfg.History.RedisURL,
		MaxSegments: cfg.History.MaxSegments,
	})
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer log.Close()

	out := c.String("out")
	if err := export.NewExporter(log).Save(c.Context, cfg.Wallets, out); err != nil {
		return err
	}
	fmt.Printf("exported %d wallets to %s\n", len(cfg.Wallets), out)
	return nil
}
