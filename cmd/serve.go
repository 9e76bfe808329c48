package main

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mioxtw/sol-wallet-monitor/config"
	"github.com/mioxtw/sol-wallet-monitor/internal/balances"
	"github.com/mioxtw/sol-wallet-monitor/internal/chart"
	"github.com/mioxtw/sol-wallet-monitor/internal/clients"
	"github.com/mioxtw/sol-wallet-monitor/internal/events"
	"github.com/mioxtw/sol-wallet-monitor/internal/ingest"
	"github.com/mioxtw/sol-wallet-monitor/internal/logging"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/mioxtw/sol-wallet-monitor/internal/monitor"
	"github.com/mioxtw/sol-wallet-monitor/internal/storage/history"
	"github.com/mioxtw/sol-wallet-monitor/internal/web"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const reconcileTimeout = 2 * time.Minute

func serve(c *cli.Context) error {
	ctx := c.Context
	path := c.String("config")

	cfg, err := config.Load(path)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer logger.Sync()

	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	log, err := history.Open(ctx, history.Options{
		Backend:     cfg.History.Backend,
		Dir:         cfg.History.Dir,
		PostgresURL: cfg.History.PostgresURL,
		RedisURL:    cfg.History.RedisURL,
		MaxSegments: cfg.History.MaxSegments,
	})
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer func() {
		if err := log.Close(); err != nil {
			logger.Warn("close history", zap.Error(err))
		}
	}()

	store := balances.NewStore(balances.Policy{
		HistoryCap:         cfg.History.Cap,
		SummaryPoints:      cfg.Policy.SummaryPoints,
		RecordInitialPoint: cfg.Policy.RecordInitialPoint,
	})

	client := clients.NewSolanaClient(cfg.RPC.Endpoint, cfg.RPC.Timeout, cfg.RPC.Retries, m)
	defer client.Close()

	applier := ingest.NewApplier(store, log, cfg.Policy.PersistEpsilon, logger.Named("applier"), m)
	loop := ingest.NewLoop(newTransport(cfg.Stream, logger, m), store, applier, cfg.Stream.Source,
		cfg.Stream.ReconnectDelay, logger.Named("ingest"), m)

	svc := monitor.NewService(monitor.Params{
		Store:   store,
		History: log,
		Source:  client,
		Wallets: config.NewYAMLWalletStore(path),
		Applier: applier,
		Stream:  loop,
		Workers: cfg.Reconcile.Workers,
		Logger:  logger.Named("monitor"),
		Metrics: m,
	})
	defer svc.Close()

	if err := svc.Bootstrap(ctx, cfg.Wallets); err != nil {
		return errors.Wrap(err, "bootstrap wallets")
	}
	logger.Info("wallets loaded", zap.Int("count", len(cfg.Wallets)))

	server := web.NewServer(web.Params{
		Addr:       cfg.Server.Addr(),
		AdminToken: cfg.Server.AdminToken,
		Wallets:    svc,
		Reader:     store,
		Charts:     chart.NewEngine(store, cfg.Policy.ChartPoints),
		Feed:       events.NewBroadcaster(store, cfg.Policy.BroadcastInterval, cfg.Policy.BroadcastEpsilon),
		Ingest:     loop,
		Metrics:    m,
		Logger:     logger.Named("web"),
	})
	if cfg.Server.AdminToken == "" {
		logger.Warn("admin token not set, wallet management endpoints are unprotected")
	}

	var jobs []cronJob
	if cfg.Reconcile.Enabled {
		jobs = append(jobs, cronJob{name: "reconcile", spec: cfg.Reconcile.Schedule, timeout: reconcileTimeout, run: svc.Reconcile})
	}

	err = runServices(ctx, logger, jobs,
		func(ctx context.Context) error {
			return ignoreCanceled(loop.Run(ctx))
		},
		func(ctx context.Context) error {
			if len(cfg.Server.TLSDomains) > 0 {
				return server.StartWithAutoTLS(ctx, cfg.Server.TLSDomains, cfg.Server.CertCache)
			}
			return server.Start(ctx)
		},
	)
	logger.Info("shutting down")
	return err
}

type cronJob struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

// runServices registers jobs, then runs every service and the job scheduler until one fails
// or ctx is done. A job that cannot be scheduled starts nothing.
func runServices(ctx context.Context, logger *zap.Logger, jobs []cronJob, services ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	if len(jobs) > 0 {
		scheduler := monitor.NewScheduler(logger.Named("scheduler"))
		for _, job := range jobs {
			if err := scheduler.Add(gctx, job.name, job.spec, job.timeout, job.run); err != nil {
				return errors.Wrapf(err, "schedule %s", job.name)
			}
		}
		services = append(services, func(ctx context.Context) error {
			scheduler.Run(ctx)
			return nil
		})
	}

	for _, run := range services {
		g.Go(func() error {
			return run(gctx)
		})
	}
	return g.Wait()
}

func newTransport(cfg config.StreamConfig, logger *zap.Logger, m *metrics.Collector) ingest.Transport {
	commitment := rpc.CommitmentType(cfg.Commitment)
	if cfg.Source == config.SourceTransaction {
		return ingest.NewTxTransport(cfg.Endpoint, cfg.PollInterval, commitment, logger.Named("tx"), m)
	}
	return ingest.NewWSTransport(cfg.Endpoint, commitment)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
