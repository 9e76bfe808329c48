// Package monitor owns the wallet lifecycle: startup, add, remove and periodic reconcile.
package monitor

import (
	"context"

	"github.com/alitto/pond/v2"
	"github.com/mioxtw/sol-wallet-monitor/config"
	"github.com/mioxtw/sol-wallet-monitor/internal/balances"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/internal/ingest"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/mioxtw/sol-wallet-monitor/internal/storage/history"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultWorkers = 4

// BalanceSource reads balances straight from the chain.
type BalanceSource interface {
	FetchBalances(ctx context.Context, address string) (domain.Balances, error)
}

// Resubscriber is told when the tracked wallet set changes.
type Resubscriber interface {
	Resubscribe()
}

// Params dependencies of a Service.
type Params struct {
	Store   *balances.Store
	History history.Log
	Source  BalanceSource
	Wallets config.WalletStore
	Applier *ingest.Applier
	Stream  Resubscriber
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Service coordinates the store, the history log, the config file and the stream.
type Service struct {
	store   *balances.Store
	history history.Log
	source  BalanceSource
	wallets config.WalletStore
	applier *ingest.Applier
	stream  Resubscriber
	pool    pond.Pool
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewService creates a Service with a worker pool for parallel balance fetches.
func NewService(p Params) *Service {
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Service{
		store:   p.Store,
		history: p.History,
		source:  p.Source,
		wallets: p.Wallets,
		applier: p.Applier,
		stream:  p.Stream,
		pool:    pond.NewPool(p.Workers),
		logger:  p.Logger,
		metrics: p.Metrics,
	}
}

// Bootstrap tracks the configured wallets, seeds their persisted history and
// establishes live balances from RPC.
func (s *Service) Bootstrap(ctx context.Context, wallets []domain.Wallet) error {
	records, err := s.history.LoadAll(ctx)
	if err != nil {
		s.metrics.HistoryFailure("load")
		return errors.Wrap(err, "load history")
	}

	added := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if _, err := s.store.AddAccount(w.Address, w.Name); err != nil {
			return errors.Wrapf(err, "track wallet %s", w.Name)
		}
		if err := s.store.SeedHistory(w.Address, records[w.Address]); err != nil {
			return errors.Wrapf(err, "seed history of %s", w.Name)
		}
		s.logger.Info("wallet loaded",
			zap.String("wallet", w.Name),
			zap.String("address", w.Address),
			zap.Int("history", len(records[w.Address])))
		added = append(added, w.Address)
	}

	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, address := range added {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			s.initialize(groupCtx, address)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return errors.Wrap(err, "initialize balances")
	}
	s.logger.Info("wallets initialized", zap.Int("count", len(added)))
	return ctx.Err()
}

// AddWallet validates and starts tracking a wallet.
func (s *Service) AddWallet(ctx context.Context, name, address string) (domain.Summary, error) {
	w, err := domain.NewWallet(name, address)
	if err != nil {
		return domain.Summary{}, err
	}
	if _, err := s.store.AddAccount(w.Address, w.Name); err != nil {
		return domain.Summary{}, err
	}

	s.initialize(ctx, w.Address)
	s.saveWallets()
	s.stream.Resubscribe()
	s.logger.Info("wallet added", zap.String("wallet", w.Name), zap.String("address", w.Address))

	return s.store.Snapshot(w.Address)
}

// RemoveWallet stops tracking a wallet and purges its history.
func (s *Service) RemoveWallet(ctx context.Context, address string) (string, error) {
	name, err := s.store.RemoveAccount(address)
	if err != nil {
		return "", err
	}

	if err := s.history.DeleteForAccount(ctx, address); err != nil {
		s.metrics.HistoryFailure("delete")
		s.logger.Error("failed to delete wallet history", zap.String("address", address), zap.Error(err))
	}
	if err := s.wallets.Remove(address); err != nil {
		s.logger.Error("failed to remove wallet from config", zap.String("address", address), zap.Error(err))
	}
	s.metrics.ForgetWallet(address)
	s.stream.Resubscribe()
	s.logger.Info("wallet removed", zap.String("wallet", name), zap.String("address", address))
	return name, nil
}

// Reconcile re-reads every balance and feeds differences through the same
// epsilon gate as the stream.
func (s *Service) Reconcile(ctx context.Context) error {
	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, address := range s.store.Addresses() {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			s.reconcile(groupCtx, address)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return ctx.Err()
}

// Close waits for running fetches.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

func (s *Service) initialize(ctx context.Context, address string) {
	wsol := decimal.Zero
	bal, err := s.source.FetchBalances(ctx, address)
	if err != nil {
		s.logger.Error("failed to fetch balances, wsol set to zero", zap.String("address", address), zap.Error(err))
	} else {
		if _, err := s.store.UpsertPrimary(address, bal.Lamports); err != nil {
			return
		}
		if bal.WSOLErr != nil {
			s.logger.Debug("wsol account unreadable, using zero", zap.String("address", address), zap.Error(bal.WSOLErr))
		}
		wsol = bal.WSOL
	}

	change, err := s.store.InitializeSecondary(address, wsol)
	if err != nil {
		return
	}
	s.metrics.ObserveBalance(change.Address, change.Name, change.After.SOL, change.After.WSOL, change.After.Total)
	s.logger.Info("balance initialized",
		zap.String("wallet", change.Name),
		zap.String("sol", change.After.SOL.String()),
		zap.String("wsol", change.After.WSOL.String()),
		zap.String("total", change.After.Total.String()))
	s.applier.Persist(ctx, address, change.After)
}

func (s *Service) reconcile(ctx context.Context, address string) {
	bal, err := s.source.FetchBalances(ctx, address)
	if err != nil {
		s.logger.Warn("reconcile fetch failed", zap.String("address", address), zap.Error(err))
		return
	}
	current, err := s.store.Current(address)
	if err != nil {
		return
	}

	if !domain.LamportsToSOL(bal.Lamports).Equal(current.SOL) {
		s.apply(ctx, ingest.Update{Kind: ingest.UpdateSOL, Address: address, Lamports: bal.Lamports})
	}
	if bal.WSOLErr == nil && !bal.WSOL.Equal(current.WSOL) {
		s.apply(ctx, ingest.Update{Kind: ingest.UpdateWSOL, Address: address, WSOL: bal.WSOL})
	}
}

func (s *Service) apply(ctx context.Context, u ingest.Update) {
	if err := s.applier.Apply(ctx, u, ingest.SourceReconcile); err != nil {
		s.logger.Error("apply reconciled balance", zap.String("address", u.Address), zap.Error(err))
	}
}

func (s *Service) saveWallets() {
	if err := s.wallets.Save(s.store.Wallets()); err != nil {
		s.logger.Error("failed to save wallets to config", zap.Error(err))
	}
}
