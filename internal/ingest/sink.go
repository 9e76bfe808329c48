package ingest

import (
	"context"

	"github.com/mioxtw/sol-wallet-monitor/internal/balances"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/mioxtw/sol-wallet-monitor/internal/storage/history"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultPersistEpsilon smallest change in SOL that is written to the history log.
var DefaultPersistEpsilon = decimal.New(1, -6)

// Applier applies updates to the store and persists meaningful changes.
// Both the stream and the reconcile job feed it.
type Applier struct {
	store   *balances.Store
	history history.Log
	epsilon decimal.Decimal
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewApplier creates an Applier.
func NewApplier(store *balances.Store, log history.Log, epsilon decimal.Decimal, logger *zap.Logger, m *metrics.Collector) *Applier {
	if epsilon.IsNegative() {
		epsilon = DefaultPersistEpsilon
	}
	return &Applier{
		store:   store,
		history: log,
		epsilon: epsilon,
		logger:  logger,
		metrics: m,
	}
}

// Apply writes one update. A wallet removed meanwhile is ignored.
func (a *Applier) Apply(ctx context.Context, u Update, source string) error {
	var (
		change balances.Change
		err    error
	)
	switch u.Kind {
	case UpdateSOL:
		change, err = a.store.UpsertPrimary(u.Address, u.Lamports)
	case UpdateWSOL:
		change, err = a.store.UpsertSecondary(u.Address, u.WSOL)
	default:
		return errors.Errorf("unknown update kind %d", u.Kind)
	}
	if errors.Is(err, domain.ErrNotFound) {
		a.metrics.Event(source, "ignored")
		return nil
	}
	if err != nil {
		return err
	}

	a.metrics.Event(source, "applied")
	a.metrics.ObserveBalance(change.Address, change.Name, change.After.SOL, change.After.WSOL, change.After.Total)

	before, after := change.Before.SOL, change.After.SOL
	if u.Kind == UpdateWSOL {
		before, after = change.Before.WSOL, change.After.WSOL
	}
	if after.Sub(before).Abs().LessThanOrEqual(a.epsilon) {
		return nil
	}

	a.logger.Info("balance changed",
		zap.String("wallet", change.Name),
		zap.String("address", change.Address),
		zap.Stringer("kind", u.Kind),
		zap.String("from", before.String()),
		zap.String("to", after.String()),
		zap.String("total", change.After.Total.String()),
		zap.String("source", source),
	)
	a.Persist(ctx, change.Address, change.After)
	return nil
}

// Persist appends a point to the history log. Failures are logged only.
func (a *Applier) Persist(ctx context.Context, address string, snapshot domain.BalanceSnapshot) {
	if a.history == nil {
		return
	}
	if err := a.history.Append(ctx, domain.NewHistoryRecord(address, snapshot)); err != nil {
		a.metrics.HistoryFailure("append")
		a.logger.Error("failed to persist balance", zap.String("address", address), zap.Error(err))
	}
}
