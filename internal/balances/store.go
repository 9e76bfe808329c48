// Package balances holds the in-memory state of every monitored wallet.
package balances

import (
	"sort"
	"sync"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/pkg/timeseries"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryCap    = 1_000_000
	defaultSummaryPoints = 100
)

// Policy history rules applied by the store.
type Policy struct {
	// HistoryCap maximum in-memory points per wallet.
	HistoryCap int
	// SummaryPoints maximum history points carried by a Summary.
	SummaryPoints int
	// RecordInitialPoint appends a point when WSOL is first established on an empty history.
	RecordInitialPoint bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		HistoryCap:         defaultHistoryCap,
		SummaryPoints:      defaultSummaryPoints,
		RecordInitialPoint: true,
	}
}

// Change outcome of a balance mutation.
type Change struct {
	Address string
	Name    string
	Before  domain.BalanceSnapshot
	After   domain.BalanceSnapshot
	// Appended is true when After was added to the in-memory history.
	Appended bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store canonical wallet state. One mutex guards every read and write.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
	policy   Policy
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(policy Policy, opts ...Option) *Store {
	if policy.HistoryCap <= 0 {
		policy.HistoryCap = defaultHistoryCap
	}
	if policy.SummaryPoints <= 0 {
		policy.SummaryPoints = defaultSummaryPoints
	}
	s := &Store{
		accounts: make(map[string]*account),
		policy:   policy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAccount starts tracking a wallet with zero balances.
func (s *Store) AddAccount(address, name string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[address]; ok {
		return domain.Summary{}, errors.Wrap(domain.ErrDuplicateID, address)
	}
	for _, acc := range s.accounts {
		if acc.name == name {
			return domain.Summary{}, errors.Wrap(domain.ErrDuplicateLabel, name)
		}
	}

	acc := &account{
		address:    address,
		name:       name,
		lastUpdate: s.now(),
	}
	s.accounts[address] = acc
	return s.summaryLocked(acc), nil
}

// RemoveAccount stops tracking a wallet and returns its name.
func (s *Store) RemoveAccount(address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return "", errors.Wrap(domain.ErrNotFound, address)
	}
	delete(s.accounts, address)
	return acc.name, nil
}

// UpsertPrimary sets the SOL balance in lamports.
func (s *Store) UpsertPrimary(address string, lamports uint64) (Change, error) {
	return s.mutate(address, func(acc *account) bool {
		acc.lamports = lamports
		return acc.wsolInitialized
	})
}

// UpsertSecondary sets the WSOL balance and marks it established.
func (s *Store) UpsertSecondary(address string, amount decimal.Decimal) (Change, error) {
	return s.mutate(address, func(acc *account) bool {
		acc.wsol = amount
		acc.wsolInitialized = true
		return true
	})
}

// InitializeSecondary establishes the WSOL balance for the first time.
// A point is recorded only if the history is still empty.
func (s *Store) InitializeSecondary(address string, amount decimal.Decimal) (Change, error) {
	return s.mutate(address, func(acc *account) bool {
		acc.wsol = amount
		acc.wsolInitialized = true
		return s.policy.RecordInitialPoint && len(acc.history) == 0
	})
}

func (s *Store) mutate(address string, apply func(acc *account) bool) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return Change{}, errors.Wrap(domain.ErrNotFound, address)
	}

	change := Change{Address: acc.address, Name: acc.name, Before: acc.current()}
	record := apply(acc)
	acc.lastUpdate = s.now()
	if record {
		acc.appendCurrent(s.policy.HistoryCap)
	}
	change.After = acc.current()
	change.Appended = record
	return change, nil
}

// SeedHistory replaces a wallet's history with persisted records. Balances are left as is.
func (s *Store) SeedHistory(address string, records []domain.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return errors.Wrap(domain.ErrNotFound, address)
	}

	history := lo.Map(records, func(r domain.HistoryRecord, _ int) domain.BalanceSnapshot {
		return r.Snapshot()
	})
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	if len(history) > s.policy.HistoryCap {
		history = history[len(history)-s.policy.HistoryCap:]
	}
	acc.history = history
	return nil
}

// Has reports whether the wallet is tracked.
func (s *Store) Has(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.accounts[address]
	return ok
}

// Addresses returns every tracked wallet address, sorted.
func (s *Store) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.Keys(s.accounts)
	sort.Strings(out)
	return out
}

// Name returns the name of a tracked wallet.
func (s *Store) Name(address string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return "", false
	}
	return acc.name, true
}

// Current returns the live balances of a wallet without its history.
func (s *Store) Current(address string) (domain.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return domain.BalanceSnapshot{}, errors.Wrap(domain.ErrNotFound, address)
	}
	return acc.current(), nil
}

// Wallets returns every tracked wallet ordered by name.
func (s *Store) Wallets() []domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.MapToSlice(s.accounts, func(_ string, acc *account) domain.Wallet {
		return domain.Wallet{Address: acc.address, Name: acc.name}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns one wallet summary with sampled history.
func (s *Store) Snapshot(address string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return domain.Summary{}, errors.Wrap(domain.ErrNotFound, address)
	}
	return s.summaryLocked(acc), nil
}

// ListSnapshots returns every wallet summary ordered by name.
func (s *Store) ListSnapshots() []domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Summary, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, s.summaryLocked(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns a copy of the full in-memory history of a wallet.
func (s *Store) History(address string) ([]domain.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, address)
	}
	out := make([]domain.BalanceSnapshot, len(acc.history))
	copy(out, acc.history)
	return out, nil
}

// Capture returns a consistent point-in-time view of every wallet for live streaming.
func (s *Store) Capture() []domain.LiveEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LiveEntry, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, domain.LiveEntry{
			Summary: s.baseSummaryLocked(acc),
			Latest:  acc.latest(),
		})
	}
	return out
}

func (s *Store) baseSummaryLocked(acc *account) domain.Summary {
	cur := acc.current()
	return domain.Summary{
		Address:         acc.address,
		Name:            acc.name,
		SOL:             cur.SOL,
		WSOL:            cur.WSOL,
		Total:           cur.Total,
		WSOLInitialized: acc.wsolInitialized,
		LastUpdate:      acc.lastUpdate,
	}
}

func (s *Store) summaryLocked(acc *account) domain.Summary {
	summary := s.baseSummaryLocked(acc)
	summary.History = sampleHistory(acc.history, s.policy.SummaryPoints)
	return summary
}

func sampleHistory(history []domain.BalanceSnapshot, limit int) []domain.BalanceSnapshot {
	points := lo.Map(history, func(h domain.BalanceSnapshot, _ int) timeseries.Point[domain.BalanceSnapshot] {
		return timeseries.Point[domain.BalanceSnapshot]{Time: h.Timestamp.Unix(), Value: h}
	})
	sampled := timeseries.Resample(points, limit)
	return lo.Map(sampled, func(p timeseries.Point[domain.BalanceSnapshot], _ int) domain.BalanceSnapshot {
		return p.Value
	})
}
