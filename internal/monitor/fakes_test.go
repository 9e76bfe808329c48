package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	bob   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

var errRPCDown = errors.New("rpc down")

type fakeSource struct {
	mu       sync.Mutex
	balances map[string]domain.Balances
	failing  map[string]bool
	calls    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{balances: make(map[string]domain.Balances), failing: make(map[string]bool)}
}

func (f *fakeSource) set(address string, lamports uint64, wsol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = domain.Balances{Lamports: lamports, WSOL: decimal.RequireFromString(wsol)}
}

func (f *fakeSource) fail(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[address] = true
}

func (f *fakeSource) FetchBalances(_ context.Context, address string) (domain.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[address] {
		return domain.Balances{}, errRPCDown
	}
	return f.balances[address], nil
}

type fakeLog struct {
	mu      sync.Mutex
	seed    map[string][]domain.HistoryRecord
	records []domain.HistoryRecord
	deleted []string
}

func (l *fakeLog) Append(_ context.Context, r domain.HistoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

func (l *fakeLog) LoadForAccount(_ context.Context, address string) ([]domain.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seed[address], nil
}

func (l *fakeLog) LoadAll(context.Context) (map[string][]domain.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seed, nil
}

func (l *fakeLog) DeleteForAccount(_ context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, address)
	return nil
}

func (l *fakeLog) Close() error { return nil }

func (l *fakeLog) appended() []domain.HistoryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.HistoryRecord(nil), l.records...)
}

type fakeWalletStore struct {
	mu      sync.Mutex
	saved   [][]domain.Wallet
	removed []string
}

func (s *fakeWalletStore) Save(wallets []domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, wallets)
	return nil
}

func (s *fakeWalletStore) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, address)
	return nil
}

type fakeStream struct {
	resubscribes atomic.Int32
}

func (f *fakeStream) Resubscribe() { f.resubscribes.Add(1) }
