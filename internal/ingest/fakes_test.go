package ingest

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mioxtw/sol-wallet-monitor/internal/decoder"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
)

const (
	alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	bob   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func pubkeyBytes(address string) []byte {
	pk := solana.MustPublicKeyFromBase58(address)
	return pk[:]
}

func wsolAccount(address string) string {
	ata, err := decoder.DeriveWSOLAddress(address)
	if err != nil {
		panic(err)
	}
	return ata
}

func wsolAccountData(owner string, amount uint64) []byte {
	buf := make([]byte, decoder.TokenAccountSize)
	copy(buf[0:32], decoder.WSOLMint[:])
	copy(buf[32:64], pubkeyBytes(owner))
	binary.LittleEndian.PutUint64(buf[64:72], amount)
	buf[108] = 1
	return buf
}

type fakeLog struct {
	mu      sync.Mutex
	records []domain.HistoryRecord
	err     error
}

func (l *fakeLog) Append(_ context.Context, r domain.HistoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, r)
	return nil
}

func (l *fakeLog) LoadForAccount(_ context.Context, address string) ([]domain.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.HistoryRecord
	for _, r := range l.records {
		if r.Address == address {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *fakeLog) LoadAll(_ context.Context) (map[string][]domain.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]domain.HistoryRecord)
	for _, r := range l.records {
		out[r.Address] = append(out[r.Address], r)
	}
	return out, nil
}

func (l *fakeLog) DeleteForAccount(_ context.Context, address string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	for _, r := range l.records {
		if r.Address != address {
			kept = append(kept, r)
		}
	}
	l.records = kept
	return nil
}

func (l *fakeLog) Close() error { return nil }

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type fakeStream struct {
	events    chan Event
	err       error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) Events() <-chan Event { return s.events }
func (s *fakeStream) Err() error           { return s.err }
func (s *fakeStream) Close()               { s.closeOnce.Do(func() { close(s.closed) }) }

type fakeTransport struct {
	mu       sync.Mutex
	connects int
	closes   int
	filters  []FilterSpec
	streams  chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 8)}
}

func (t *fakeTransport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return nil
}

func (t *fakeTransport) Subscribe(_ context.Context, f FilterSpec) (Stream, error) {
	s := &fakeStream{events: make(chan Event, 16), closed: make(chan struct{})}
	t.mu.Lock()
	t.filters = append(t.filters, f)
	t.mu.Unlock()
	t.streams <- s
	return s, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) stats() (connects, subscribes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects, len(t.filters)
}

func (t *fakeTransport) lastFilter() FilterSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filters[len(t.filters)-1]
}
