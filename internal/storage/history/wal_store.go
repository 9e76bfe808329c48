package history

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultHistoryDir   = "./wal/history"
	historySegmentLimit = 1000
	// purge markers cannot collide with record keys: base58 has no '/'.
	purgeKeyPrefix = "purge/"
)

// WALStore keeps balance history in a segmented write-ahead log.
// Deletion appends a purge marker; replay drops every earlier record of that wallet.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// WALOption tunes a WALStore.
type WALOption func(*gowal.Config)

// WithMaxSegments drops the oldest segment once n segments exist. n <= 0 keeps every segment.
func WithMaxSegments(n int) WALOption {
	return func(c *gowal.Config) {
		c.MaxSegments = max(n, 0)
	}
}

// WithSegmentThreshold sets how many records a segment holds before rotation.
func WithSegmentThreshold(n int) WALOption {
	return func(c *gowal.Config) {
		if n > 0 {
			c.SegmentThreshold = n
		}
	}
}

// NewWALStore opens or creates the log under dir. The log is unbounded unless
// WithMaxSegments is given.
func NewWALStore(dir string, opts ...WALOption) (*WALStore, error) {
	if dir == "" {
		dir = defaultHistoryDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "history_",
		SegmentThreshold: historySegmentLimit,
		IsInSyncDiskMode: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init history WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes one record.
func (s *WALStore) Append(_ context.Context, record domain.HistoryRecord) error {
	if s == nil || s.wal == nil {
		return errors.New("history store is not initialized")
	}
	if record.Address == "" {
		return errors.New("history record address is required")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal history record")
	}

	return s.write(RecordKey(record.Address, record.Timestamp), payload)
}

// DeleteForAccount appends a purge marker for the wallet.
func (s *WALStore) DeleteForAccount(_ context.Context, address string) error {
	if s == nil || s.wal == nil {
		return errors.New("history store is not initialized")
	}
	return s.write(purgeKeyPrefix+address, []byte(address))
}

func (s *WALStore) write(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return errors.Wrapf(s.wal.Write(nextIndex, key, payload), "write %s", key)
}

// LoadForAccount replays the log for one wallet.
func (s *WALStore) LoadForAccount(ctx context.Context, address string) ([]domain.HistoryRecord, error) {
	all, err := s.replay(func(addr string) bool { return addr == address })
	if err != nil {
		return nil, err
	}
	return all[address], nil
}

// LoadAll replays the whole log.
func (s *WALStore) LoadAll(ctx context.Context) (map[string][]domain.HistoryRecord, error) {
	return s.replay(func(string) bool { return true })
}

func (s *WALStore) replay(match func(address string) bool) (map[string][]domain.HistoryRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("history store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// later writes of the same key replace earlier ones
	byKey := make(map[string]map[string]domain.HistoryRecord)
	for msg := range s.wal.Iterator() {
		if address, ok := strings.CutPrefix(msg.Key, purgeKeyPrefix); ok {
			delete(byKey, address)
			continue
		}
		address, ok := AddressFromKey(msg.Key)
		if !ok || !match(address) {
			continue
		}
		var record domain.HistoryRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrapf(err, "decode history record %s", msg.Key)
		}
		if byKey[address] == nil {
			byKey[address] = make(map[string]domain.HistoryRecord)
		}
		byKey[address][msg.Key] = record
	}

	out := make(map[string][]domain.HistoryRecord, len(byKey))
	for address, records := range byKey {
		out[address] = lo.Values(records)
	}
	sortAll(out)
	return out, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("history store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
