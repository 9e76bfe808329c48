// Package history persists wallet balance points across restarts.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
)

const (
	BackendWAL      = "wal"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Log append-only store of balance points shared by all wallets.
type Log interface {
	Append(ctx context.Context, record domain.HistoryRecord) error
	// LoadForAccount returns one wallet's records ordered by timestamp.
	LoadForAccount(ctx context.Context, address string) ([]domain.HistoryRecord, error)
	// LoadAll returns every wallet's records, each ordered by timestamp.
	LoadAll(ctx context.Context) (map[string][]domain.HistoryRecord, error)
	// DeleteForAccount purges one wallet. Deleting a wallet without records is not an error.
	DeleteForAccount(ctx context.Context, address string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string
	PostgresURL string
	RedisURL    string
	// MaxSegments caps WAL segments, oldest dropped first. 0 keeps the whole log.
	MaxSegments int
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options) (Log, error) {
	switch opts.Backend {
	case "", BackendWAL:
		return NewWALStore(opts.Dir, WithMaxSegments(opts.MaxSegments))
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.PostgresURL)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL)
	default:
		return nil, errors.Errorf("unknown history backend %q", opts.Backend)
	}
}

// RecordKey composite key of a record: address, underscore, unix milliseconds.
func RecordKey(address string, ts time.Time) string {
	return fmt.Sprintf("%s%d", KeyPrefix(address), ts.UnixMilli())
}

// KeyPrefix prefix shared by every record key of one wallet.
func KeyPrefix(address string) string {
	return address + "_"
}

// AddressFromKey extracts the wallet address from a record key.
func AddressFromKey(key string) (string, bool) {
	idx := strings.LastIndexByte(key, '_')
	if idx <= 0 {
		return "", false
	}
	return key[:idx], true
}

func sortRecords(records []domain.HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

func sortAll(all map[string][]domain.HistoryRecord) {
	for _, records := range all {
		sortRecords(records)
	}
}
