package history

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mioxtw/sol-wallet-monitor/internal/database"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps balance history in a single keyed table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and applies pending migrations.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres url is required for the postgres history backend")
	}
	pool, err := database.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "open migrations")
	}
	if err := database.RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Append upserts one record by its composite key.
func (s *PostgresStore) Append(ctx context.Context, record domain.HistoryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal history record")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_history (key, address, recorded_at, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, recorded_at = EXCLUDED.recorded_at`,
		RecordKey(record.Address, record.Timestamp), record.Address, record.Timestamp, payload,
	)
	return errors.Wrap(err, "insert history record")
}

// LoadForAccount prefix-scans the wallet's keys.
func (s *PostgresStore) LoadForAccount(ctx context.Context, address string) ([]domain.HistoryRecord, error) {
	all, err := s.query(ctx, `SELECT key, payload FROM wallet_history WHERE starts_with(key, $1)`, KeyPrefix(address))
	if err != nil {
		return nil, err
	}
	return all[address], nil
}

// LoadAll reads the whole table.
func (s *PostgresStore) LoadAll(ctx context.Context) (map[string][]domain.HistoryRecord, error) {
	return s.query(ctx, `SELECT key, payload FROM wallet_history`)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) (map[string][]domain.HistoryRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	out := make(map[string][]domain.HistoryRecord)
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, errors.Wrap(err, "scan history row")
		}
		address, ok := AddressFromKey(key)
		if !ok {
			continue
		}
		var record domain.HistoryRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.Wrapf(err, "decode history record %s", key)
		}
		out[address] = append(out[address], record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate history rows")
	}
	sortAll(out)
	return out, nil
}

// DeleteForAccount removes every key with the wallet prefix.
func (s *PostgresStore) DeleteForAccount(ctx context.Context, address string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM wallet_history WHERE starts_with(key, $1)`, KeyPrefix(address))
	return errors.Wrap(err, "delete history")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
