package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisHashKey   = "wallet_history"
	redisScanCount = 500
)

// RedisStore keeps balance history as fields of one redis hash.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis url is required for the redis history backend")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &RedisStore{client: client}, nil
}

// Append sets one hash field.
func (s *RedisStore) Append(ctx context.Context, record domain.HistoryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal history record")
	}
	key := RecordKey(record.Address, record.Timestamp)
	return errors.Wrap(s.client.HSet(ctx, redisHashKey, key, payload).Err(), "hset history record")
}

// LoadForAccount scans the fields matching the wallet prefix.
func (s *RedisStore) LoadForAccount(ctx context.Context, address string) ([]domain.HistoryRecord, error) {
	all, err := s.scan(ctx, KeyPrefix(address)+"*")
	if err != nil {
		return nil, err
	}
	return all[address], nil
}

// LoadAll scans every field.
func (s *RedisStore) LoadAll(ctx context.Context) (map[string][]domain.HistoryRecord, error) {
	return s.scan(ctx, "")
}

// DeleteForAccount removes the wallet's fields.
func (s *RedisStore) DeleteForAccount(ctx context.Context, address string) error {
	var cursor uint64
	for {
		kv, next, err := s.client.HScan(ctx, redisHashKey, cursor, KeyPrefix(address)+"*", redisScanCount).Result()
		if err != nil {
			return errors.Wrap(err, "hscan history")
		}
		fields := make([]string, 0, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			fields = append(fields, kv[i])
		}
		if len(fields) > 0 {
			if err := s.client.HDel(ctx, redisHashKey, fields...).Err(); err != nil {
				return errors.Wrap(err, "hdel history")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *RedisStore) scan(ctx context.Context, match string) (map[string][]domain.HistoryRecord, error) {
	out := make(map[string][]domain.HistoryRecord)
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		kv, next, err := s.client.HScan(ctx, redisHashKey, cursor, match, redisScanCount).Result()
		if err != nil {
			return nil, errors.Wrap(err, "hscan history")
		}
		for i := 0; i+1 < len(kv); i += 2 {
			key, payload := kv[i], kv[i+1]
			// HSCAN may return a field more than once
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			address, ok := AddressFromKey(key)
			if !ok {
				continue
			}
			var record domain.HistoryRecord
			if err := json.Unmarshal([]byte(payload), &record); err != nil {
				return nil, errors.Wrapf(err, "decode history record %s", key)
			}
			out[address] = append(out[address], record)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sortAll(out)
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
