// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidgate/vidgate/internal/stats"
)

// RedisStore is the shared persistence backend for multi-instance
// deployments. Result keys expire server-side via redis TTL.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) LoadResult(ctx context.Context, key string) (Record, bool, error) {
	val, err := s.client.Get(ctx, resultPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, false, err
	}
	if rec.Version != SchemaVersion {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) SaveResult(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Version = SchemaVersion
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, resultPrefix+key, buf, ttl).Err()
}

func (s *RedisStore) LoadCounters(ctx context.Context) (stats.Snapshot, bool, error) {
	val, err := s.client.Get(ctx, countersKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return stats.Snapshot{}, false, nil
	}
	if err != nil {
		return stats.Snapshot{}, false, err
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return stats.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *RedisStore) SaveCounters(ctx context.Context, snap stats.Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, countersKey, buf, 0).Err()
}

// Purge flushes the dedicated database. vidgate owns its redis DB number, so
// a flush is equivalent to dropping both logical tables.
func (s *RedisStore) Purge(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
