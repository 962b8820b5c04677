// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vidgate/vidgate/internal/stats"
)

const (
	resultPrefix = "res:"
	countersKey  = "stats:counters"
)

// BadgerStore is the embedded persistence backend. Layout:
//   - results:  key = "res:<source key>" (JSON Record) with badger TTL
//   - counters: key = "stats:counters" (JSON stats.Snapshot)
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) LoadResult(_ context.Context, key string) (Record, bool, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if rec.Version != SchemaVersion {
		// Stale layout; treat as absent rather than guessing.
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *BadgerStore) SaveResult(_ context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Version = SchemaVersion
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(resultPrefix+key), buf).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) LoadCounters(_ context.Context) (stats.Snapshot, bool, error) {
	var snap stats.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(countersKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return stats.Snapshot{}, false, nil
	}
	if err != nil {
		return stats.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *BadgerStore) SaveCounters(_ context.Context, snap stats.Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(countersKey), buf)
	})
}

func (s *BadgerStore) Purge(_ context.Context) error {
	if err := s.db.DropPrefix([]byte(resultPrefix)); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(countersKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *BadgerStore) Close() error { return s.db.Close() }
