// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/jllopis/hubnet/pkg/identity"
)

const (
	badgerPrefixRecord = "rec/"
	badgerPrefixIndex  = "idx/"
	badgerSeqKey       = "seq/records"
)

// BadgerStore persists records in BadgerDB. Records live under rec/<seq>
// with big-endian sequence numbers, so prefix iteration yields insertion
// order. idx/<kind>|<identity> points at the record key.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	closed atomic.Bool
}

// OpenBadger opens a BadgerDB registry at path, or an in-memory one when
// path is empty.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("registry: create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
		opts.Logger = nil
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("registry: open badger: %w", err)
	}
	store, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("registry.badger.initialized", "path", path, "in_memory", path == "")
	return store, nil
}

// NewBadgerStore wraps an existing BadgerDB instance.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	seq, err := db.GetSequence([]byte(badgerSeqKey), 64)
	if err != nil {
		return nil, fmt.Errorf("registry: badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// Add implements Store.
func (s *BadgerStore) Add(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	recKey := badgerRecordKey(n)
	idxKey := []byte(badgerPrefixIndex + partitionKey(rec.Kind, rec.Identity))
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idxKey); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(idxKey, recKey); err != nil {
			return err
		}
		return txn.Set(recKey, data)
	})
}

// SetActive implements Store.
func (s *BadgerStore) SetActive(_ context.Context, id identity.Node, active bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		found := false
		for _, kind := range Kinds {
			item, err := txn.Get([]byte(badgerPrefixIndex + partitionKey(kind, id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			recKey, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			recItem, err := txn.Get(recKey)
			if err != nil {
				return err
			}
			var rec Record
			if err := recItem.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			rec.Active = active
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(recKey, data); err != nil {
				return err
			}
			found = true
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
}

// ActiveProviders implements Store.
func (s *BadgerStore) ActiveProviders(_ context.Context, categories []string, exclude identity.Set) ([]Record, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return filterProviders(records, categories, exclude), nil
}

// ActivePeerHubs implements Store.
func (s *BadgerStore) ActivePeerHubs(_ context.Context) ([]identity.Node, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return filterPeerHubs(records), nil
}

// Categories implements Store.
func (s *BadgerStore) Categories(_ context.Context) ([]Category, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return distinctCategories(records), nil
}

// Lookup implements Store.
func (s *BadgerStore) Lookup(_ context.Context, name, host string) ([]Record, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return lookup(records, name, host), nil
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, kind Kind) ([]Record, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	return ofKind(records, kind), nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.seq.Release(); err != nil {
		slog.Warn("registry.badger.sequence_release.failed", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

func (s *BadgerStore) all() ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefixRecord)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func badgerRecordKey(n uint64) []byte {
	key := make([]byte, len(badgerPrefixRecord)+8)
	copy(key, badgerPrefixRecord)
	binary.BigEndian.PutUint64(key[len(badgerPrefixRecord):], n)
	return key
}
