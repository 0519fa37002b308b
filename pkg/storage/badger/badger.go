// Package badger is a storage.Storage backed by a single shared
// github.com/dgraph-io/badger/v4 database, keyed by logical name instead
// of one file per name. Deployments running many small cores prefer this
// over pkg/storage/file to avoid one flock-guarded file per core.
package badger

import (
	"context"
	"fmt"

	bg "github.com/dgraph-io/badger/v4"
	"github.com/klev-dev/kleverr"

	"github.com/corelane/coreindexer/pkg/storage"
)

// Storage is one logical name's view onto a shared *badger.DB. Bytes are
// stored as a single value under a name-prefixed key, read-modify-write
// on every Write/Del: each call loads and rewrites the whole value, every
// page stored under the name, even though the bitfield writes one
// 4096-byte page at a time.
type Storage struct {
	db   *bg.DB
	name string
}

// Open opens (creating if necessary) a badger database at dir and returns
// a storage.Factory handing out Storage instances that share it, one
// key prefix per logical name.
func Open(dir string) (storage.Factory, func() error, error) {
	opts := bg.DefaultOptions(dir).WithLogger(nil)
	db, err := bg.Open(opts)
	if err != nil {
		return nil, nil, kleverr.Newf("badger storage: open %s: %w", dir, err)
	}
	factory := func(name string) (storage.Storage, error) {
		return &Storage{db: db, name: name}, nil
	}
	return factory, db.Close, nil
}

func (s *Storage) key() []byte {
	return []byte("coreindexer/" + s.name)
}

func (s *Storage) Stat(ctx context.Context) (int64, error) {
	var length int64
	err := s.db.View(func(txn *bg.Txn) error {
		item, err := txn.Get(s.key())
		if err == bg.ErrKeyNotFound {
			return storage.ErrNotExist
		}
		if err != nil {
			return err
		}
		length = item.ValueSize()
		return nil
	})
	if err == storage.ErrNotExist {
		return 0, storage.ErrNotExist
	}
	if err != nil {
		return 0, kleverr.Newf("badger storage: stat %s: %w", s.name, err)
	}
	return length, nil
}

func (s *Storage) Read(ctx context.Context, offset int64, length int) ([]byte, error) {
	out := make([]byte, length)
	err := s.db.View(func(txn *bg.Txn) error {
		item, err := txn.Get(s.key())
		if err == bg.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if offset >= int64(len(val)) {
				return nil
			}
			end := offset + int64(length)
			if end > int64(len(val)) {
				end = int64(len(val))
			}
			copy(out, val[offset:end])
			return nil
		})
	})
	if err != nil {
		return nil, kleverr.Newf("badger storage: read %s: %w", s.name, err)
	}
	return out, nil
}

func (s *Storage) Write(ctx context.Context, offset int64, data []byte) error {
	err := s.db.Update(func(txn *bg.Txn) error {
		cur, err := loadValue(txn, s.key())
		if err != nil {
			return err
		}
		end := offset + int64(len(data))
		if end > int64(len(cur)) {
			grown := make([]byte, end)
			copy(grown, cur)
			cur = grown
		}
		copy(cur[offset:end], data)
		return txn.Set(s.key(), cur)
	})
	if err != nil {
		return kleverr.Newf("badger storage: write %s: %w", s.name, err)
	}
	return nil
}

func (s *Storage) Del(ctx context.Context, offset int64, length int) error {
	err := s.db.Update(func(txn *bg.Txn) error {
		cur, err := loadValue(txn, s.key())
		if err != nil {
			return err
		}
		if offset >= int64(len(cur)) {
			return nil
		}
		end := offset + int64(length)
		if end > int64(len(cur)) {
			end = int64(len(cur))
		}
		for i := offset; i < end; i++ {
			cur[i] = 0
		}
		return txn.Set(s.key(), cur)
	})
	if err != nil {
		return kleverr.Newf("badger storage: del %s: %w", s.name, err)
	}
	return nil
}

// Close is a no-op: the *badger.DB is shared across every Storage handed
// out by the same Factory and is closed once via Open's returned closer.
func (s *Storage) Close() error { return nil }

func (s *Storage) Unlink(ctx context.Context) error {
	err := s.db.Update(func(txn *bg.Txn) error {
		err := txn.Delete(s.key())
		if err == bg.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return kleverr.Newf("badger storage: unlink %s: %w", s.name, err)
	}
	return nil
}

func loadValue(txn *bg.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == bg.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger storage: copy value: %w", err)
	}
	return out, nil
}
