// Package memory is a RAM-backed storage.Storage, used by bitfield and
// stream tests that don't need durability.
package memory

import (
	"context"
	"sync"

	"github.com/corelane/coreindexer/pkg/storage"
)

// Storage is an in-memory byte buffer implementing storage.Storage.
type Storage struct {
	mu   sync.Mutex
	buf  []byte
	used bool
}

// Factory returns a storage.Factory that hands out independent Storage
// instances per name, sharing no state across names — the in-memory
// analogue of a directory of files.
func Factory() storage.Factory {
	var mu sync.Mutex
	byName := make(map[string]*Storage)
	return func(name string) (storage.Storage, error) {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := byName[name]; ok {
			return s, nil
		}
		s := &Storage{}
		byName[name] = s
		return s, nil
	}
}

func (s *Storage) Stat(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.used {
		return 0, storage.ErrNotExist
	}
	return int64(len(s.buf)), nil
}

func (s *Storage) Read(ctx context.Context, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, length)
	if offset >= int64(len(s.buf)) {
		return out, nil
	}
	end := offset + int64(length)
	if end > int64(len(s.buf)) {
		end = int64(len(s.buf))
	}
	copy(out, s.buf[offset:end])
	return out, nil
}

func (s *Storage) Write(ctx context.Context, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = true
	end := offset + int64(len(data))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[offset:end], data)
	return nil
}

func (s *Storage) Del(ctx context.Context, offset int64, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset >= int64(len(s.buf)) {
		return nil
	}
	end := offset + int64(length)
	if end > int64(len(s.buf)) {
		end = int64(len(s.buf))
	}
	for i := offset; i < end; i++ {
		s.buf[i] = 0
	}
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) Unlink(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.used = false
	return nil
}
