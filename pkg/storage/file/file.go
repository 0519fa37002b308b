// Package file is a flat-file storage.Storage: one core's bitfield is one
// sparse file on disk, exclusively locked (through a "<name>.lock" file)
// from the factory call that opens it until its Close.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/klev-dev/kleverr"

	"github.com/corelane/coreindexer/pkg/storage"
)

// Storage is a flock-guarded *os.File implementing storage.Storage.
type Storage struct {
	mu   sync.Mutex
	path string
	f    *os.File
	lock *flock.Flock
}

// Factory returns a storage.Factory that opens "<dir>/<name>" files,
// creating parent directories as needed, given a root storage directory
// named by a plain string.
func Factory(dir string) storage.Factory {
	return func(name string) (storage.Storage, error) {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, kleverr.Newf("file storage: create dir for %s: %w", name, err)
		}

		lock := flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, kleverr.Newf("file storage: lock %s: %w", name, err)
		}
		if !locked {
			return nil, fmt.Errorf("file storage: %s is already open by another process", name)
		}

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			_ = lock.Unlock()
			return nil, kleverr.Newf("file storage: open %s: %w", name, err)
		}

		return &Storage{path: path, f: f, lock: lock}, nil
	}
}

func (s *Storage) Stat(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := s.f.Stat()
	if err != nil {
		return 0, kleverr.Newf("file storage: stat: %w", err)
	}
	if fi.Size() == 0 {
		return 0, storage.ErrNotExist
	}
	return fi.Size(), nil
}

func (s *Storage) Read(ctx context.Context, offset int64, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, length)
	n, err := s.f.ReadAt(out, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, kleverr.Newf("file storage: read: %w", err)
	}
	for i := n; i < length; i++ {
		out[i] = 0
	}
	return out, nil
}

func (s *Storage) Write(ctx context.Context, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt(data, offset); err != nil {
		return kleverr.Newf("file storage: write: %w", err)
	}
	return nil
}

func (s *Storage) Del(ctx context.Context, offset int64, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeros := make([]byte, length)
	if _, err := s.f.WriteAt(zeros, offset); err != nil {
		return kleverr.Newf("file storage: del: %w", err)
	}
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.f.Close()
	_ = s.lock.Unlock()
	return err
}

func (s *Storage) Unlink(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return kleverr.Newf("file storage: unlink: %w", err)
	}
	return nil
}
