// Package filecore adapts a flat, fully-downloaded file on disk into a
// coreio.Core: one line is one entry. It exists for local batch
// reindexing and for the CLI, where cores are static files rather than
// a replicated log — OnAppend and OnDownload never fire because a
// filecore.Core never grows and is never partially downloaded.
package filecore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"os"

	"github.com/corelane/coreindexer/pkg/coreio"
)

// Core is a coreio.Core backed by the lines of a single file, read
// fully into memory on Open.
type Core struct {
	key   coreio.Key
	dk    coreio.DiscoveryKey
	lines [][]byte
}

// Open reads path and returns a Core whose positions are its lines, in
// file order. The key is derived deterministically from path so the
// same file always yields the same discovery key, which is what makes
// corestream's persisted state resumable across runs.
func Open(path string) (*Core, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	key := deriveKey(path)
	return &Core{
		key:   key,
		dk:    coreio.DeriveDiscoveryKey(key),
		lines: lines,
	}, nil
}

func deriveKey(path string) coreio.Key {
	sum := sha256.Sum256([]byte(path))
	var k coreio.Key
	copy(k[:], sum[:])
	return k
}

func (c *Core) Ready(ctx context.Context) error          { return nil }
func (c *Core) Update(ctx context.Context, wait bool) error { return nil }
func (c *Core) Length() uint64                            { return uint64(len(c.lines)) }
func (c *Core) Key() coreio.Key                           { return c.key }
func (c *Core) DiscoveryKey() coreio.DiscoveryKey         { return c.dk }

func (c *Core) Get(ctx context.Context, i uint64, opts coreio.GetOptions) ([]byte, bool, error) {
	if i >= uint64(len(c.lines)) {
		return nil, false, nil
	}
	return c.lines[i], true, nil
}

func (c *Core) OnAppend(func()) (unsubscribe func())          { return func() {} }
func (c *Core) OnDownload(func(i uint64)) (unsubscribe func()) { return func() {} }
func (c *Core) OnClose(func()) (unsubscribe func())            { return func() {} }
