// Package bitfield is a paged sparse bit set persisted to a
// storage.Storage, tracking the indexed state of block positions. Pages
// are 32768 bits (1024 32-bit words) and are allocated lazily on the
// first set-to-true, matching a sparse file's semantics.
package bitfield

import (
	"context"
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"

	"github.com/corelane/coreindexer/pkg/storage"
)

const (
	bitsPerPage  = 32768
	wordsPerPage = bitsPerPage / 32
	pageBytes    = wordsPerPage * 4
)

type page struct {
	bits  *bitset.BitSet
	dirty bool
}

// Bitfield is a logical bit array over non-negative positions, backed by
// a storage.Storage and materialized a page at a time.
type Bitfield struct {
	store storage.Storage
	pages map[uint64]*page
}

// Open reads the entire existing contents of store (if any) and
// materializes its pages.
func Open(ctx context.Context, store storage.Storage) (*Bitfield, error) {
	bf := &Bitfield{store: store, pages: make(map[uint64]*page)}

	length, err := store.Stat(ctx)
	if err == storage.ErrNotExist {
		return bf, nil
	}
	if err != nil {
		return nil, err
	}

	pageCount := length / pageBytes
	if length%pageBytes != 0 {
		pageCount++
	}
	for p := int64(0); p < pageCount; p++ {
		raw, err := store.Read(ctx, p*pageBytes, pageBytes)
		if err != nil {
			return nil, err
		}
		if isZero(raw) {
			continue
		}
		bf.pages[uint64(p)] = &page{bits: decodePage(raw)}
	}
	return bf, nil
}

// Get reports the indexed-state of position i.
func (bf *Bitfield) Get(i uint64) bool {
	p, w, b := locate(i)
	pg, ok := bf.pages[p]
	if !ok {
		return false
	}
	return pg.bits.Test(uint(w*32 + b))
}

// Set updates the in-memory state of position i. A transition from unset
// to set on a previously-untouched page allocates that page. Setting to
// false on an untouched page is a no-op and does not allocate.
func (bf *Bitfield) Set(i uint64, v bool) {
	p, w, b := locate(i)
	pg, ok := bf.pages[p]
	if !ok {
		if !v {
			return
		}
		pg = &page{bits: bitset.New(bitsPerPage)}
		bf.pages[p] = pg
	}

	bit := uint(w*32 + b)
	if pg.bits.Test(bit) == v {
		return
	}
	if v {
		pg.bits.Set(bit)
	} else {
		pg.bits.Clear(bit)
	}
	pg.dirty = true
}

// Flush writes all dirty pages to storage at their page-aligned offsets
// and clears their dirty flags.
func (bf *Bitfield) Flush(ctx context.Context) error {
	for p, pg := range bf.pages {
		if !pg.dirty {
			continue
		}
		raw := encodePage(pg.bits)
		if err := bf.store.Write(ctx, int64(p)*pageBytes, raw); err != nil {
			return err
		}
		pg.dirty = false
	}
	return nil
}

// Close releases the storage handle without deleting its contents.
func (bf *Bitfield) Close() error {
	return bf.store.Close()
}

// Unlink deletes backing state.
func (bf *Bitfield) Unlink(ctx context.Context) error {
	return bf.store.Unlink(ctx)
}

func locate(i uint64) (p uint64, w uint64, b uint64) {
	p = i / bitsPerPage
	rem := i % bitsPerPage
	w = rem / 32
	b = rem % 32
	return
}

func decodePage(raw []byte) *bitset.BitSet {
	bs := bitset.New(bitsPerPage)
	for w := 0; w < wordsPerPage; w++ {
		word := binary.LittleEndian.Uint32(raw[w*4 : w*4+4])
		if word == 0 {
			continue
		}
		for b := 0; b < 32; b++ {
			if word&(1<<uint(b)) != 0 {
				bs.Set(uint(w*32 + b))
			}
		}
	}
	return bs
}

func encodePage(bs *bitset.BitSet) []byte {
	raw := make([]byte, pageBytes)
	for w := 0; w < wordsPerPage; w++ {
		var word uint32
		for b := 0; b < 32; b++ {
			if bs.Test(uint(w*32 + b)) {
				word |= 1 << uint(b)
			}
		}
		binary.LittleEndian.PutUint32(raw[w*4:w*4+4], word)
	}
	return raw
}

func isZero(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}
