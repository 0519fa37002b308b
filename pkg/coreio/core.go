// Package coreio defines the external log the indexing engine consumes:
// the append-only, content-addressed, partially-downloadable "Core", plus
// the Entry and Encoding types built from its blocks. The random-access
// byte store indexed state is persisted to is defined in pkg/storage.
// Implementations of the Core interface — replication, verification,
// download scheduling — are out of scope for this module; coreio only
// names the boundary.
package coreio

import (
	"context"
	"encoding/hex"
)

// Key is a core's stable public key.
type Key [32]byte

// DiscoveryKey is derived from a Key and is never secret; it is what two
// peers exchange to discover they hold the same core without revealing
// the core's writable identity.
type DiscoveryKey [32]byte

// Hex lowercase-hex encodes the discovery key, 64 characters.
func (k DiscoveryKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// GetOptions configures Core.Get.
type GetOptions struct {
	// Wait, if true, blocks until the block is available. The engine
	// always calls Get with Wait: false — it only wants to know whether
	// a block is already locally present.
	Wait bool
}

// Core is the append-only log the engine drains. A Core may be only
// partially downloaded: Length reports how many positions are known to
// exist, but Get may still report "absent" for a position below Length
// that has not finished downloading yet.
type Core interface {
	// Ready blocks until Key and DiscoveryKey are available.
	Ready(ctx context.Context) error

	// Update refreshes Length against the latest known state. With
	// Wait true it blocks for a network round trip if one is needed.
	Update(ctx context.Context, wait bool) error

	// Length is one past the highest known position.
	Length() uint64

	// Key returns the core's public key. Valid after Ready.
	Key() Key

	// DiscoveryKey returns the core's discovery key. Valid after Ready.
	DiscoveryKey() DiscoveryKey

	// Get returns the block at i and true if it is locally present,
	// or false if it is not (never blocks when opts.Wait is false).
	Get(ctx context.Context, i uint64, opts GetOptions) (block []byte, present bool, err error)

	// OnAppend registers a listener invoked whenever Length grows.
	// The returned func unsubscribes.
	OnAppend(func()) (unsubscribe func())

	// OnDownload registers a listener invoked whenever position i
	// becomes locally present. The returned func unsubscribes.
	OnDownload(func(i uint64)) (unsubscribe func())

	// OnClose registers a listener invoked when the core closes.
	OnClose(func()) (unsubscribe func())
}
