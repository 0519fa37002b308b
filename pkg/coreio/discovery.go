package coreio

import "github.com/ethereum/go-ethereum/crypto"

// discoveryKeyDomain separates discovery-key hashing from any other use
// of Keccak256 over a raw public key, the same way hypercore domain-
// separates its discovery key from the core's tree-hash namespace.
var discoveryKeyDomain = []byte("coreindexer-discovery-key")

// DeriveDiscoveryKey computes the discovery key advertised for a core's
// public key. It never reveals key and is stable across processes and
// versions — callers persist storage under paths derived from its hex
// form (see corestream.StoragePath), so this derivation must never change.
func DeriveDiscoveryKey(key Key) DiscoveryKey {
	sum := crypto.Keccak256(discoveryKeyDomain, key[:])
	var dk DiscoveryKey
	copy(dk[:], sum)
	return dk
}
