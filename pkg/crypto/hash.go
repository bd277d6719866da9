// Package crypto provides cryptographic primitives for the Ember core.
package crypto

import (
	"github.com/zeebo/blake3"

	"github.com/emberhq/ember-core/pkg/types"
)

// Hash computes a BLAKE3-256 hash of the input data.
// Used uniformly for transaction IDs, block IDs, and merkle nodes.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
