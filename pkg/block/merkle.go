package block

import (
	"github.com/emberhq/ember-core/pkg/merkle"
	"github.com/emberhq/ember-core/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
// Returns the zero hash for an empty input; block validation independently
// rejects blocks without transactions, so the zero root never reaches a
// valid header.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	tree, err := merkle.NewTree(txHashes)
	if err != nil {
		return types.Hash{}
	}
	return tree.Root()
}

// TxHashes returns the ordered transaction hashes of a block, the leaf
// sequence of its merkle tree.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// MerkleTree builds the merkle tree over the block's transactions,
// for inclusion proof generation.
func (b *Block) MerkleTree() (*merkle.Tree, error) {
	return merkle.NewTree(b.TxHashes())
}
