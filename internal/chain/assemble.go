package chain

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

// Assemble builds a block candidate in canonical form: the coinbase first,
// the remaining transactions sorted by ID ascending, and the merkle root
// computed over the resulting order. The caller supplies the coinbase
// (subsidy plus fees) and a conflict-free selection, typically from
// Pool.SelectForBlock.
func Assemble(prevHash types.Hash, height uint64, timestamp uint64, coinbase *tx.Transaction, selected []*tx.Transaction) (*block.Block, error) {
	if coinbase == nil {
		return nil, fmt.Errorf("coinbase is nil")
	}
	if !coinbase.IsCoinbase() {
		return nil, fmt.Errorf("tx %s is not a coinbase", coinbase.Hash())
	}
	for _, t := range selected {
		if t.IsCoinbase() {
			return nil, fmt.Errorf("selected tx %s is a coinbase", t.Hash())
		}
	}

	rest := make([]*tx.Transaction, len(selected))
	copy(rest, selected)
	sort.Slice(rest, func(i, j int) bool {
		hi, hj := rest[i].Hash(), rest[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	txs := append([]*tx.Transaction{coinbase}, rest...)

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   prevHash,
		MerkleRoot: block.ComputeMerkleRoot(hashes),
		Timestamp:  timestamp,
		Height:     height,
	}

	return block.NewBlock(header, txs), nil
}
