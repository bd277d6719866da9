// Package block defines block types, header commitment, and structural
// validation.
package block

import (
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

// Block represents a block in the chain.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header hash (the block's identity).
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// Size returns the block's canonical size in bytes: header signing bytes
// plus the signing bytes of every transaction.
func (b *Block) Size() int {
	if b.Header == nil {
		return 0
	}
	size := len(b.Header.SigningBytes())
	for _, t := range b.Transactions {
		size += t.Size()
	}
	return size
}
