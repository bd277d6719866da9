package block

import (
	"testing"

	"github.com/emberhq/ember-core/pkg/merkle"
	"github.com/emberhq/ember-core/pkg/types"
)

func TestMerkleTree_InclusionProofs(t *testing.T) {
	blk := buildBlock(t, 1,
		signedTx(t, types.Outpoint{TxID: types.Hash{0x01}}, 100),
		signedTx(t, types.Outpoint{TxID: types.Hash{0x02}}, 200),
		signedTx(t, types.Outpoint{TxID: types.Hash{0x03}}, 300),
	)
	if err := blk.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tree, err := blk.MerkleTree()
	if err != nil {
		t.Fatalf("MerkleTree: %v", err)
	}
	if tree.Root() != blk.Header.MerkleRoot {
		t.Fatal("tree root differs from committed header root")
	}

	// Every transaction proves inclusion against the header root.
	for i, transaction := range blk.Transactions {
		proof, err := tree.Prove(i)
		if err != nil {
			t.Fatalf("Prove(%d): %v", i, err)
		}
		if !merkle.VerifyProof(transaction.Hash(), proof, blk.Header.MerkleRoot) {
			t.Errorf("tx %d proof does not verify against header root", i)
		}
	}

	// A proof for one tx does not verify another.
	proof, _ := tree.Prove(0)
	if merkle.VerifyProof(blk.Transactions[1].Hash(), proof, blk.Header.MerkleRoot) {
		t.Error("proof verified against the wrong transaction")
	}
}

func TestTxHashes_Order(t *testing.T) {
	blk := buildBlock(t, 1,
		signedTx(t, types.Outpoint{TxID: types.Hash{0x01}}, 100),
		signedTx(t, types.Outpoint{TxID: types.Hash{0x02}}, 200),
	)
	hashes := blk.TxHashes()
	if len(hashes) != len(blk.Transactions) {
		t.Fatalf("TxHashes() length = %d, want %d", len(hashes), len(blk.Transactions))
	}
	for i, h := range hashes {
		if h != blk.Transactions[i].Hash() {
			t.Errorf("TxHashes()[%d] out of order", i)
		}
	}
}
