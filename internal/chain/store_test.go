package chain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/emberhq/ember-core/internal/storage"
	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

func storeBlock(t *testing.T, bs *BlockStore, db storage.Batcher, blk *block.Block) {
	t.Helper()
	batch := db.NewBatch()
	if err := bs.PutBlockToBatch(batch, blk); err != nil {
		t.Fatalf("PutBlockToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func testBlock(height uint64, prevHash types.Hash) *block.Block {
	cb := tx.NewCoinbase(height, []tx.Output{{
		Value:  1000,
		Script: types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, types.AddressSize)},
	}})
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   prevHash,
		MerkleRoot: block.ComputeMerkleRoot([]types.Hash{cb.Hash()}),
		Timestamp:  1735689600 + height,
		Height:     height,
	}
	return block.NewBlock(header, []*tx.Transaction{cb})
}

func TestBlockStore_PutGet(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	blk := testBlock(1, types.Hash{0x01})
	storeBlock(t, bs, db, blk)

	got, err := bs.GetBlock(blk.Hash())
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.Hash() != blk.Hash() {
		t.Error("GetBlock returned a different block")
	}

	byHeight, err := bs.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if byHeight.Hash() != blk.Hash() {
		t.Error("height index points at a different block")
	}

	ok, err := bs.HasBlock(blk.Hash())
	if err != nil || !ok {
		t.Errorf("HasBlock = %v, %v, want true, nil", ok, err)
	}
}

func TestBlockStore_GetMissing(t *testing.T) {
	bs := NewBlockStore(storage.NewMemory())
	if _, err := bs.GetBlock(types.Hash{0xFF}); err == nil {
		t.Error("GetBlock for missing hash succeeded")
	}
	if ok, _ := bs.HasBlock(types.Hash{0xFF}); ok {
		t.Error("HasBlock = true for missing hash")
	}
}

func TestBlockStore_CacheSurvivesColdRead(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	blk := testBlock(1, types.Hash{0x01})
	storeBlock(t, bs, db, blk)

	// A second store over the same DB has a cold cache and must fall
	// back to disk.
	bs2 := NewBlockStore(db)
	got, err := bs2.GetBlock(blk.Hash())
	if err != nil {
		t.Fatalf("GetBlock (cold cache): %v", err)
	}
	if got.Hash() != blk.Hash() {
		t.Error("cold read returned a different block")
	}
}

func TestBlockStore_TxLocation(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	blk := testBlock(7, types.Hash{0x01})
	storeBlock(t, bs, db, blk)

	txHash := blk.Transactions[0].Hash()
	height, blockHash, err := bs.GetTxLocation(txHash)
	if err != nil {
		t.Fatalf("GetTxLocation: %v", err)
	}
	if height != 7 || blockHash != blk.Hash() {
		t.Errorf("GetTxLocation = (%d, %s), want (7, %s)", height, blockHash, blk.Hash())
	}
}

func TestBlockStore_Tip(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	// Fresh store reports a zero tip.
	hash, height, supply, err := bs.GetTip()
	if err != nil {
		t.Fatalf("GetTip (empty): %v", err)
	}
	if !hash.IsZero() || height != 0 || supply != 0 {
		t.Errorf("empty tip = (%s, %d, %d), want zero values", hash, height, supply)
	}

	want := types.Hash{0xAB}
	batch := db.NewBatch()
	if err := bs.SetTipToBatch(batch, want, 42, 9000); err != nil {
		t.Fatalf("SetTipToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	hash, height, supply, err = bs.GetTip()
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if hash != want || height != 42 || supply != 9000 {
		t.Errorf("GetTip = (%s, %d, %d), want (%s, 42, 9000)", hash, height, supply, want)
	}
}

// faultDB fails every read with a non-missing error, standing in for a
// broken disk.
type faultDB struct {
	storage.DB
}

var errDiskFault = errors.New("disk failure")

func (f *faultDB) Get(key []byte) ([]byte, error) { return nil, errDiskFault }

func TestBlockStore_TipReadFailure(t *testing.T) {
	bs := NewBlockStore(&faultDB{DB: storage.NewMemory()})

	// A failing read must surface, not masquerade as a fresh chain.
	_, _, _, err := bs.GetTip()
	if !errors.Is(err, errDiskFault) {
		t.Errorf("GetTip over failing storage: %v, want the storage error", err)
	}
}

func TestBlockStore_Undo(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	hash := types.Hash{0x42}
	data := []byte(`{"spent_utxos":[],"minted":5}`)

	batch := db.NewBatch()
	if err := bs.PutUndoToBatch(batch, hash, data); err != nil {
		t.Fatalf("PutUndoToBatch: %v", err)
	}
	batch.Commit()

	got, err := bs.GetUndo(hash)
	if err != nil {
		t.Fatalf("GetUndo: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("GetUndo = %s, want %s", got, data)
	}
}

func TestBlockStore_RemoveBlock(t *testing.T) {
	db := storage.NewMemory()
	bs := NewBlockStore(db)

	blk := testBlock(3, types.Hash{0x01})
	storeBlock(t, bs, db, blk)

	batch := db.NewBatch()
	if err := bs.PutUndoToBatch(batch, blk.Hash(), []byte("{}")); err != nil {
		t.Fatalf("PutUndoToBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	batch = db.NewBatch()
	if err := bs.RemoveBlockFromBatch(batch, blk); err != nil {
		t.Fatalf("RemoveBlockFromBatch: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if ok, _ := bs.HasBlock(blk.Hash()); ok {
		t.Error("block still present after removal")
	}
	if _, err := bs.GetBlockByHeight(3); err == nil {
		t.Error("height index still present after removal")
	}
	if _, _, err := bs.GetTxLocation(blk.Transactions[0].Hash()); err == nil {
		t.Error("tx index still present after removal")
	}
	if _, err := bs.GetUndo(blk.Hash()); err == nil {
		t.Error("undo data still present after removal")
	}
}
