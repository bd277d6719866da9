package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emberhq/ember-core/internal/log"
	"github.com/emberhq/ember-core/internal/utxo"
	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

// ErrRevertGenesis is returned when RevertTip would remove the genesis block.
var ErrRevertGenesis = errors.New("cannot revert genesis block")

// UndoData stores the information needed to revert a block's UTXO changes.
// Created outputs are not recorded: the block body, which is always on disk
// alongside the undo data, already lists them.
type UndoData struct {
	SpentUTXOs []utxo.UTXO `json:"spent_utxos"`
	Minted     uint64      `json:"minted"`
}

// collectUndo extracts undo data from a fully applied view. Outputs both
// created and spent within the block never reached storage, so they are
// excluded from SpentUTXOs; deleting their outpoints on revert is a no-op.
func collectUndo(view *utxo.View, blk *block.Block) *UndoData {
	undo := &UndoData{}

	for _, u := range view.Consumed() {
		if u.Height == blk.Header.Height {
			continue // Created in this block, never persisted.
		}
		undo.SpentUTXOs = append(undo.SpentUTXOs, *u)
	}

	return undo
}

// RevertTip undoes the last accepted block: created outputs are removed,
// spent outputs restored, indexes and undo data deleted, and the tip moved
// to the parent. The whole revert commits in one storage batch. Returns
// the reverted block.
//
// Applying a block and then reverting it restores the exact prior UTXO set
// and tip state.
//
// The reverted-tx handler fires after the state lock is released, so it can
// run the reverted transactions back through mempool admission, which reads
// the chain.
func (c *Chain) RevertTip() (*block.Block, error) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	blk, err := c.disconnectTip()
	if err != nil {
		return nil, err
	}

	if c.revertedTxHandler != nil {
		var reverted []*tx.Transaction
		for _, t := range blk.Transactions {
			if !t.IsCoinbase() {
				reverted = append(reverted, t)
			}
		}
		if len(reverted) > 0 {
			c.revertedTxHandler(reverted)
		}
	}

	return blk, nil
}

// disconnectTip undoes the tip block under the state write lock.
func (c *Chain) disconnectTip() (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.IsGenesis() {
		return nil, fmt.Errorf("%w: chain is empty", ErrRevertGenesis)
	}
	if c.state.Height == 0 {
		return nil, ErrRevertGenesis
	}

	blk, err := c.blocks.GetBlock(c.state.TipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip block: %w", err)
	}

	undoBytes, err := c.blocks.GetUndo(c.state.TipHash)
	if err != nil {
		return nil, fmt.Errorf("load undo: %w", err)
	}
	var undo UndoData
	if err := json.Unmarshal(undoBytes, &undo); err != nil {
		return nil, fmt.Errorf("unmarshal undo: %w", err)
	}

	parent, err := c.blocks.GetBlock(blk.Header.PrevHash)
	if err != nil {
		return nil, fmt.Errorf("load parent block: %w", err)
	}

	batch := c.batcher.NewBatch()

	// Remove created outputs. Outputs created and spent within the block
	// were never persisted; their deletes are harmless no-ops.
	for _, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		for i, out := range transaction.Outputs {
			u := &utxo.UTXO{
				Outpoint: types.Outpoint{TxID: txHash, Index: uint32(i)},
				Value:    out.Value,
				Script:   out.Script,
				Height:   blk.Header.Height,
				Coinbase: transaction.IsCoinbase() && blk.Header.Height > 0,
			}
			if err := c.utxos.DeleteFromBatch(batch, u); err != nil {
				return nil, fmt.Errorf("remove created output: %w", err)
			}
		}
	}

	// Restore spent outputs.
	for i := range undo.SpentUTXOs {
		if err := c.utxos.PutToBatch(batch, &undo.SpentUTXOs[i]); err != nil {
			return nil, fmt.Errorf("restore utxo %s: %w", undo.SpentUTXOs[i].Outpoint, err)
		}
	}

	if err := c.blocks.RemoveBlockFromBatch(batch, blk); err != nil {
		return nil, fmt.Errorf("remove block: %w", err)
	}

	newSupply := c.state.Supply - undo.Minted
	parentHash := parent.Hash()
	if err := c.blocks.SetTipToBatch(batch, parentHash, parent.Header.Height, newSupply); err != nil {
		return nil, fmt.Errorf("set tip: %w", err)
	}

	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("commit revert: %w", err)
	}

	c.state.TipHash = parentHash
	c.state.Height = parent.Header.Height
	c.state.Supply = newSupply
	c.state.TipTimestamp = parent.Header.Timestamp

	log.Chain.Info().
		Stringer("block", blk.Hash()).
		Uint64("height", blk.Header.Height).
		Stringer("new_tip", parentHash).
		Msg("block reverted")

	return blk, nil
}
