package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/emberhq/ember-core/config"
	"github.com/emberhq/ember-core/internal/log"
	"github.com/emberhq/ember-core/internal/utxo"
	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown            = errors.New("block already known")
	ErrPrevNotFound          = errors.New("previous block not found")
	ErrBadHeight             = errors.New("block height does not follow parent")
	ErrBadPrevHash           = errors.New("prev_hash does not match current tip")
	ErrApplyUTXO             = errors.New("failed to apply UTXO changes")
	ErrCoinbaseNotMature     = errors.New("coinbase output not mature")
	ErrTimestampTooFuture    = errors.New("block timestamp too far in the future")
	ErrTimestampBeforeParent = errors.New("block timestamp before parent")
	ErrBadCoinbaseTx         = errors.New("invalid coinbase transaction")
	ErrSubsidyExceeded       = errors.New("coinbase mints more than subsidy plus fees")
)

// maxFutureDrift bounds how far ahead of local time a block timestamp may be.
const maxFutureDrift = 2 * time.Minute

// ProcessBlock validates a block and applies it to the chain. The block
// moves through proposed → structurally valid → UTXO valid → accepted;
// failure at any gate rejects it and leaves the chain state untouched.
// The UTXO diff, block body, indexes, undo data, and tip all commit in a
// single storage batch while the write lock is held.
//
// The accepted-block handler fires after the state lock is released.
// ProcessBlock and RevertTip are serialized with each other, so handlers
// observe blocks in commit order.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	if err := c.connectBlock(blk); err != nil {
		return err
	}

	if c.acceptedBlockHandler != nil {
		c.acceptedBlockHandler(blk.Transactions)
	}
	return nil
}

// connectBlock runs the validation gates and commits the block under the
// state write lock.
func (c *Chain) connectBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}

	hash := blk.Hash()
	log.Chain.Debug().
		Stringer("block", hash).
		Uint64("height", blk.Header.Height).
		Int("txs", len(blk.Transactions)).
		Msg("block proposed")

	// Reject duplicates.
	known, err := c.blocks.HasBlock(hash)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if known {
		return ErrBlockKnown
	}

	// Parent linkage: the block must extend the current tip. Fork choice
	// is the caller's concern; this chain only ever advances or reverts.
	if err := c.checkParentLink(blk); err != nil {
		return err
	}

	// Block timestamp bounds: reject blocks too far in the future.
	maxTime := uint64(time.Now().Add(maxFutureDrift).Unix())
	if blk.Header.Timestamp > maxTime {
		return fmt.Errorf("%w: block timestamp %d exceeds max %d", ErrTimestampTooFuture, blk.Header.Timestamp, maxTime)
	}

	// Block timestamp must not be before its parent (monotonic).
	if blk.Header.Timestamp < c.state.TipTimestamp {
		return fmt.Errorf("%w: block timestamp %d < parent timestamp %d",
			ErrTimestampBeforeParent, blk.Header.Timestamp, c.state.TipTimestamp)
	}

	// Structural gate: version, caps, coinbase placement, canonical order,
	// merkle root.
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	log.Chain.Debug().Stringer("block", hash).Msg("block structurally valid")

	// Stateful gate: sequential per-transaction UTXO validation on a
	// copy-on-write view, fee accounting, and the subsidy cap. Nothing
	// reaches storage until the view flushes into the batch below.
	view := utxo.NewView(c.utxos)
	totalFees, err := c.validateAndApply(view, blk)
	if err != nil {
		return err
	}

	minted, err := c.checkSubsidy(blk, totalFees)
	if err != nil {
		return err
	}
	log.Chain.Debug().
		Stringer("block", hash).
		Uint64("fees", totalFees).
		Uint64("minted", minted).
		Msg("block utxo valid")

	undo := collectUndo(view, blk)
	undo.Minted = minted
	undoBytes, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}

	// Atomic commit: UTXO diff + block + indexes + undo + tip.
	newSupply := c.state.Supply + minted
	batch := c.batcher.NewBatch()
	if err := view.Flush(batch); err != nil {
		return fmt.Errorf("%w: %v", ErrApplyUTXO, err)
	}
	if err := c.blocks.PutBlockToBatch(batch, blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	if err := c.blocks.PutUndoToBatch(batch, hash, undoBytes); err != nil {
		return fmt.Errorf("store undo: %w", err)
	}
	if err := c.blocks.SetTipToBatch(batch, hash, blk.Header.Height, newSupply); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}

	c.state.TipHash = hash
	c.state.Height = blk.Header.Height
	c.state.Supply = newSupply
	c.state.TipTimestamp = blk.Header.Timestamp

	log.Chain.Info().
		Stringer("block", hash).
		Uint64("height", blk.Header.Height).
		Int("txs", len(blk.Transactions)).
		Uint64("supply", newSupply).
		Msg("block accepted")

	return nil
}

// checkParentLink verifies that the block's PrevHash and Height extend the
// current chain tip.
func (c *Chain) checkParentLink(blk *block.Block) error {
	if c.state.IsGenesis() {
		return fmt.Errorf("%w: chain has no genesis block", ErrPrevNotFound)
	}

	if blk.Header.PrevHash != c.state.TipHash {
		known, err := c.blocks.HasBlock(blk.Header.PrevHash)
		if err != nil {
			return fmt.Errorf("check parent: %w", err)
		}
		if known {
			return fmt.Errorf("%w: block %s builds on %s, tip is %s",
				ErrBadPrevHash, blk.Hash(), blk.Header.PrevHash, c.state.TipHash)
		}
		return fmt.Errorf("%w: %s", ErrPrevNotFound, blk.Header.PrevHash)
	}

	expectedHeight := c.state.Height + 1
	if blk.Header.Height != expectedHeight {
		return fmt.Errorf("%w: want %d, got %d", ErrBadHeight, expectedHeight, blk.Header.Height)
	}
	return nil
}

// validateAndApply runs each transaction through UTXO validation against
// the view and applies it, so later transactions in the block see the
// outputs and spends of earlier ones. Returns the total fees collected.
func (c *Chain) validateAndApply(view *utxo.View, blk *block.Block) (uint64, error) {
	coinbaseTx := blk.Transactions[0]

	// The coinbase must be a dedicated transaction: exactly one input and
	// that input must be the zero-outpoint marker.
	if len(coinbaseTx.Inputs) != 1 || !coinbaseTx.Inputs[0].IsCoinbase() {
		return 0, fmt.Errorf("%w: tx %s", ErrBadCoinbaseTx, coinbaseTx.Hash())
	}

	provider := &viewUTXOProvider{view: view}
	var totalFees uint64

	for i, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		isCoinbase := i == 0 && blk.Header.Height > 0

		if i > 0 {
			// Maturity first: spending an immature coinbase output is a
			// distinct rejection from spending a missing one.
			for _, in := range transaction.Inputs {
				u, err := view.Get(in.PrevOut)
				if err != nil {
					continue // Caught by UTXO validation below.
				}
				if u.Coinbase && blk.Header.Height-u.Height < config.CoinbaseMaturity {
					return 0, fmt.Errorf("%w: tx %s needs %d confirmations, has %d",
						ErrCoinbaseNotMature, txHash, config.CoinbaseMaturity, blk.Header.Height-u.Height)
				}
			}

			fee, err := transaction.ValidateWithUTXOs(provider, c.verifier)
			if err != nil {
				return 0, fmt.Errorf("tx %s: %w", txHash, err)
			}
			if totalFees > math.MaxUint64-fee {
				return 0, fmt.Errorf("tx %s: fee overflow", txHash)
			}
			totalFees += fee
		}

		// Apply: spend inputs, create outputs.
		for _, in := range transaction.Inputs {
			if in.IsCoinbase() {
				continue
			}
			if _, err := view.Spend(in.PrevOut); err != nil {
				return 0, fmt.Errorf("tx %s spend %s: %w", txHash, in.PrevOut, err)
			}
		}
		for outIdx, out := range transaction.Outputs {
			view.Add(&utxo.UTXO{
				Outpoint: types.Outpoint{TxID: txHash, Index: uint32(outIdx)},
				Value:    out.Value,
				Script:   out.Script,
				Height:   blk.Header.Height,
				Coinbase: isCoinbase,
			})
		}
	}

	return totalFees, nil
}

// checkSubsidy enforces the coinbase mint limit:
// minted = coinbase_total - total_fees (fees are recycled, not newly minted),
// and minted may not exceed the subsidy or push supply past the cap.
func (c *Chain) checkSubsidy(blk *block.Block, totalFees uint64) (uint64, error) {
	coinbaseTotal, err := blk.Transactions[0].TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("coinbase output overflow: %w", err)
	}

	var minted uint64
	if coinbaseTotal > totalFees {
		minted = coinbaseTotal - totalFees
	}

	allowed := c.blockReward
	if c.maxSupply > 0 {
		if c.state.Supply >= c.maxSupply {
			allowed = 0
		} else if remaining := c.maxSupply - c.state.Supply; allowed > remaining {
			allowed = remaining
		}
	}
	if minted > allowed {
		return 0, fmt.Errorf("%w: tx %s minted=%d allowed=%d",
			ErrSubsidyExceeded, blk.Transactions[0].Hash(), minted, allowed)
	}
	return minted, nil
}

// applyTransactions applies a block's transactions to a view without
// validation. Used for genesis, whose coinbase mints the allocations.
func applyTransactions(view *utxo.View, blk *block.Block) error {
	for txIdx, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		isCoinbase := txIdx == 0 && blk.Header.Height > 0

		for _, in := range transaction.Inputs {
			if in.IsCoinbase() {
				continue
			}
			if _, err := view.Spend(in.PrevOut); err != nil {
				return fmt.Errorf("spend %s: %w", in.PrevOut, err)
			}
		}
		for i, out := range transaction.Outputs {
			view.Add(&utxo.UTXO{
				Outpoint: types.Outpoint{TxID: txHash, Index: uint32(i)},
				Value:    out.Value,
				Script:   out.Script,
				Height:   blk.Header.Height,
				Coinbase: isCoinbase,
			})
		}
	}
	return nil
}

type viewUTXOProvider struct {
	view *utxo.View
}

func (p *viewUTXOProvider) GetUTXO(outpoint types.Outpoint) (uint64, types.Script, error) {
	u, err := p.view.Get(outpoint)
	if err != nil {
		return 0, types.Script{}, err
	}
	return u.Value, u.Script, nil
}

func (p *viewUTXOProvider) HasUTXO(outpoint types.Outpoint) bool {
	has, err := p.view.Has(outpoint)
	return err == nil && has
}
