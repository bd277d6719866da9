// Package chain implements the blockchain state machine.
package chain

import (
	"fmt"
	"sync"

	"github.com/emberhq/ember-core/config"
	"github.com/emberhq/ember-core/internal/storage"
	"github.com/emberhq/ember-core/internal/utxo"
	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/tx"
	"github.com/emberhq/ember-core/pkg/types"
)

// AcceptedBlockHandler is called after a block is committed, with the block's
// transactions. Used by the mempool to drop confirmed and conflicting entries.
type AcceptedBlockHandler func(txs []*tx.Transaction)

// RevertedTxHandler is called after RevertTip with the non-coinbase
// transactions of the reverted block (for mempool re-insertion).
type RevertedTxHandler func(txs []*tx.Transaction)

// Chain represents a blockchain instance with state, storage, and validation.
type Chain struct {
	// procMu serializes ProcessBlock and RevertTip with each other and
	// orders their handler callbacks. Handlers run with procMu held but
	// the state lock released, so they may re-enter the chain's read
	// methods and take locks of their own (the mempool does both).
	procMu sync.Mutex

	mu       sync.RWMutex // State lock; connect/disconnect write, readers take RLock.
	state    *State
	blocks   *BlockStore
	utxos    *utxo.Store
	batcher  storage.Batcher
	verifier crypto.Verifier

	maxSupply   uint64     // Max coin supply (0 = unlimited).
	blockReward uint64     // Base block subsidy in base units.
	genesisHash types.Hash // Hash of the genesis block (immutable).

	acceptedBlockHandler AcceptedBlockHandler
	revertedTxHandler    RevertedTxHandler
}

// New creates a chain over the given database with an injected signature
// verifier. The UTXO store shares the database so that block data and UTXO
// diffs commit in a single batch.
func New(db storage.DB, verifier crypto.Verifier) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is nil")
	}
	batcher, ok := db.(storage.Batcher)
	if !ok {
		return nil, fmt.Errorf("storage does not support atomic batches")
	}

	blocks := NewBlockStore(db)

	// Recover state from the block store.
	tipHash, height, supply, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	var tipTimestamp uint64
	var genesisHash types.Hash
	if !tipHash.IsZero() {
		tipBlk, err := blocks.GetBlock(tipHash)
		if err != nil {
			return nil, fmt.Errorf("load tip block: %w", err)
		}
		tipTimestamp = tipBlk.Header.Timestamp

		genBlk, err := blocks.GetBlockByHeight(0)
		if err != nil {
			return nil, fmt.Errorf("load genesis block: %w", err)
		}
		genesisHash = genBlk.Hash()
	}

	return &Chain{
		state:       &State{TipHash: tipHash, Height: height, Supply: supply, TipTimestamp: tipTimestamp},
		blocks:      blocks,
		utxos:       utxo.NewStore(db),
		batcher:     batcher,
		verifier:    verifier,
		genesisHash: genesisHash,
	}, nil
}

// InitFromGenesis initializes a fresh chain from genesis configuration.
// Returns an error if the chain already has blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}

	// Genesis bypasses the validation pipeline: its coinbase mints the
	// allocations, not the subsidy, and it has no parent to link to.
	batch := c.batcher.NewBatch()

	view := utxo.NewView(c.utxos)
	if err := applyTransactions(view, blk); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if err := view.Flush(batch); err != nil {
		return fmt.Errorf("flush genesis: %w", err)
	}

	if err := c.blocks.PutBlockToBatch(batch, blk); err != nil {
		return fmt.Errorf("store genesis: %w", err)
	}

	// Initial supply is the sum of genesis allocations.
	var supply uint64
	for _, v := range gen.Alloc {
		supply += v
	}

	hash := blk.Hash()
	if err := c.blocks.SetTipToBatch(batch, hash, 0, supply); err != nil {
		return fmt.Errorf("set genesis tip: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	c.state.TipHash = hash
	c.state.Height = 0
	c.state.Supply = supply
	c.state.TipTimestamp = blk.Header.Timestamp
	c.genesisHash = hash
	c.maxSupply = gen.MaxSupply
	c.blockReward = gen.BlockReward

	return nil
}

// SetEconomicRules configures the subsidy and supply cap for runtime
// validation. Call this on startup when resuming an existing chain.
func (c *Chain) SetEconomicRules(blockReward, maxSupply uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockReward = blockReward
	c.maxSupply = maxSupply
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.state
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TipHash
}

// Supply returns the total coins in circulation.
func (c *Chain) Supply() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Supply
}

// GenesisHash returns the hash of the genesis block.
func (c *Chain) GenesisHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.genesisHash
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks.GetBlockByHeight(height)
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

// GetUTXO returns a UTXO from the confirmed set.
func (c *Chain) GetUTXO(outpoint types.Outpoint) (*utxo.UTXO, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.utxos.Get(outpoint)
}

// BalanceOf returns the confirmed balance of an address.
func (c *Chain) BalanceOf(addr types.Address) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.utxos.BalanceOf(addr)
}

// UTXOCommitment computes a merkle commitment over the confirmed UTXO set.
func (c *Chain) UTXOCommitment() (types.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return utxo.Commitment(c.utxos)
}

// SetAcceptedBlockHandler sets the callback invoked after each committed
// block. The handler runs outside the state lock, so it may call back into
// the chain's read methods.
func (c *Chain) SetAcceptedBlockHandler(fn AcceptedBlockHandler) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.acceptedBlockHandler = fn
}

// SetRevertedTxHandler sets the callback for transactions reverted by RevertTip.
// These transactions should be re-added to the mempool if they are still valid;
// the handler runs outside the state lock, so it may call back into the chain.
func (c *Chain) SetRevertedTxHandler(fn RevertedTxHandler) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	c.revertedTxHandler = fn
}

// UTXOProvider returns a tx.UTXOProvider over the confirmed UTXO set.
// Each call takes the chain read lock, so callers (the mempool) always see
// a fully committed view.
func (c *Chain) UTXOProvider() tx.UTXOProvider {
	return &lockedUTXOProvider{c: c}
}

// UTXOSet returns the confirmed UTXO set with per-call read locking.
// Used by the mempool for coinbase maturity checks.
func (c *Chain) UTXOSet() utxo.Set {
	return &lockedUTXOSet{c: c}
}

type lockedUTXOProvider struct {
	c *Chain
}

func (p *lockedUTXOProvider) GetUTXO(outpoint types.Outpoint) (uint64, types.Script, error) {
	p.c.mu.RLock()
	defer p.c.mu.RUnlock()
	u, err := p.c.utxos.Get(outpoint)
	if err != nil {
		return 0, types.Script{}, err
	}
	return u.Value, u.Script, nil
}

func (p *lockedUTXOProvider) HasUTXO(outpoint types.Outpoint) bool {
	p.c.mu.RLock()
	defer p.c.mu.RUnlock()
	has, err := p.c.utxos.Has(outpoint)
	return err == nil && has
}

type lockedUTXOSet struct {
	c *Chain
}

func (s *lockedUTXOSet) Get(outpoint types.Outpoint) (*utxo.UTXO, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.utxos.Get(outpoint)
}

func (s *lockedUTXOSet) Put(u *utxo.UTXO) error {
	return fmt.Errorf("utxo set is read-only outside the chain")
}

func (s *lockedUTXOSet) Delete(outpoint types.Outpoint) error {
	return fmt.Errorf("utxo set is read-only outside the chain")
}

func (s *lockedUTXOSet) Has(outpoint types.Outpoint) (bool, error) {
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.utxos.Has(outpoint)
}
