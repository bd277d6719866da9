package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/emberhq/ember-core/internal/storage"
	"github.com/emberhq/ember-core/pkg/block"
	"github.com/emberhq/ember-core/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx     = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)
	prefixUndo   = []byte("d/") // d/<hash(32)> -> undo data JSON
	keyTipHash   = []byte("s/tip")
	keyHeight    = []byte("s/height")
	keySupply    = []byte("s/supply")
)

// blockCacheSize bounds the in-memory block cache. Recent blocks are read
// repeatedly (parent lookups, tx lookups), old ones almost never.
const blockCacheSize = 256

// BlockStore persists blocks and chain metadata to a storage.DB.
type BlockStore struct {
	db    storage.DB
	cache *lru.Cache // types.Hash -> *block.Block
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	cache, _ := lru.New(blockCacheSize) // Only errors on size <= 0.
	return &BlockStore{db: db, cache: cache}
}

// PutBlockToBatch stages a block and its height and tx indexes into a
// storage batch. The cache is updated immediately: the batch commits
// while the chain write lock is held, so no reader can observe the
// cached block before it lands.
func (bs *BlockStore) PutBlockToBatch(batch storage.Batch, blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}

	hash := blk.Hash()
	if err := batch.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}

	if err := batch.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}

	// Index each transaction by hash → (height, blockHash).
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := batch.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}

	bs.cache.Add(hash, blk)
	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	if cached, ok := bs.cache.Get(hash); ok {
		return cached.(*block.Block), nil
	}
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	bs.cache.Add(hash, &blk)
	return &blk, nil
}

// GetBlockByHeight retrieves a block by its height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	if bs.cache.Contains(hash) {
		return true, nil
	}
	return bs.db.Has(blockKey(hash))
}

// SetTipToBatch stages the chain tip hash, height, and supply into a batch.
func (bs *BlockStore) SetTipToBatch(batch storage.Batch, hash types.Hash, height, supply uint64) error {
	if err := batch.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	var heightBuf, supplyBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	if err := batch.Put(keyHeight, heightBuf[:]); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	binary.BigEndian.PutUint64(supplyBuf[:], supply)
	if err := batch.Put(keySupply, supplyBuf[:]); err != nil {
		return fmt.Errorf("set supply: %w", err)
	}
	return nil
}

// GetTip returns the current chain tip hash, height, and supply.
// Returns zero values if no tip is set (fresh chain). Any other storage
// failure propagates: a read error here must not look like an empty chain.
func (bs *BlockStore) GetTip() (types.Hash, uint64, uint64, error) {
	hashBytes, err := bs.db.Get(keyTipHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.Hash{}, 0, 0, nil // No tip yet.
		}
		return types.Hash{}, 0, 0, fmt.Errorf("get tip hash: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, 0, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}

	// Height and supply are written in the same batch as the tip hash, so
	// once a tip exists they must both be present and well-formed.
	heightBytes, err := bs.db.Get(keyHeight)
	if err != nil {
		return types.Hash{}, 0, 0, fmt.Errorf("tip height missing: %w", err)
	}
	if len(heightBytes) != 8 {
		return types.Hash{}, 0, 0, fmt.Errorf("corrupt tip height: got %d bytes", len(heightBytes))
	}

	supplyBytes, err := bs.db.Get(keySupply)
	if err != nil {
		return types.Hash{}, 0, 0, fmt.Errorf("supply missing: %w", err)
	}
	if len(supplyBytes) != 8 {
		return types.Hash{}, 0, 0, fmt.Errorf("corrupt supply: got %d bytes", len(supplyBytes))
	}

	var hash types.Hash
	copy(hash[:], hashBytes)
	height := binary.BigEndian.Uint64(heightBytes)
	supply := binary.BigEndian.Uint64(supplyBytes)
	return hash, height, supply, nil
}

// GetTxLocation returns the block height and hash that contain the given transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 8+types.HashSize)
	}
	height := binary.BigEndian.Uint64(data[:8])
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return height, blockHash, nil
}

// PutUndoToBatch stages undo data for a block into a batch.
func (bs *BlockStore) PutUndoToBatch(batch storage.Batch, hash types.Hash, data []byte) error {
	if err := batch.Put(undoKey(hash), data); err != nil {
		return fmt.Errorf("put undo: %w", err)
	}
	return nil
}

// GetUndo retrieves undo data for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) ([]byte, error) {
	data, err := bs.db.Get(undoKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get undo: %w", err)
	}
	return data, nil
}

// RemoveBlockFromBatch stages removal of a block's indexes, undo data, and
// body when the tip is reverted. The cache entry goes immediately; the
// batch commits under the chain write lock.
func (bs *BlockStore) RemoveBlockFromBatch(batch storage.Batch, blk *block.Block) error {
	hash := blk.Hash()
	for _, t := range blk.Transactions {
		txHash := t.Hash()
		if err := batch.Delete(txKey(txHash)); err != nil {
			return fmt.Errorf("delete tx index %s: %w", txHash, err)
		}
	}
	if err := batch.Delete(heightKey(blk.Header.Height)); err != nil {
		return fmt.Errorf("delete height index: %w", err)
	}
	if err := batch.Delete(undoKey(hash)); err != nil {
		return fmt.Errorf("delete undo: %w", err)
	}
	if err := batch.Delete(blockKey(hash)); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	bs.cache.Remove(hash)
	return nil
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}
