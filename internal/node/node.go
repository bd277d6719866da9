// Package node wires storage, chain, and mempool into a runnable daemon.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberhq/ember-core/config"
	"github.com/emberhq/ember-core/internal/chain"
	elog "github.com/emberhq/ember-core/internal/log"
	"github.com/emberhq/ember-core/internal/mempool"
	"github.com/emberhq/ember-core/internal/storage"
	"github.com/emberhq/ember-core/pkg/crypto"
	"github.com/emberhq/ember-core/pkg/tx"
)

// evictionInterval is how often the mempool expiry sweep runs.
const evictionInterval = time.Minute

// Node holds the assembled components of a running daemon.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	db      storage.DB
	chain   *chain.Chain
	pool    *mempool.Pool
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node: logger, storage, genesis, chain, and
// mempool. Background goroutines start with Start().
func New(cfg *config.Config) (*Node, error) {
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := filepath.Join(cfg.DataDir, "logs")
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "ember.log")
	}
	if err := elog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := elog.WithComponent("node")

	genesis := config.DefaultGenesis()
	if cfg.GenesisFile != "" {
		var err error
		genesis, err = config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return nil, fmt.Errorf("load genesis %s: %w", cfg.GenesisFile, err)
		}
	}

	logger.Info().
		Str("chain", genesis.ChainName).
		Str("symbol", genesis.Symbol).
		Msg("Starting Ember node")

	chainDir := filepath.Join(cfg.DataDir, "chaindata")
	db, err := storage.NewBadger(chainDir)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", chainDir, err)
	}
	logger.Info().Str("path", chainDir).Msg("Database opened")

	ch, err := chain.New(db, crypto.SchnorrVerifier{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	ch.SetEconomicRules(genesis.BlockReward, genesis.MaxSupply)

	state := ch.State()
	if state.IsGenesis() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			db.Close()
			return nil, fmt.Errorf("init from genesis: %w", err)
		}
		logger.Info().
			Stringer("genesis", ch.GenesisHash()).
			Msg("Chain initialized from genesis")
	} else {
		logger.Info().
			Uint64("height", ch.Height()).
			Str("tip", ch.TipHash().String()[:16]+"...").
			Uint64("supply", ch.Supply()).
			Msg("Chain resumed from database")
	}

	pool := mempool.New(ch.UTXOProvider(), crypto.SchnorrVerifier{}, cfg.Mempool.MaxSize)
	pool.SetMinFeeRate(cfg.Mempool.MinFeeRate)
	pool.SetCoinbaseMaturity(config.CoinbaseMaturity, ch.Height, ch.UTXOSet())

	// Confirmed and conflicting entries leave the pool on every accepted
	// block; reverted transactions get a second chance at admission.
	ch.SetAcceptedBlockHandler(pool.RemoveConfirmed)
	ch.SetRevertedTxHandler(func(txs []*tx.Transaction) {
		for _, t := range txs {
			if _, err := pool.Add(t); err != nil {
				elog.Mempool.Debug().
					Stringer("tx", t.Hash()).
					Err(err).
					Msg("reverted tx not re-admitted")
			}
		}
	})

	logger.Info().
		Uint64("min_fee_rate", cfg.Mempool.MinFeeRate).
		Int("max_size", cfg.Mempool.MaxSize).
		Msg("Mempool ready")

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:     cfg,
		genesis: genesis,
		db:      db,
		chain:   ch,
		pool:    pool,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Chain returns the node's chain instance.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Pool returns the node's mempool.
func (n *Node) Pool() *mempool.Pool {
	return n.pool
}

// Start launches background maintenance goroutines.
func (n *Node) Start() error {
	n.wg.Add(1)
	go n.runEvictionLoop()
	return nil
}

// Stop shuts down background goroutines and closes storage.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	if err := n.db.Close(); err != nil {
		n.logger.Error().Err(err).Msg("close database")
	}
	n.logger.Info().
		Uint64("height", n.chain.Height()).
		Msg("Node stopped")
}

// runEvictionLoop sweeps expired mempool entries periodically.
func (n *Node) runEvictionLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if removed := n.pool.EvictExpired(n.cfg.Mempool.MaxAge); removed > 0 {
				elog.Mempool.Debug().Int("removed", removed).Msg("expired entries evicted")
			}
		}
	}
}
