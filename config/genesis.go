package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// 1 coin = 10^8 base units. All on-chain values are in base units.
const (
	Decimals = 8
	Coin     = 100_000_000 // 10^8 base units per coin
)

// CoinbaseMaturity is the number of blocks a coinbase output must wait
// before it can be spent. Prevents issues during reorgs.
const CoinbaseMaturity uint64 = 20

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size (header + all tx signing bytes)
	MaxBlockTxs   = 500       // Max transactions per block (including coinbase)
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max script data per output
)

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"`

	// Genesis block.
	Timestamp uint64 `json:"timestamp"`

	// Initial coin allocations: hex address -> base units.
	Alloc map[string]uint64 `json:"alloc,omitempty"`

	// Emission rules.
	BlockReward uint64 `json:"block_reward"`          // Base subsidy per block.
	MaxSupply   uint64 `json:"max_supply,omitempty"`  // 0 = unlimited.
}

// DefaultGenesis returns the built-in development genesis.
func DefaultGenesis() *Genesis {
	return &Genesis{
		ChainName:   "ember-dev",
		Symbol:      "EMB",
		Timestamp:   1735689600, // 2025-01-01T00:00:00Z
		BlockReward: 50 * Coin,
		MaxSupply:   21_000_000 * Coin,
	}
}

// LoadGenesis reads a genesis configuration from a JSON file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	var gen Genesis
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	return &gen, nil
}

// Validate checks the genesis configuration for obvious mistakes.
func (g *Genesis) Validate() error {
	if g.ChainName == "" {
		return fmt.Errorf("genesis chain_name is empty")
	}
	if g.Timestamp == 0 {
		return fmt.Errorf("genesis timestamp is zero")
	}
	var allocTotal uint64
	for addr, value := range g.Alloc {
		if len(addr) != 40 {
			return fmt.Errorf("alloc address %q is not 20 hex bytes", addr)
		}
		allocTotal += value
	}
	if g.MaxSupply > 0 && allocTotal > g.MaxSupply {
		return fmt.Errorf("genesis alloc %d exceeds max supply %d", allocTotal, g.MaxSupply)
	}
	return nil
}
