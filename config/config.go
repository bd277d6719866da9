// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	DataDir     string
	GenesisFile string // Path to genesis JSON ("" = built-in dev genesis).

	Mempool MempoolConfig
	Log     LogConfig
}

// MempoolConfig holds mempool admission and eviction policy.
// Both eviction policies are explicit configuration: capacity pressure
// removes lowest fee-rate entries first, and entries older than MaxAge
// expire on the next sweep.
type MempoolConfig struct {
	MaxSize    int           // Max number of staged transactions.
	MinFeeRate uint64        // Min fee rate in base units per byte (0 = none).
	MaxAge     time.Duration // Max entry age before expiry (0 = never).
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string // debug, info, warn, error
	JSON  bool   // JSON output instead of colored console
	File  string // Optional log file path
}

// DefaultDataDir returns the platform default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ember"
	}
	return filepath.Join(home, ".ember")
}

// Default returns the default node configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Mempool: MempoolConfig{
			MaxSize:    5000,
			MinFeeRate: 1,
			MaxAge:     2 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
