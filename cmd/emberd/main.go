// Ember core daemon.
//
// Usage:
//
//	emberd [-datadir=... -config=... -genesis=...]  Run node
//	emberd -init                                    Initialize chain and exit
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/emberhq/ember-core/config"
	"github.com/emberhq/ember-core/internal/node"
)

func main() {
	cfg := config.Default()

	var (
		dataDir    = flag.String("datadir", cfg.DataDir, "data directory")
		configFile = flag.String("config", "", "path to config file")
		genesis    = flag.String("genesis", "", "path to genesis JSON (default: built-in dev genesis)")
		initOnly   = flag.Bool("init", false, "initialize the chain and exit")
	)
	flag.Parse()

	if *configFile != "" {
		values, err := config.LoadFile(*configFile)
		if err != nil {
			fatal(err)
		}
		if err := config.ApplyFileConfig(cfg, values); err != nil {
			fatal(err)
		}
	}

	// Flags override file settings.
	if *dataDir != config.DefaultDataDir() {
		cfg.DataDir = *dataDir
	}
	if *genesis != "" {
		cfg.GenesisFile = *genesis
	}

	n, err := node.New(cfg)
	if err != nil {
		fatal(err)
	}

	if *initOnly {
		n.Stop()
		return
	}

	if err := n.Start(); err != nil {
		n.Stop()
		fatal(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
