// sparqd runs a chain node: it restores the persisted chain and state,
// serves the gossip endpoint, and hands the consensus surface to the
// engine until interrupted.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sparqnet/go-sparq/core/vm"
	"github.com/sparqnet/go-sparq/db"
	"github.com/sparqnet/go-sparq/log"
	"github.com/sparqnet/go-sparq/node"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "path to the node config file")
		verbosity  = flag.String("verbosity", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log.SetDefault(log.New(parseLevel(*verbosity)))
	logger := log.Default().Module("sparqd")

	cfg, err := node.LoadConfig(*configPath)
	if err != nil {
		logger.Warn("config not loaded, using defaults", "path", *configPath, "err", err)
		cfg = node.DefaultConfig()
	}

	store, err := db.OpenLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sparqd: %v\n", err)
		os.Exit(1)
	}

	n := node.New(cfg, store, vm.NoopVM{})
	latest, err := n.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sparqd: initialize: %v\n", err)
		os.Exit(1)
	}
	logger.Info("node running", "height", latest.Height, "block", latest.ID, "p2pPort", cfg.P2PPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if err := n.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "sparqd: shutdown: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
