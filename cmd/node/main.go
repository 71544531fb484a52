// Command node starts a single-validator escrow ledger node.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tolelom/nftescrow/config"
	"github.com/tolelom/nftescrow/internal/logging"
	"github.com/tolelom/nftescrow/node"
	"github.com/tolelom/nftescrow/rpc"
	"github.com/tolelom/nftescrow/storage"
	"github.com/tolelom/nftescrow/wallet"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	writeConfig := flag.Bool("writeconfig", false, "write the default config to -config and exit")
	flag.Parse()

	// Read keystore password from environment (not CLI flags; they leak via ps).
	password := os.Getenv("NFTESCROW_PASSWORD")

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			fatal(err)
		}
		fmt.Printf("Generated key. Validator address: %s\n", w.Address())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}
	if *writeConfig {
		if err := config.Save(config.DefaultConfig(), *cfgPath); err != nil {
			fatal(err)
		}
		fmt.Printf("Default config written to %s\n", *cfgPath)
		return
	}

	if err := run(*cfgPath, *keyPath, password); err != nil {
		fatal(err)
	}
}

func run(cfgPath, keyPath, password string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, closer, err := logging.Setup("nftescrow-node", cfg.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()
	if password == "" {
		logger.Warn("NFTESCROW_PASSWORD not set; keystore uses an empty password")
	}

	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	n, err := node.New(cfg, db, privKey, logger)
	if err != nil {
		return err
	}

	srv := rpc.NewServer(rpc.ServerConfig{
		Addr:      cfg.RPC.Address,
		AuthToken: cfg.RPC.AuthToken,
		RateLimit: cfg.RPC.RateLimit,
		RateBurst: cfg.RPC.RateBurst,
	}, rpc.NewHandler(n), logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	logger.Info("rpc listening", "addr", srv.Addr(), "auth", cfg.RPC.AuthToken != "")

	n.Start()
	logger.Info("node running", "node_id", cfg.NodeID, "chain_id", cfg.Genesis.ChainID,
		"validator", privKey.Public().Address().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	// Stop the RPC server first so no new groups arrive, then block production.
	if err := srv.Stop(); err != nil {
		logger.Warn("rpc stop", "err", err)
	}
	n.Stop()
	logger.Info("shutdown complete")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
