// Command escrowctl drives an escrow listing against a running node.
//
// Usage:
//
//	escrowctl <command> [flags]
//
// Keystores are unlocked with the password in NFTESCROW_PASSWORD.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/tolelom/nftescrow/config"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/internal/logging"
	"github.com/tolelom/nftescrow/marketplace"
	"github.com/tolelom/nftescrow/rpc"
	"github.com/tolelom/nftescrow/txbuilder"
	"github.com/tolelom/nftescrow/wallet"
)

// env carries the flags every command shares.
type env struct {
	fs       *flag.FlagSet
	cfgPath  *string
	endpoint *string
	token    *string
	keyPath  *string
	appID    *uint64
	assetID  *uint64

	cfg    *config.Config
	client *rpc.Client
	gw     *gateway.Gateway
	b      *txbuilder.Builder
}

type command struct {
	usage string
	flags func(e *env)
	run   func(ctx context.Context, e *env) (any, error)
}

func newEnv(name string) *env {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &env{
		fs:       fs,
		cfgPath:  fs.String("config", "config.toml", "path to config file"),
		endpoint: fs.String("rpc", "http://127.0.0.1:8545", "node JSON-RPC endpoint"),
		token:    fs.String("token", os.Getenv("NFTESCROW_RPC_TOKEN"), "RPC bearer token"),
		keyPath:  fs.String("key", "", "keystore of the signing account"),
		appID:    fs.Uint64("app", 0, "escrow application id"),
		assetID:  fs.Uint64("asset", 0, "governed asset id"),
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	e := newEnv(name)
	if cmd.flags != nil {
		cmd.flags(e)
	}
	_ = e.fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := e.exec(ctx, cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
}

func (e *env) exec(ctx context.Context, cmd command) (any, error) {
	cfg, err := config.Load(*e.cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	e.cfg = cfg

	logger, closer, err := logging.Setup("escrowctl", cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	e.client = rpc.NewClient(*e.endpoint, rpc.WithAuthToken(*e.token))
	e.gw = gateway.New(e.client, cfg.Marketplace.Gateway, logger)
	e.b = txbuilder.New(txbuilder.Params{ChainID: cfg.Genesis.ChainID, Fee: cfg.Marketplace.Fee})
	return cmd.run(ctx, e)
}

// signer unlocks the keystore named by -key.
func (e *env) signer() (*wallet.Wallet, error) {
	if *e.keyPath == "" {
		return nil, errors.New("-key is required")
	}
	return wallet.Load(*e.keyPath, keystorePassword())
}

// market returns an orchestrator for -asset, attached to -app when set.
func (e *env) market(admin gateway.Signer) (*marketplace.Marketplace, error) {
	if *e.assetID == 0 {
		return nil, errors.New("-asset is required")
	}
	m := marketplace.New(e.gw, e.client, e.b, admin, *e.assetID, e.cfg.Marketplace, nil)
	if *e.appID != 0 {
		m.Attach(*e.appID)
	}
	return m, nil
}

// withSigner builds the orchestrator with the -key account as signer and
// admin and runs fn.
func withSigner(fn func(context.Context, *marketplace.Marketplace, *wallet.Wallet) (marketplace.Receipt, error)) func(context.Context, *env) (any, error) {
	return func(ctx context.Context, e *env) (any, error) {
		w, err := e.signer()
		if err != nil {
			return nil, err
		}
		m, err := e.market(w)
		if err != nil {
			return nil, err
		}
		r, err := fn(ctx, m, w)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

func keystorePassword() string { return os.Getenv("NFTESCROW_PASSWORD") }

func parseAddress(name, s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, fmt.Errorf("-%s is required", name)
	}
	a, err := crypto.DecodeAddress(s)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("-%s: %w", name, err)
	}
	return a, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: escrowctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %s%s  %s\n", n, strings.Repeat(" ", width-len(n)), commands[n].usage)
	}
	fmt.Fprintln(os.Stderr, "\nrun 'escrowctl <command> -h' for the flags of a command")
}
