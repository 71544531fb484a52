package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/internal/logging"
	"github.com/tolelom/nftescrow/marketplace"
	"github.com/tolelom/nftescrow/vm"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `toml:"chain_id"`
	Alloc   map[string]uint64 `toml:"alloc"` // bech32 address → initial balance
}

// RPCConfig controls the JSON-RPC listener.
type RPCConfig struct {
	Address   string  `toml:"address"`
	AuthToken string  `toml:"auth_token"` // empty → no auth required
	RateLimit float64 `toml:"rate_limit"` // requests per second per client; 0 disables
	RateBurst int     `toml:"rate_burst"`
}

// Config holds all node and client configuration.
type Config struct {
	NodeID         string             `toml:"node_id"`
	DataDir        string             `toml:"data_dir"`
	BlockInterval  time.Duration      `toml:"block_interval"`
	MaxBlockGroups int                `toml:"max_block_groups"` // 0 → 500
	Validators     []string           `toml:"validators"`       // authorised proposer addresses
	RPC            RPCConfig          `toml:"rpc"`
	Log            logging.Config     `toml:"log"`
	Params         vm.Params          `toml:"params"`
	Genesis        GenesisConfig      `toml:"genesis"`
	Marketplace    marketplace.Policy `toml:"marketplace"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:         "node0",
		DataDir:        "./data",
		BlockInterval:  time.Second,
		MaxBlockGroups: 500,
		RPC: RPCConfig{
			Address:   ":8545",
			RateLimit: 50,
			RateBurst: 100,
		},
		Log:    logging.DefaultConfig(),
		Params: vm.DefaultParams(),
		Genesis: GenesisConfig{
			ChainID: "nftescrow-dev",
			Alloc:   map[string]uint64{},
		},
		Marketplace: marketplace.DefaultPolicy(),
	}
}

// Load reads a TOML config file from path over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks addresses and limits that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Genesis.ChainID == "" {
		errs = append(errs, errors.New("genesis.chain_id is empty"))
	}
	for _, v := range c.Validators {
		if _, err := crypto.DecodeAddress(v); err != nil {
			errs = append(errs, fmt.Errorf("validator %q: %w", v, err))
		}
	}
	for addr := range c.Genesis.Alloc {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			errs = append(errs, fmt.Errorf("genesis alloc %q: %w", addr, err))
		}
	}
	if c.Params.MinFee == 0 {
		errs = append(errs, errors.New("params.min_fee must be positive"))
	}
	if c.Marketplace.Fee < c.Params.MinFee {
		errs = append(errs, fmt.Errorf("marketplace.fee %d below params.min_fee %d", c.Marketplace.Fee, c.Params.MinFee))
	}
	return errors.Join(errs...)
}
