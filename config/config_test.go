package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/wallet"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.BlockInterval = 250 * time.Millisecond
	cfg.Validators = []string{w.Address().String()}
	cfg.Genesis.Alloc[w.Address().String()] = 42
	cfg.RPC.AuthToken = "secret"

	path := filepath.Join(t.TempDir(), "node", "config.toml")
	require.NoError(t, Save(cfg, path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("node_id = \"n1\"\nrpc_port = 8080\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key rpc_port")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Genesis.ChainID = ""
	cfg.Validators = []string{"not-an-address"}
	cfg.Marketplace.Fee = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "genesis.chain_id is empty")
	assert.ErrorContains(t, err, "validator \"not-an-address\"")
	assert.ErrorContains(t, err, "marketplace.fee 0 below")
}
