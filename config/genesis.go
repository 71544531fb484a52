package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CreateGenesisBlock builds and signs block #0 from the config's Alloc map.
// It also sets initial account balances in state and commits.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for a := range cfg.Genesis.Alloc {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	for _, s := range addrs {
		addr, err := crypto.DecodeAddress(s)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", s, err)
		}
		acc, err := state.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		acc.Balance = cfg.Genesis.Alloc[s]
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Address().String())
	block.Header.StateRoot = stateRoot
	// The chain id is bound into the genesis hash through TxRoot.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
