// Package node assembles a single ledger node: state, chain, pending pool,
// executor, block producer and indexer. A Node serves the gateway directly
// in-process and backs the JSON-RPC server.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tolelom/nftescrow/config"
	"github.com/tolelom/nftescrow/consensus"
	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/indexer"
	"github.com/tolelom/nftescrow/metrics"
	"github.com/tolelom/nftescrow/storage"
	"github.com/tolelom/nftescrow/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/nftescrow/escrow"
	_ "github.com/tolelom/nftescrow/vm/modules/application"
	_ "github.com/tolelom/nftescrow/vm/modules/asset"
	_ "github.com/tolelom/nftescrow/vm/modules/economy"
)

// Node is a running ledger.
type Node struct {
	cfg     *config.Config
	state   *storage.StateDB
	bc      *core.Blockchain
	mempool *core.Mempool
	emitter *events.Emitter
	idx     *indexer.Indexer
	poa     *consensus.PoA
	logger  *slog.Logger

	// admit serialises the duplicate check with pool admission.
	admit sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the ledger stored in db, writing the genesis block if the chain
// is fresh. key is the validator key blocks are signed with.
func New(cfg *config.Config, db storage.DB, key crypto.PrivateKey, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "node")

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return nil, fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, key)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return nil, fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis block committed", "hash", genesis.Hash, "chain_id", cfg.Genesis.ChainID)
	}

	emitter := events.NewEmitter()
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter, cfg.Params)
	n := &Node{
		cfg:     cfg,
		state:   state,
		bc:      bc,
		mempool: mempool,
		emitter: emitter,
		idx:     indexer.New(db, emitter),
		poa:     consensus.New(cfg, bc, state, mempool, exec, emitter, key, logger),
		logger:  logger,
	}
	return n, nil
}

// Start launches block production.
func (n *Node) Start() {
	n.done = make(chan struct{})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.poa.Run(n.cfg.BlockInterval, n.done)
	}()
	n.logger.Info("block production started", "interval", n.cfg.BlockInterval)
}

// Stop halts block production and waits for the current block to finish.
func (n *Node) Stop() {
	if n.done == nil {
		return
	}
	close(n.done)
	n.wg.Wait()
	n.done = nil
}

// ChainID returns the chain id transactions must carry.
func (n *Node) ChainID() string { return n.cfg.Genesis.ChainID }

// Events returns the node's event broker.
func (n *Node) Events() *events.Emitter { return n.emitter }

// Indexer returns the node's lookup tables.
func (n *Node) Indexer() *indexer.Indexer { return n.idx }

// ProduceBlock seals pending groups immediately.
func (n *Node) ProduceBlock() (*core.Block, error) { return n.poa.ProduceBlock() }

// SendGroup admits a signed group to the pool.
func (n *Node) SendGroup(_ context.Context, txs []*core.Transaction) (string, error) {
	if len(txs) == 0 {
		return "", &gateway.RejectedError{Reason: "empty group"}
	}
	for i, tx := range txs {
		if tx.ChainID != n.cfg.Genesis.ChainID {
			return "", &gateway.RejectedError{TxID: txs[0].ID, Reason: fmt.Sprintf("tx %d: chain id %q, want %q", i, tx.ChainID, n.cfg.Genesis.ChainID)}
		}
	}

	n.admit.Lock()
	defer n.admit.Unlock()
	if r, err := n.idx.Receipt(txs[0].ID); err == nil && r.State != core.TxPending {
		return "", core.ErrDuplicateGroup
	}
	key, err := n.mempool.Add(txs)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateGroup) {
			return "", err
		}
		return "", &gateway.RejectedError{TxID: txs[0].ID, Reason: err.Error()}
	}
	if err := n.idx.RecordPending(txs); err != nil {
		n.logger.Warn("record pending", "group", key, "err", err)
	}
	metrics.Ledger().SetMempoolSize(n.mempool.Size())
	return key, nil
}

// Receipt returns the status of txID.
func (n *Node) Receipt(_ context.Context, txID string) (*core.Receipt, error) {
	return n.idx.Receipt(txID)
}

// Group returns the members of the group that confirmed txID, in order.
func (n *Node) Group(ctx context.Context, txID string) ([]*core.Transaction, error) {
	r, err := n.Receipt(ctx, txID)
	if err != nil {
		return nil, err
	}
	if r.State != core.TxConfirmed {
		return nil, fmt.Errorf("tx %s is %s: %w", txID, r.State, core.ErrNotFound)
	}
	return n.bc.ConfirmedGroup(r.ConfirmedRound, txID)
}

// Account returns the account at addr. Unknown accounts are empty.
func (n *Node) Account(_ context.Context, addr crypto.Address) (*core.Account, error) {
	var acc *core.Account
	err := n.poa.View(func(s core.State) error {
		var err error
		acc, err = s.GetAccount(addr)
		return err
	})
	return acc, err
}

// Asset returns asset id, or core.ErrNotFound.
func (n *Node) Asset(_ context.Context, id uint64) (*core.Asset, error) {
	var asset *core.Asset
	err := n.poa.View(func(s core.State) error {
		var err error
		asset, err = s.GetAsset(id)
		return err
	})
	return asset, err
}

// Application returns application id, or core.ErrNotFound.
func (n *Node) Application(_ context.Context, id uint64) (*core.Application, error) {
	var app *core.Application
	err := n.poa.View(func(s core.State) error {
		var err error
		app, err = s.GetApplication(id)
		return err
	})
	return app, err
}

// Height returns the height of the chain tip.
func (n *Node) Height() int64 { return n.bc.Height() }

// Block returns the block at height.
func (n *Node) Block(height int64) (*core.Block, error) { return n.bc.GetBlockByHeight(height) }
