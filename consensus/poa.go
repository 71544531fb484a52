// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block carries the
// groups that committed during its execution and is signed by the proposer.
package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tolelom/nftescrow/config"
	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/metrics"
	"github.com/tolelom/nftescrow/vm"
)

// ErrNothingToSeal is returned by ProduceBlock when no pending group
// committed, so no block was written.
var ErrNothingToSeal = errors.New("no committed groups to seal")

// ErrNotProposer is returned by ProduceBlock when another validator owns
// the next height.
var ErrNotProposer = errors.New("not the proposer for this round")

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	// mu serialises block production against state readers.
	mu sync.RWMutex

	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	address crypto.Address
	logger  *slog.Logger
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	logger *slog.Logger,
) *PoA {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		address: privKey.Public().Address(),
		logger:  logger.With("component", "consensus"),
	}
}

// IsProposer reports whether this node should propose the next block. A
// node with no configured validators proposes every block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return true
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.address.String()
}

// View runs fn with shared access to the state while no block is being
// produced.
func (p *PoA) View(fn func(core.State) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(p.state)
}

// ProduceBlock executes pending groups in arrival order, seals the ones that
// committed into the next block, signs it and commits it. Rejected groups
// leave the pool with their rejection receipts and no state change.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := p.cfg.MaxBlockGroups
	if limit <= 0 {
		limit = 500
	}
	groups := p.mempool.Pending(limit)
	if len(groups) == 0 {
		return nil, ErrNothingToSeal
	}

	tip := p.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}
	block := core.NewBlock(nextHeight, prevHash, p.address.String())

	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, core.GroupKey(g))
		if _, err := p.exec.ExecuteGroup(block, g); err != nil {
			if !errors.Is(err, vm.ErrGroupAborted) {
				return nil, fmt.Errorf("execute group %s: %w", core.GroupKey(g), err)
			}
			metrics.Ledger().ObserveGroup(false)
			p.logger.Info("group rejected", "group", core.GroupKey(g), "height", nextHeight, "reason", err)
			continue
		}
		metrics.Ledger().ObserveGroup(true)
		block.Groups = append(block.Groups, g)
	}
	defer func() {
		p.mempool.Remove(keys)
		metrics.Ledger().SetMempoolSize(p.mempool.Size())
	}()
	if len(block.Groups) == 0 {
		return nil, ErrNothingToSeal
	}

	block.Header.TxRoot = core.ComputeTxRoot(block.Groups)
	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		return nil, fmt.Errorf("add block: %w", err)
	}
	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		return nil, fmt.Errorf("block %d stored but state commit failed: %w", block.Header.Height, err)
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "groups": len(block.Groups), "txs": block.TxCount()},
	})
	metrics.Ledger().ObserveBlock(block.Header.Height, block.TxCount())
	return block, nil
}

// ValidateBlock checks that block was proposed by the expected validator
// and links to the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) > 0 {
		idx := int(block.Header.Height) % len(p.cfg.Validators)
		expected := p.cfg.Validators[idx]
		if block.Header.Proposer != expected {
			return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
		}
	}

	proposer, err := crypto.DecodeAddress(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer address: %w", err)
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(proposer.PublicKey()); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Groups) {
		return errors.New("tx root mismatch")
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// Run starts the block-production loop. A block is attempted on every tick
// and whenever a group enters the pool. It blocks until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		case <-p.mempool.Notify():
		}
		if !p.IsProposer() {
			continue
		}
		if _, err := p.ProduceBlock(); err != nil && !errors.Is(err, ErrNothingToSeal) {
			p.logger.Error("produce block", "err", err)
		}
	}
}
