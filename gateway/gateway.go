// Package gateway signs operation groups, submits them to a ledger and
// blocks until the ledger confirms or rejects them. It knows nothing about
// marketplace semantics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/metrics"
)

// Client is the ledger access the gateway needs. Both the in-process node
// and the JSON-RPC client implement it.
type Client interface {
	// SendGroup admits a signed group to the ledger's pending pool and
	// returns its key. A refusal to admit is reported as *RejectedError; a
	// group the ledger already holds or has executed as
	// core.ErrDuplicateGroup.
	SendGroup(ctx context.Context, txs []*core.Transaction) (string, error)
	// Receipt returns the status of a transaction, or core.ErrNotFound if
	// the ledger has never seen it.
	Receipt(ctx context.Context, txID string) (*core.Receipt, error)
	// Account returns the current account record.
	Account(ctx context.Context, addr crypto.Address) (*core.Account, error)
}

// Signer holds the credential of one account.
type Signer interface {
	Address() crypto.Address
	SignTransaction(tx *core.Transaction) error
}

// Config tunes confirmation polling and retries.
type Config struct {
	PollInterval time.Duration `toml:"poll_interval"`
	Timeout      time.Duration `toml:"timeout"`
	Retry        RetryConfig   `toml:"retry"`
}

// DefaultConfig returns settings suited to a local development ledger.
func DefaultConfig() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		Timeout:      30 * time.Second,
		Retry:        DefaultRetryConfig(),
	}
}

// Confirmation is the result of a committed group.
type Confirmation struct {
	// TxID is the id of the group's first operation.
	TxID     string
	GroupKey string
	Round    int64
	Receipts []*core.Receipt
}

// Gateway submits groups through a Client.
type Gateway struct {
	client Client
	cfg    Config
	retry  *retrier
	logger *slog.Logger
}

// New creates a Gateway.
func New(client Client, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Gateway{client: client, cfg: cfg, retry: newRetrier(cfg.Retry, logger), logger: logger}
}

// Client returns the underlying ledger client.
func (g *Gateway) Client() Client { return g.client }

// Submit assigns nonces, groups and signs txs with the signer matching each
// sender, sends them and waits for a terminal status. Cancelling ctx stops
// waiting but cannot withdraw a group the ledger already accepted.
func (g *Gateway) Submit(ctx context.Context, signers []Signer, txs ...*core.Transaction) (*Confirmation, error) {
	start := time.Now()
	conf, err := g.submit(ctx, signers, txs)
	outcome := "confirmed"
	var rej *RejectedError
	switch {
	case errors.As(err, &rej):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}
	metrics.Gateway().ObserveSubmission(outcome, time.Since(start))
	return conf, err
}

func (g *Gateway) submit(ctx context.Context, signers []Signer, txs []*core.Transaction) (*Confirmation, error) {
	if len(txs) == 0 {
		return nil, &SubmissionError{Op: "prepare", Err: errors.New("no operations")}
	}
	byAddr := make(map[crypto.Address]Signer, len(signers))
	for _, s := range signers {
		byAddr[s.Address()] = s
	}
	for i, tx := range txs {
		if _, ok := byAddr[tx.From]; !ok {
			return nil, &SubmissionError{Op: "sign", Err: fmt.Errorf("no signer for operation %d sender %s", i, tx.From)}
		}
	}

	prepared := false
	err := g.retry.do(ctx, func(attempt int) (bool, error) {
		if attempt > 1 {
			metrics.Gateway().IncRetry()
		}
		if !prepared {
			if err := g.prepare(ctx, byAddr, txs); err != nil {
				return retryable(err)
			}
			prepared = true
		}
		return retryable(g.send(ctx, txs))
	})
	if err != nil {
		return nil, err
	}
	g.logger.Debug("group sent", "tx", txs[0].ID, "size", len(txs))
	return g.await(ctx, txs)
}

func retryable(err error) (bool, error) {
	var sub *SubmissionError
	if errors.As(err, &sub) {
		return sub.Retryable, err
	}
	return false, err
}

// prepare assigns nonces from the ledger's current account records, then
// groups and signs txs. It runs once per Submit so every send attempt
// carries the identical signed group.
func (g *Gateway) prepare(ctx context.Context, signers map[crypto.Address]Signer, txs []*core.Transaction) error {
	next := make(map[crypto.Address]uint64)
	for _, tx := range txs {
		if _, ok := next[tx.From]; ok {
			continue
		}
		acc, err := g.client.Account(ctx, tx.From)
		if err != nil {
			return &SubmissionError{Op: "nonce", Retryable: ctx.Err() == nil, Err: err}
		}
		next[tx.From] = acc.Nonce
	}
	for _, tx := range txs {
		tx.Nonce = next[tx.From]
		next[tx.From]++
	}

	if err := core.AssignGroupID(txs); err != nil {
		return &SubmissionError{Op: "group", Err: err}
	}
	for _, tx := range txs {
		if err := signers[tx.From].SignTransaction(tx); err != nil {
			return &SubmissionError{Op: "sign", Err: err}
		}
	}
	return nil
}

// send transmits the prepared group. A group the ledger already knows was
// delivered by an earlier attempt.
func (g *Gateway) send(ctx context.Context, txs []*core.Transaction) error {
	_, err := g.client.SendGroup(ctx, txs)
	switch {
	case err == nil, errors.Is(err, core.ErrDuplicateGroup):
		return nil
	default:
		var rej *RejectedError
		if errors.As(err, &rej) {
			return rej
		}
		return &SubmissionError{Op: "send", Retryable: ctx.Err() == nil, Err: err}
	}
}

// await polls the first operation's receipt until the group is committed or
// rejected, or the confirmation timeout elapses.
func (g *Gateway) await(ctx context.Context, txs []*core.Transaction) (*Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	first := txs[0].ID
	for {
		r, err := g.client.Receipt(ctx, first)
		switch {
		case err == nil && r.State == core.TxConfirmed:
			return g.confirmation(ctx, txs, r)
		case err == nil && r.State == core.TxRejected:
			return nil, &RejectedError{TxID: first, Reason: r.RejectReason}
		case err != nil && !errors.Is(err, core.ErrNotFound):
			g.logger.Debug("receipt poll failed", "tx", first, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, &SubmissionError{Op: "confirm", Err: fmt.Errorf("waiting for %s: %w", first, ctx.Err())}
		case <-ticker.C:
		}
	}
}

func (g *Gateway) confirmation(ctx context.Context, txs []*core.Transaction, first *core.Receipt) (*Confirmation, error) {
	conf := &Confirmation{
		TxID:     first.TxID,
		GroupKey: core.GroupKey(txs),
		Round:    first.ConfirmedRound,
		Receipts: []*core.Receipt{first},
	}
	for _, tx := range txs[1:] {
		r, err := g.client.Receipt(ctx, tx.ID)
		if err != nil {
			return nil, &SubmissionError{Op: "confirm", Err: fmt.Errorf("receipt %s: %w", tx.ID, err)}
		}
		conf.Receipts = append(conf.Receipts, r)
	}
	return conf, nil
}
