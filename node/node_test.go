package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/config"
	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/gateway"
	"github.com/tolelom/nftescrow/internal/testutil"
	"github.com/tolelom/nftescrow/wallet"
)

func newTestNode(t *testing.T, funded ...*wallet.Wallet) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	for _, w := range funded {
		cfg.Genesis.Alloc[w.Address().String()] = 1_000_000
	}
	key, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	n, err := New(cfg, testutil.NewMemDB(), key, nil)
	require.NoError(t, err)
	return n
}

func signedPayment(t *testing.T, n *Node, w *wallet.Wallet, nonce uint64) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction(n.ChainID(), core.TxPayment, w.Address(), 1000,
		core.PaymentPayload{Receiver: crypto.ApplicationAddress(1), Amount: 5})
	require.NoError(t, err)
	tx.Nonce = nonce
	require.NoError(t, w.SignTransaction(tx))
	return tx
}

func TestGenesisAllocation(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	n := newTestNode(t, w)

	acc, err := n.Account(context.Background(), w.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), acc.Balance)
	assert.Equal(t, int64(0), n.Height())

	genesis, err := n.Block(0)
	require.NoError(t, err)
	assert.True(t, config.IsGenesisHash(genesis.Header.PrevHash))
}

func TestSendGroupLifecycle(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	n := newTestNode(t, w)
	ctx := context.Background()
	tx := signedPayment(t, n, w, 0)

	_, err = n.Receipt(ctx, tx.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = n.Group(ctx, tx.ID)
	require.ErrorIs(t, err, core.ErrNotFound)

	key, err := n.SendGroup(ctx, []*core.Transaction{tx})
	require.NoError(t, err)
	assert.Equal(t, tx.ID, key)
	r, err := n.Receipt(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxPending, r.State)

	_, err = n.SendGroup(ctx, []*core.Transaction{tx})
	require.ErrorIs(t, err, core.ErrDuplicateGroup, "still pending")

	block, err := n.ProduceBlock()
	require.NoError(t, err)
	r, err = n.Receipt(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxConfirmed, r.State)
	assert.Equal(t, block.Header.Height, r.ConfirmedRound)
	group, err := n.Group(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{tx.ID}, []string{group[0].ID})

	_, err = n.SendGroup(ctx, []*core.Transaction{tx})
	require.ErrorIs(t, err, core.ErrDuplicateGroup, "already executed")

	ids, err := n.Indexer().TxsByAccount(w.Address().String())
	require.NoError(t, err)
	assert.Equal(t, []string{tx.ID}, ids)
}

func TestSendGroupRefusesForeignChain(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	n := newTestNode(t, w)

	tx, err := core.NewTransaction("other-chain", core.TxPayment, w.Address(), 1000,
		core.PaymentPayload{Receiver: crypto.ApplicationAddress(1), Amount: 5})
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(tx))

	_, err = n.SendGroup(context.Background(), []*core.Transaction{tx})
	var rej *gateway.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "chain id")
}

func TestSendGroupRefusesBadSignature(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	n := newTestNode(t, w)
	tx := signedPayment(t, n, w, 0)
	tx.Fee = 2000

	_, err = n.SendGroup(context.Background(), []*core.Transaction{tx})
	var rej *gateway.RejectedError
	require.ErrorAs(t, err, &rej)
}

func TestRejectedGroupReceipt(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	n := newTestNode(t, w)
	ctx := context.Background()
	tx := signedPayment(t, n, w, 3) // wrong nonce

	_, err = n.SendGroup(ctx, []*core.Transaction{tx})
	require.NoError(t, err)
	_, err = n.ProduceBlock()
	require.Error(t, err)

	r, err := n.Receipt(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxRejected, r.State)
	assert.Contains(t, r.RejectReason, "invalid nonce")
}

func TestStartStop(t *testing.T) {
	n := newTestNode(t)
	n.Start()
	n.Stop()
	n.Stop()
}
