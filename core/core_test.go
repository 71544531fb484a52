package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/internal/testutil"
	"github.com/tolelom/nftescrow/storage"
	"github.com/tolelom/nftescrow/wallet"
)

func payment(t *testing.T, w *wallet.Wallet, amount uint64) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction("test-chain", core.TxPayment, w.Address(), 1000,
		core.PaymentPayload{Receiver: crypto.ApplicationAddress(1), Amount: amount})
	require.NoError(t, err)
	return tx
}

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx := payment(t, w, 100)
	require.NoError(t, w.SignTransaction(tx))
	assert.NotEmpty(t, tx.ID)
	require.NoError(t, tx.Verify())

	// Tamper with the fee to check that verification catches it.
	tx.Fee = 999
	assert.Error(t, tx.Verify())
}

// TestBlockHash ensures that hashing a block is deterministic.
func TestBlockHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	block := core.NewBlock(1, "0000", pub.Address().String())
	block.Sign(priv)

	require.NotEmpty(t, block.Hash)
	assert.Equal(t, block.Hash, block.ComputeHash())
	require.NoError(t, block.Verify(pub))
}

func TestGroupIDBindsMembers(t *testing.T) {
	a, err := wallet.Generate()
	require.NoError(t, err)
	b, err := wallet.Generate()
	require.NoError(t, err)

	txs := []*core.Transaction{payment(t, a, 1), payment(t, b, 2)}
	require.NoError(t, core.AssignGroupID(txs))
	assert.Equal(t, txs[0].Group, txs[1].Group)
	require.NoError(t, a.SignTransaction(txs[0]))
	require.NoError(t, b.SignTransaction(txs[1]))
	require.NoError(t, core.VerifyGroup(txs))
	assert.Equal(t, txs[0].Group, core.GroupKey(txs))

	// Reordering the members breaks the group id.
	assert.Error(t, core.VerifyGroup([]*core.Transaction{txs[1], txs[0]}))
	assert.Error(t, core.AssignGroupID(nil))
}

func TestSoloTransactionHasNoGroup(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx := payment(t, w, 1)
	require.NoError(t, core.AssignGroupID([]*core.Transaction{tx}))
	require.NoError(t, w.SignTransaction(tx))
	assert.Empty(t, tx.Group)
	assert.Equal(t, tx.ID, core.GroupKey([]*core.Transaction{tx}))
}

// TestMempool verifies add/remove/pending operations.
func TestMempool(t *testing.T) {
	mp := core.NewMempool()
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx := payment(t, w, 1)
	require.NoError(t, w.SignTransaction(tx))
	group := []*core.Transaction{tx}

	key, err := mp.Add(group)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, key)
	assert.Equal(t, 1, mp.Size())
	select {
	case <-mp.Notify():
	default:
		t.Fatal("Add should signal Notify")
	}

	_, err = mp.Add(group)
	require.ErrorIs(t, err, core.ErrDuplicateGroup)

	assert.Len(t, mp.Pending(10), 1)
	mp.Remove([]string{key})
	assert.Equal(t, 0, mp.Size())
}

func TestMempoolRejectsUnsigned(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	_, err = core.NewMempool().Add([]*core.Transaction{payment(t, w, 1)})
	assert.Error(t, err)
}

func TestConfirmedGroup(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	solo := payment(t, w, 1)
	require.NoError(t, w.SignTransaction(solo))
	pair := []*core.Transaction{payment(t, w, 2), payment(t, w, 3)}
	require.NoError(t, core.AssignGroupID(pair))
	for _, tx := range pair {
		require.NoError(t, w.SignTransaction(tx))
	}

	bc := core.NewBlockchain(storage.NewBlockStore(testutil.NewMemDB()))
	require.NoError(t, bc.Init())
	genesis := core.NewBlock(0, "", "genesis")
	genesis.Hash = genesis.ComputeHash()
	require.NoError(t, bc.AddBlock(genesis))
	block := core.NewBlock(1, genesis.Hash, "genesis")
	block.Groups = [][]*core.Transaction{{solo}, pair}
	block.Hash = block.ComputeHash()
	require.NoError(t, bc.AddBlock(block))

	got, err := bc.ConfirmedGroup(1, pair[1].ID)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	_, err = bc.ConfirmedGroup(0, pair[1].ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = bc.ConfirmedGroup(2, solo.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
