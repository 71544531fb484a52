package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/internal/testutil"
)

func newIndexer(t *testing.T) (*Indexer, *events.Emitter) {
	t.Helper()
	em := events.NewEmitter()
	return New(testutil.NewMemDB(), em), em
}

func sampleTx(t *testing.T) *core.Transaction {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, err := core.NewTransaction("idx-test", core.TxPayment, priv.Public().Address(), 1000,
		core.PaymentPayload{Receiver: priv.Public().Address(), Amount: 1})
	require.NoError(t, err)
	tx.Sign(priv)
	return tx
}

func TestReceiptLifecycle(t *testing.T) {
	idx, em := newIndexer(t)
	tx := sampleTx(t)

	_, err := idx.Receipt(tx.ID)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, idx.RecordPending([]*core.Transaction{tx}))
	r, err := idx.Receipt(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxPending, r.State)

	em.Emit(events.Event{Type: events.EventGroupCommitted, Data: map[string]any{
		"txs":      []*core.Transaction{tx},
		"receipts": []*core.Receipt{{TxID: tx.ID, State: core.TxConfirmed, ConfirmedRound: 3}},
	}})
	r, err = idx.Receipt(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxConfirmed, r.State)
	assert.Equal(t, int64(3), r.ConfirmedRound)

	ids, err := idx.TxsByAccount(tx.From.String())
	require.NoError(t, err)
	assert.Equal(t, []string{tx.ID}, ids)
}

func TestPendingNeverOverwritesOutcome(t *testing.T) {
	idx, em := newIndexer(t)
	tx := sampleTx(t)

	em.Emit(events.Event{Type: events.EventGroupCommitted, Data: map[string]any{
		"txs":      []*core.Transaction{tx},
		"receipts": []*core.Receipt{{TxID: tx.ID, State: core.TxConfirmed, ConfirmedRound: 1}},
	}})
	require.NoError(t, idx.RecordPending([]*core.Transaction{tx}))

	r, err := idx.Receipt(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxConfirmed, r.State)
}

func TestRejectedReceiptKeepsReason(t *testing.T) {
	idx, em := newIndexer(t)
	tx := sampleTx(t)

	em.Emit(events.Event{Type: events.EventGroupRejected, Data: map[string]any{
		"txs":      []*core.Transaction{tx},
		"receipts": []*core.Receipt{{TxID: tx.ID, State: core.TxRejected, RejectReason: "tx 0 (pay): insufficient balance"}},
	}})
	r, err := idx.Receipt(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TxRejected, r.State)
	assert.Equal(t, "tx 0 (pay): insufficient balance", r.RejectReason)
}

func TestAssetHoldersAndPhases(t *testing.T) {
	idx, em := newIndexer(t)

	em.Emit(events.Event{Type: events.EventAssetTransfer, Data: map[string]any{"asset_id": uint64(5), "to": "a", "amount": uint64(0)}})
	em.Emit(events.Event{Type: events.EventAssetTransfer, Data: map[string]any{"asset_id": uint64(5), "to": "b", "amount": uint64(1)}})
	em.Emit(events.Event{Type: events.EventEscrowPhase, Data: map[string]any{"app_id": uint64(6), "to": "active"}})
	em.Emit(events.Event{Type: events.EventEscrowPhase, Data: map[string]any{"app_id": uint64(6), "to": "selling_open"}})

	holders, err := idx.AssetHolders(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, holders, "opt-ins are not transfers of ownership")

	phases, err := idx.EscrowPhases(6)
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "selling_open"}, phases)

	none, err := idx.EscrowPhases(7)
	require.NoError(t, err)
	assert.Empty(t, none)
}
