package escrow_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/escrow"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/internal/testutil"
	"github.com/tolelom/nftescrow/storage"
	"github.com/tolelom/nftescrow/vm"
	"github.com/tolelom/nftescrow/wallet"

	_ "github.com/tolelom/nftescrow/vm/modules/application"
	_ "github.com/tolelom/nftescrow/vm/modules/asset"
	_ "github.com/tolelom/nftescrow/vm/modules/economy"
)

type ledger struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	events *events.Emitter
	height int64
}

func newLedger(t *testing.T) *ledger {
	state := testutil.NewStateDB()
	em := events.NewEmitter()
	return &ledger{t: t, state: state, exec: vm.NewExecutor(state, em, vm.DefaultParams()), events: em}
}

func (l *ledger) submit(signers []*wallet.Wallet, txs ...*core.Transaction) ([]*core.Receipt, error) {
	l.t.Helper()
	for i, tx := range txs {
		acc, err := l.state.GetAccount(tx.From)
		require.NoError(l.t, err)
		tx.Nonce = acc.Nonce
		// Later members from the same sender follow the earlier ones.
		for _, prev := range txs[:i] {
			if prev.From == tx.From {
				tx.Nonce++
			}
		}
	}
	require.NoError(l.t, core.AssignGroupID(txs))
	for i, tx := range txs {
		require.NoError(l.t, signers[i].SignTransaction(tx))
	}
	l.height++
	return l.exec.ExecuteGroup(core.NewBlock(l.height, "", "test"), txs)
}

func (l *ledger) tx(from *wallet.Wallet, typ core.TxType, payload any) *core.Transaction {
	tx, err := core.NewTransaction("escrow-test", typ, from.Address(), 1000, payload)
	require.NoError(l.t, err)
	return tx
}

func (l *ledger) appCall(from *wallet.Wallet, appID uint64, args ...[]byte) *core.Transaction {
	return l.tx(from, core.TxApplicationCall, core.ApplicationCallPayload{AppID: appID, OnComplete: core.NoOp, Args: args})
}

func (l *ledger) balance(a crypto.Address) uint64 {
	acc, err := l.state.GetAccount(a)
	require.NoError(l.t, err)
	return acc.Balance
}

func (l *ledger) units(a crypto.Address, assetID uint64) uint64 {
	acc, err := l.state.GetAccount(a)
	require.NoError(l.t, err)
	if h := acc.Holding(assetID); h != nil {
		return h.Amount
	}
	return 0
}

func (l *ledger) read(appID uint64) *escrow.State {
	app, err := l.state.GetApplication(appID)
	require.NoError(l.t, err)
	s, err := escrow.Decode(escrow.Slots(app.GlobalState))
	require.NoError(l.t, err)
	return s
}

func newFunded(t *testing.T, l *ledger) *wallet.Wallet {
	w, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.state.SetAccount(&core.Account{Address: w.Address(), Balance: 10_000_000}))
	return w
}

// listed mints a default-frozen asset, deploys and binds an escrow instance
// and lists the asset at price. It returns the app and asset ids.
func listed(t *testing.T, l *ledger, creator *wallet.Wallet, price uint64) (uint64, uint64) {
	r, err := l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxAssetConfig, core.AssetConfigPayload{
		Params: &core.AssetParams{
			Total: 1, DefaultFrozen: true, Name: "Bike", UnitName: "BIKE",
			Manager: creator.Address(), Reserve: creator.Address(),
			Freeze: creator.Address(), Clawback: creator.Address(),
		},
	}))
	require.NoError(t, err)
	assetID := r[0].CreatedAssetID

	r, err = l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxApplicationCall, core.ApplicationCallPayload{
		OnComplete:      core.NoOp,
		ApprovalProgram: []byte(escrow.ProgramName),
		ClearProgram:    []byte(vm.ApproveAll),
		GlobalSchema:    escrow.GlobalSchema,
		LocalSchema:     escrow.LocalSchema,
		Args:            [][]byte{creator.Address().Bytes(), creator.Address().Bytes()},
		Assets:          []uint64{assetID},
	}))
	require.NoError(t, err)
	appID := r[0].CreatedAppID
	escrowAddr := crypto.ApplicationAddress(appID)

	_, err = l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxAssetConfig, core.AssetConfigPayload{
		AssetID: assetID, Authorities: &core.AuthorityUpdate{Clawback: escrowAddr},
	}))
	require.NoError(t, err)

	call := l.tx(creator, core.TxApplicationCall, core.ApplicationCallPayload{
		AppID: appID, OnComplete: core.NoOp, Assets: []uint64{assetID},
		Args: [][]byte{[]byte(escrow.ActionInitializeEscrow), escrowAddr.Bytes()},
	})
	_, err = l.submit([]*wallet.Wallet{creator}, call)
	require.NoError(t, err)

	_, err = l.submit([]*wallet.Wallet{creator},
		l.tx(creator, core.TxPayment, core.PaymentPayload{Receiver: escrowAddr, Amount: 1_000_000}))
	require.NoError(t, err)

	_, err = l.submit([]*wallet.Wallet{creator},
		l.appCall(creator, appID, []byte(escrow.ActionOpenSell), binary.BigEndian.AppendUint64(nil, price)))
	require.NoError(t, err)
	return appID, assetID
}

func TestProgramSettlesSale(t *testing.T) {
	l := newLedger(t)
	creator, buyer := newFunded(t, l), newFunded(t, l)
	appID, assetID := listed(t, l, creator, 100000)
	escrowAddr := crypto.ApplicationAddress(appID)

	var phases []string
	l.events.Subscribe(events.EventEscrowPhase, func(ev events.Event) {
		phases = append(phases, ev.Data["to"].(string))
	})

	_, err := l.submit([]*wallet.Wallet{buyer},
		l.tx(buyer, core.TxAssetTransfer, core.AssetTransferPayload{AssetID: assetID, Receiver: buyer.Address()}))
	require.NoError(t, err)

	_, err = l.submit([]*wallet.Wallet{buyer, buyer},
		l.appCall(buyer, appID, []byte(escrow.ActionBuy), buyer.Address().Bytes()),
		l.tx(buyer, core.TxPayment, core.PaymentPayload{Receiver: escrowAddr, Amount: 100000}),
	)
	require.NoError(t, err)

	creatorBefore := l.balance(creator.Address())
	escrowBefore := l.balance(escrowAddr)
	receipts, err := l.submit([]*wallet.Wallet{buyer}, l.appCall(buyer, appID, []byte(escrow.ActionValidateBuy)))
	require.NoError(t, err)
	require.Len(t, receipts[0].InnerTxns, 3)

	// Creator is also the owner on the first sale: 90000 + 10000.
	assert.Equal(t, creatorBefore+100000, l.balance(creator.Address()))
	assert.Equal(t, escrowBefore-100000-3*1000, l.balance(escrowAddr))
	assert.Equal(t, uint64(0), l.units(creator.Address(), assetID))
	assert.Equal(t, uint64(1), l.units(buyer.Address(), assetID))

	s := l.read(appID)
	assert.Equal(t, buyer.Address(), s.Owner)
	assert.Equal(t, creator.Address(), s.Creator)
	assert.Equal(t, escrow.Active, s.Phase)
	assert.False(t, s.Buyer.IsSet())
	assert.Equal(t, []string{"buying_in_progress", "active"}, phases)
}

func TestProgramRejectionMovesNothing(t *testing.T) {
	l := newLedger(t)
	creator, buyer := newFunded(t, l), newFunded(t, l)
	appID, assetID := listed(t, l, creator, 100000)
	escrowAddr := crypto.ApplicationAddress(appID)

	before := l.read(appID)
	escrowBalance := l.balance(escrowAddr)

	receipts, err := l.submit([]*wallet.Wallet{buyer}, l.appCall(buyer, appID, []byte(escrow.ActionValidateBuy)))
	require.ErrorIs(t, err, escrow.ErrPrecondition)
	assert.Equal(t, core.TxRejected, receipts[0].State)
	assert.Contains(t, receipts[0].RejectReason, "precondition violated")
	assert.Empty(t, receipts[0].InnerTxns)

	assert.Equal(t, before, l.read(appID))
	assert.Equal(t, escrowBalance, l.balance(escrowAddr))
	assert.Equal(t, uint64(1), l.units(creator.Address(), assetID))
}

// A failing inner transfer aborts the whole group including the state write.
func TestProgramFailedEffectAborts(t *testing.T) {
	l := newLedger(t)
	creator, buyer := newFunded(t, l), newFunded(t, l)
	appID, _ := listed(t, l, creator, 100000)

	// Buyer never opted in, so the clawback to the buyer fails.
	_, err := l.submit([]*wallet.Wallet{buyer, buyer},
		l.appCall(buyer, appID, []byte(escrow.ActionBuy), buyer.Address().Bytes()),
		l.tx(buyer, core.TxPayment, core.PaymentPayload{Receiver: crypto.ApplicationAddress(appID), Amount: 100000}),
	)
	require.NoError(t, err)

	_, err = l.submit([]*wallet.Wallet{buyer}, l.appCall(buyer, appID, []byte(escrow.ActionValidateBuy)))
	require.ErrorIs(t, err, vm.ErrNotOptedIn)
	assert.Equal(t, escrow.BuyingInProgress, l.read(appID).Phase)
}

func TestProgramRejectsSmallSchema(t *testing.T) {
	l := newLedger(t)
	creator := newFunded(t, l)
	_, err := l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxApplicationCall, core.ApplicationCallPayload{
		OnComplete:      core.NoOp,
		ApprovalProgram: []byte(escrow.ProgramName),
		GlobalSchema:    core.StateSchema{NumUint: 5, NumByteSlice: 3},
		Args:            [][]byte{creator.Address().Bytes(), creator.Address().Bytes()},
		Assets:          []uint64{1},
	}))
	require.ErrorIs(t, err, vm.ErrSchemaExceeded)
}

func TestProgramRejectsUnboundEscrow(t *testing.T) {
	l := newLedger(t)
	creator := newFunded(t, l)
	r, err := l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxAssetConfig, core.AssetConfigPayload{
		Params: &core.AssetParams{Total: 1, DefaultFrozen: true, Manager: creator.Address(), Clawback: creator.Address()},
	}))
	require.NoError(t, err)
	assetID := r[0].CreatedAssetID

	r, err = l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxApplicationCall, core.ApplicationCallPayload{
		OnComplete:      core.NoOp,
		ApprovalProgram: []byte(escrow.ProgramName),
		GlobalSchema:    escrow.GlobalSchema,
		Args:            [][]byte{creator.Address().Bytes(), creator.Address().Bytes()},
		Assets:          []uint64{assetID},
	}))
	require.NoError(t, err)
	appID := r[0].CreatedAppID

	// Manager still held and clawback not pointing at the escrow.
	_, err = l.submit([]*wallet.Wallet{creator}, l.tx(creator, core.TxApplicationCall, core.ApplicationCallPayload{
		AppID: appID, OnComplete: core.NoOp, Assets: []uint64{assetID},
		Args: [][]byte{[]byte(escrow.ActionInitializeEscrow), crypto.ApplicationAddress(appID).Bytes()},
	}))
	require.ErrorIs(t, err, escrow.ErrPrecondition)
	assert.Equal(t, escrow.NotInitialized, l.read(appID).Phase)
}

func TestProgramRejectsNonUTF8Selector(t *testing.T) {
	l := newLedger(t)
	creator := newFunded(t, l)
	appID, _ := listed(t, l, creator, 100000)
	before := l.read(appID)

	var receipts []*core.Receipt
	var err error
	require.NotPanics(t, func() {
		receipts, err = l.submit([]*wallet.Wallet{creator}, l.appCall(creator, appID, []byte{0xff, 0xfe}))
	})
	require.ErrorIs(t, err, escrow.ErrEncoding)
	assert.Equal(t, core.TxRejected, receipts[0].State)
	assert.Equal(t, before, l.read(appID))
}

// Settlement is paid out of the escrow balance, so a purchase must bring
// the price with it.
func TestProgramRejectsUnpaidBuy(t *testing.T) {
	l := newLedger(t)
	creator, thief := newFunded(t, l), newFunded(t, l)
	appID, assetID := listed(t, l, creator, 500000)
	escrowAddr := crypto.ApplicationAddress(appID)
	reserve := l.balance(escrowAddr)

	_, err := l.submit([]*wallet.Wallet{thief},
		l.tx(thief, core.TxAssetTransfer, core.AssetTransferPayload{AssetID: assetID, Receiver: thief.Address()}))
	require.NoError(t, err)

	_, err = l.submit([]*wallet.Wallet{thief}, l.appCall(thief, appID, []byte(escrow.ActionBuy), thief.Address().Bytes()))
	require.ErrorIs(t, err, escrow.ErrPrecondition)

	// Paying someone other than the escrow does not count either.
	_, err = l.submit([]*wallet.Wallet{thief, thief},
		l.appCall(thief, appID, []byte(escrow.ActionBuy), thief.Address().Bytes()),
		l.tx(thief, core.TxPayment, core.PaymentPayload{Receiver: thief.Address(), Amount: 500000}),
	)
	require.ErrorIs(t, err, escrow.ErrPrecondition)

	_, err = l.submit([]*wallet.Wallet{thief}, l.appCall(thief, appID, []byte(escrow.ActionValidateBuy)))
	require.ErrorIs(t, err, escrow.ErrPrecondition)

	assert.Equal(t, escrow.SellingOpen, l.read(appID).Phase)
	assert.Equal(t, reserve, l.balance(escrowAddr))
	assert.Equal(t, uint64(0), l.units(thief.Address(), assetID))
}
