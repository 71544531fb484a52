package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/wallet"
)

var errTransport = errors.New("connection reset")

// fakeLedger confirms every verified group on the next receipt poll unless
// told otherwise.
type fakeLedger struct {
	mu         sync.Mutex
	nonces     map[crypto.Address]uint64
	receipts   map[string]*core.Receipt
	sendFails  int
	sends      int
	sent       []string
	rejectWith string
	duplicate  bool
	never      bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nonces: map[crypto.Address]uint64{}, receipts: map[string]*core.Receipt{}}
}

func (f *fakeLedger) SendGroup(_ context.Context, txs []*core.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.sent = append(f.sent, txs[0].ID)
	if f.sendFails > 0 {
		f.sendFails--
		return "", errTransport
	}
	if err := core.VerifyGroup(txs); err != nil {
		return "", err
	}
	state := core.TxConfirmed
	if f.rejectWith != "" {
		state = core.TxRejected
	}
	if f.never {
		state = core.TxPending
	}
	for _, tx := range txs {
		if state == core.TxConfirmed {
			f.nonces[tx.From]++
		}
		f.receipts[tx.ID] = &core.Receipt{TxID: tx.ID, Group: tx.Group, State: state, ConfirmedRound: 7, RejectReason: f.rejectWith}
	}
	if f.duplicate {
		return "", core.ErrDuplicateGroup
	}
	return core.GroupKey(txs), nil
}

func (f *fakeLedger) Receipt(_ context.Context, txID string) (*core.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeLedger) Account(_ context.Context, addr crypto.Address) (*core.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &core.Account{Address: addr, Nonce: f.nonces[addr]}, nil
}

func testConfig() Config {
	return Config{
		PollInterval: time.Millisecond,
		Timeout:      200 * time.Millisecond,
		Retry:        RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2, MaxAttempts: 3},
	}
}

func payment(t *testing.T, from, to *wallet.Wallet) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction("gw-test", core.TxPayment, from.Address(), 1000,
		core.PaymentPayload{Receiver: to.Address(), Amount: 1})
	require.NoError(t, err)
	return tx
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	require.NoError(t, err)
	return w
}

func TestSubmitConfirmsGroup(t *testing.T) {
	f := newFakeLedger()
	a, b := newWallet(t), newWallet(t)
	f.nonces[a.Address()] = 4
	gw := New(f, testConfig(), nil)

	conf, err := gw.Submit(context.Background(), []Signer{a, b}, payment(t, a, b), payment(t, b, a), payment(t, a, b))
	require.NoError(t, err)
	assert.Equal(t, int64(7), conf.Round)
	require.Len(t, conf.Receipts, 3)
	assert.NotEmpty(t, conf.GroupKey)
	assert.Equal(t, conf.Receipts[0].TxID, conf.TxID)
	assert.Equal(t, uint64(6), f.nonces[a.Address()], "two ops from a consumed nonces 4 and 5")
}

func TestSubmitAssignsSequentialNonces(t *testing.T) {
	f := newFakeLedger()
	a, b := newWallet(t), newWallet(t)
	f.nonces[a.Address()] = 9
	gw := New(f, testConfig(), nil)

	txs := []*core.Transaction{payment(t, a, b), payment(t, a, b)}
	_, err := gw.Submit(context.Background(), []Signer{a}, txs...)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), txs[0].Nonce)
	assert.Equal(t, uint64(10), txs[1].Nonce)
	assert.Equal(t, txs[0].Group, txs[1].Group)
}

func TestSubmitRetriesTransportFailure(t *testing.T) {
	f := newFakeLedger()
	f.sendFails = 2
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{a}, payment(t, a, b))
	require.NoError(t, err)
	assert.Equal(t, 3, f.sends)
	assert.Equal(t, f.sent[0], f.sent[1], "retries resend the identical signed group")
	assert.Equal(t, f.sent[0], f.sent[2])
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeLedger()
	f.sendFails = 10
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{a}, payment(t, a, b))
	var sub *SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "send", sub.Op)
	assert.True(t, sub.Retryable)
	assert.ErrorIs(t, err, errTransport)
	assert.Equal(t, 3, f.sends)
}

func TestSubmitReportsRejectionVerbatim(t *testing.T) {
	f := newFakeLedger()
	f.rejectWith = "tx 0 (appl): program rejected: buy: escrow: precondition violated"
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{a}, payment(t, a, b))
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, f.rejectWith, rej.Reason)
	assert.Equal(t, 1, f.sends, "rejections are not retried")
}

func TestSubmitTreatsDuplicateAsSent(t *testing.T) {
	f := newFakeLedger()
	f.duplicate = true
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{a}, payment(t, a, b))
	require.NoError(t, err)
	assert.Equal(t, 1, f.sends)
}

func TestSubmitTimesOut(t *testing.T) {
	f := newFakeLedger()
	f.never = true
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{a}, payment(t, a, b))
	var sub *SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "confirm", sub.Op)
	assert.False(t, sub.Retryable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitRequiresSigner(t *testing.T) {
	f := newFakeLedger()
	a, b := newWallet(t), newWallet(t)
	gw := New(f, testConfig(), nil)

	_, err := gw.Submit(context.Background(), []Signer{b}, payment(t, a, b))
	var sub *SubmissionError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "sign", sub.Op)
	assert.Zero(t, f.sends)
}

func TestRetryDelayIsCapped(t *testing.T) {
	r := newRetrier(RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Factor: 3, MaxAttempts: 5}, nil)
	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 30*time.Millisecond, r.delay(2))
	assert.Equal(t, 50*time.Millisecond, r.delay(3))
}

func TestRetryStopsOnCancel(t *testing.T) {
	r := newRetrier(RetryConfig{InitialDelay: time.Hour, MaxAttempts: 5}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := r.do(ctx, func(int) (bool, error) {
		calls++
		return true, errTransport
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
