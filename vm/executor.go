package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
)

// ErrGroupAborted is wrapped by every error ExecuteGroup returns for a group
// that was rolled back.
var ErrGroupAborted = errors.New("group aborted")

// Executor applies transaction groups to the state using the global Handler
// registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	params  Params
}

// NewExecutor creates an Executor with the given state, event emitter and
// consensus limits.
func NewExecutor(state core.State, emitter *events.Emitter, params Params) *Executor {
	return &Executor{state: state, emitter: emitter, params: params}
}

// Params returns the limits the executor enforces.
func (e *Executor) Params() Params { return e.params }

// ExecuteGroup applies txs as one atomic unit inside block. On success every
// member gets a confirmed receipt and buffered events are delivered. On
// failure the state is reverted to before the group, every member gets a
// rejected receipt carrying the same reason, and the returned error wraps
// ErrGroupAborted.
func (e *Executor) ExecuteGroup(block *core.Block, txs []*core.Transaction) ([]*core.Receipt, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrGroupAborted)
	}
	receipts := make([]*core.Receipt, len(txs))
	for i, tx := range txs {
		receipts[i] = &core.Receipt{TxID: tx.ID, Group: tx.Group, State: core.TxPending}
	}

	if err := core.VerifyGroup(txs); err != nil {
		return e.reject(block, txs, receipts, err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	var pending []events.Event
	for i, tx := range txs {
		ctx := &Context{
			State:      e.state,
			Block:      block,
			Tx:         tx,
			Group:      txs,
			GroupIndex: i,
			Params:     e.params,
			Receipt:    receipts[i],
			pending:    &pending,
		}
		if err := e.applyTx(ctx); err != nil {
			if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
				return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
			}
			for _, r := range receipts {
				r.InnerTxns = nil
				r.CreatedAssetID = 0
				r.CreatedAppID = 0
			}
			return e.reject(block, txs, receipts, fmt.Errorf("tx %d (%s): %w", i, tx.Type, err))
		}
	}

	for _, r := range receipts {
		r.State = core.TxConfirmed
		r.ConfirmedRound = block.Header.Height
	}
	if e.emitter != nil {
		for _, ev := range pending {
			e.emitter.Emit(ev)
		}
		e.emitter.Emit(events.Event{
			Type:        events.EventGroupCommitted,
			TxID:        txs[0].ID,
			BlockHeight: block.Header.Height,
			Data:        groupData(txs, receipts),
		})
	}
	return receipts, nil
}

func (e *Executor) reject(block *core.Block, txs []*core.Transaction, receipts []*core.Receipt, cause error) ([]*core.Receipt, error) {
	for _, r := range receipts {
		r.State = core.TxRejected
		r.RejectReason = cause.Error()
	}
	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventGroupRejected,
			TxID:        txs[0].ID,
			BlockHeight: block.Header.Height,
			Data:        groupData(txs, receipts),
		})
	}
	return receipts, fmt.Errorf("%w: %w", ErrGroupAborted, cause)
}

// groupData is the payload of group outcome events. Receipts are shared
// with the caller and must not be modified by subscribers.
func groupData(txs []*core.Transaction, receipts []*core.Receipt) map[string]any {
	return map[string]any{
		"group":    core.GroupKey(txs),
		"size":     len(txs),
		"txs":      txs,
		"receipts": receipts,
	}
}

// applyTx checks the fee, deducts it, increments the nonce, then dispatches
// to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	if tx.Fee < e.params.MinFee {
		return fmt.Errorf("fee %d below minimum %d", tx.Fee, e.params.MinFee)
	}
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	return globalRegistry.Execute(ctx)
}
