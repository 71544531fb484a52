package vm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/events"
)

// ErrRejected marks a call the program refused. The program's own error is
// wrapped alongside so callers can inspect the reason with errors.Is.
var ErrRejected = errors.New("program rejected call")

// ErrSchemaExceeded is returned when a program writes more slots of a kind
// than its application declared.
var ErrSchemaExceeded = errors.New("global state schema exceeded")

// Program is application logic executed on every call to an application.
// Returning nil approves the call and commits every global-state write and
// inner transaction it made; returning an error aborts the whole group.
type Program interface {
	Approve(call *AppCall) error
}

// AppCall is the execution environment a Program sees: the calling
// transaction's fields, the group, read access to referenced assets, the
// application's global state, and inner transactions.
type AppCall struct {
	ctx      *Context
	app      *core.Application
	payload  *core.ApplicationCallPayload
	creating bool
	inner    int
}

// Creating reports whether this call is the application's deployment.
func (c *AppCall) Creating() bool { return c.creating }

// AppID returns the application id (already allocated during deployment).
func (c *AppCall) AppID() uint64 { return c.app.ID }

// AppAddress returns the application's custodial account address.
func (c *AppCall) AppAddress() crypto.Address { return c.app.Address() }

// Sender returns the address that signed the calling transaction.
func (c *AppCall) Sender() crypto.Address { return c.ctx.Tx.From }

// OnComplete returns the requested on-completion action.
func (c *AppCall) OnComplete() core.OnComplete { return c.payload.OnComplete }

// Args returns the ordered call arguments.
func (c *AppCall) Args() [][]byte { return c.payload.Args }

// Assets returns the referenced-asset list.
func (c *AppCall) Assets() []uint64 { return c.payload.Assets }

// GroupSize returns the number of transactions in the calling group.
func (c *AppCall) GroupSize() int { return len(c.ctx.Group) }

// GroupIndex returns the calling transaction's position in its group.
func (c *AppCall) GroupIndex() int { return c.ctx.GroupIndex }

// GroupTxn returns member i of the calling group. Programs must not modify
// it.
func (c *AppCall) GroupTxn(i int) (*core.Transaction, bool) {
	if i < 0 || i >= len(c.ctx.Group) {
		return nil, false
	}
	return c.ctx.Group[i], true
}

// Round returns the height of the block being built.
func (c *AppCall) Round() int64 { return c.ctx.Round() }

// Asset returns the parameters of a referenced asset. Assets that are not
// in the referenced-asset list are not readable.
func (c *AppCall) Asset(id uint64) (*core.Asset, error) {
	if !slices.Contains(c.payload.Assets, id) {
		return nil, fmt.Errorf("asset %d not in referenced assets", id)
	}
	return c.ctx.State.GetAsset(id)
}

// GlobalGet reads a global-state slot.
func (c *AppCall) GlobalGet(key string) (core.Value, bool) {
	v, ok := c.app.GlobalState[key]
	return v, ok
}

// GlobalPut writes a global-state slot, enforcing the declared schema.
func (c *AppCall) GlobalPut(key string, v core.Value) error {
	if v.Type != core.ValueUint && v.Type != core.ValueBytes {
		return fmt.Errorf("key %q: invalid value type %d", key, v.Type)
	}
	if prev, ok := c.app.GlobalState[key]; !ok || prev.Type != v.Type {
		limit := c.app.GlobalSchema.NumUint
		if v.Type == core.ValueBytes {
			limit = c.app.GlobalSchema.NumByteSlice
		}
		if uint64(c.countType(v.Type))+1 > limit {
			return fmt.Errorf("%w: key %q", ErrSchemaExceeded, key)
		}
	}
	if c.app.GlobalState == nil {
		c.app.GlobalState = make(map[string]core.Value)
	}
	c.app.GlobalState[key] = v
	return nil
}

// GlobalDel removes a global-state slot.
func (c *AppCall) GlobalDel(key string) {
	delete(c.app.GlobalState, key)
}

func (c *AppCall) countType(t core.ValueType) int {
	n := 0
	for _, v := range c.app.GlobalState {
		if v.Type == t {
			n++
		}
	}
	return n
}

// Emit queues a program event, delivered only if the group commits.
func (c *AppCall) Emit(typ events.EventType, data map[string]any) {
	c.ctx.Emit(typ, data)
}

// SubmitPayment issues an inner payment from the application account.
func (c *AppCall) SubmitPayment(receiver crypto.Address, amount uint64) error {
	return c.submit(core.InnerTxn{
		Type:     core.TxPayment,
		Sender:   c.AppAddress(),
		Receiver: receiver,
		Amount:   amount,
	})
}

// SubmitAssetTransfer issues an inner asset transfer. When assetSender is
// non-nil the application acts as the asset's clawback authority and
// revokes the units from assetSender; otherwise units leave the
// application account.
func (c *AppCall) SubmitAssetTransfer(assetID uint64, assetSender *crypto.Address, receiver crypto.Address, amount uint64) error {
	return c.submit(core.InnerTxn{
		Type:        core.TxAssetTransfer,
		Sender:      c.AppAddress(),
		Receiver:    receiver,
		Amount:      amount,
		AssetID:     assetID,
		AssetSender: assetSender,
	})
}

func (c *AppCall) submit(in core.InnerTxn) error {
	if c.inner >= c.ctx.Params.MaxInnerTxns {
		return fmt.Errorf("inner transaction limit %d reached", c.ctx.Params.MaxInnerTxns)
	}
	in.Fee = c.ctx.Params.MinFee
	if err := ChargeFee(c.ctx.State, in.Sender, in.Fee); err != nil {
		return fmt.Errorf("inner %s fee: %w", in.Type, err)
	}

	switch in.Type {
	case core.TxPayment:
		if err := Pay(c.ctx.State, in.Sender, in.Receiver, in.Amount); err != nil {
			return fmt.Errorf("inner pay: %w", err)
		}
		c.ctx.Emit(events.EventPayment, map[string]any{
			"from": in.Sender.String(), "to": in.Receiver.String(), "amount": in.Amount, "inner": true,
		})
	case core.TxAssetTransfer:
		move := AssetMove{
			AssetID:   in.AssetID,
			Authority: in.Sender,
			From:      in.Sender,
			To:        in.Receiver,
			Amount:    in.Amount,
		}
		if in.AssetSender != nil {
			move.From = *in.AssetSender
			move.Clawback = true
		}
		if err := MoveAsset(c.ctx.State, move); err != nil {
			return fmt.Errorf("inner axfer: %w", err)
		}
		c.ctx.Emit(events.EventAssetTransfer, map[string]any{
			"asset_id": in.AssetID, "from": move.From.String(), "to": in.Receiver.String(),
			"amount": in.Amount, "inner": true,
		})
	default:
		return fmt.Errorf("unsupported inner transaction type %q", in.Type)
	}

	c.inner++
	if c.ctx.Receipt != nil {
		c.ctx.Receipt.InnerTxns = append(c.ctx.Receipt.InnerTxns, in)
	}
	return nil
}

// RunProgram executes code against app for the calling transaction in ctx.
// The application record is mutated in place; the caller persists it only
// if RunProgram returns nil.
func RunProgram(ctx *Context, app *core.Application, payload *core.ApplicationCallPayload, code []byte, creating bool) error {
	prog, ok := LookupProgram(code)
	if !ok {
		return fmt.Errorf("unknown program %q", string(code))
	}
	call := &AppCall{ctx: ctx, app: app, payload: payload, creating: creating}
	if err := prog.Approve(call); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return nil
}
