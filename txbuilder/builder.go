// Package txbuilder constructs unsigned ledger operations in the shape the
// escrow program expects. Nothing here performs I/O: nonces and signatures
// are added by the gateway at submission time.
package txbuilder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
)

// Platform limits checked before an operation leaves the client.
const (
	MaxArgs          = 16
	MaxArgSize       = 128
	MaxTotalArgBytes = 2048
	MaxSchema        = 64
	MaxAssets        = 8
)

// ErrEncoding is returned when arguments or schemas exceed platform limits.
var ErrEncoding = errors.New("txbuilder: encoding error")

// Params carry the network-wide values every operation needs.
type Params struct {
	ChainID string
	Fee     uint64
}

// Builder creates operations for one network.
type Builder struct {
	params Params
}

// New returns a Builder for params.
func New(params Params) *Builder {
	return &Builder{params: params}
}

// Params returns the builder's network parameters.
func (b *Builder) Params() Params { return b.params }

func (b *Builder) build(typ core.TxType, sender crypto.Address, payload any) (*core.Transaction, error) {
	if sender.IsZero() {
		return nil, fmt.Errorf("%w: sender required", ErrEncoding)
	}
	return core.NewTransaction(b.params.ChainID, typ, sender, b.params.Fee, payload)
}

// Payment moves amount of native currency from sender to receiver.
func (b *Builder) Payment(sender, receiver crypto.Address, amount uint64) (*core.Transaction, error) {
	return b.build(core.TxPayment, sender, core.PaymentPayload{Receiver: receiver, Amount: amount})
}

// AssetTransfer moves amount units of assetID from sender to receiver.
func (b *Builder) AssetTransfer(assetID uint64, sender, receiver crypto.Address, amount uint64) (*core.Transaction, error) {
	return b.build(core.TxAssetTransfer, sender, core.AssetTransferPayload{
		AssetID:  assetID,
		Amount:   amount,
		Receiver: receiver,
	})
}

// AssetOptIn lets account hold assetID. Re-issuing it for an account that
// already holds the asset asserts the holding exists.
func (b *Builder) AssetOptIn(assetID uint64, account crypto.Address) (*core.Transaction, error) {
	return b.AssetTransfer(assetID, account, account, 0)
}

// AssetClawback revokes amount units of assetID from holder and sends them
// to receiver. sender must be the asset's clawback authority.
func (b *Builder) AssetClawback(assetID uint64, sender, holder, receiver crypto.Address, amount uint64) (*core.Transaction, error) {
	return b.build(core.TxAssetTransfer, sender, core.AssetTransferPayload{
		AssetID:     assetID,
		Amount:      amount,
		Receiver:    receiver,
		AssetSender: &holder,
	})
}

// AssetCreate mints a new asset held entirely by creator.
func (b *Builder) AssetCreate(creator crypto.Address, params core.AssetParams) (*core.Transaction, error) {
	if params.Total == 0 {
		return nil, fmt.Errorf("%w: asset total must be > 0", ErrEncoding)
	}
	return b.build(core.TxAssetConfig, creator, core.AssetConfigPayload{Params: &params})
}

// AssetConfig reassigns the authorities of assetID. Zero addresses
// relinquish the corresponding authority permanently.
func (b *Builder) AssetConfig(assetID uint64, manager crypto.Address, authorities core.AuthorityUpdate) (*core.Transaction, error) {
	if assetID == 0 {
		return nil, fmt.Errorf("%w: asset id required", ErrEncoding)
	}
	return b.build(core.TxAssetConfig, manager, core.AssetConfigPayload{
		AssetID:     assetID,
		Authorities: &authorities,
	})
}

// ProgramCall invokes application appID. args[0] conventionally selects the
// action.
func (b *Builder) ProgramCall(appID uint64, caller crypto.Address, args [][]byte, assets []uint64, onComplete core.OnComplete) (*core.Transaction, error) {
	if appID == 0 {
		return nil, fmt.Errorf("%w: application id required", ErrEncoding)
	}
	if err := checkArgs(args, assets); err != nil {
		return nil, err
	}
	if onComplete == "" {
		onComplete = core.NoOp
	}
	return b.build(core.TxApplicationCall, caller, core.ApplicationCallPayload{
		AppID:      appID,
		OnComplete: onComplete,
		Args:       args,
		Assets:     assets,
	})
}

// ProgramDeployment creates an application running approval, with clear as
// its clear-state program. The creation call receives args and assets.
func (b *Builder) ProgramDeployment(creator crypto.Address, approval, clear []byte, global, local core.StateSchema, args [][]byte, assets []uint64) (*core.Transaction, error) {
	if len(approval) == 0 {
		return nil, fmt.Errorf("%w: approval program required", ErrEncoding)
	}
	for _, n := range []uint64{global.NumUint, global.NumByteSlice, local.NumUint, local.NumByteSlice} {
		if n > MaxSchema {
			return nil, fmt.Errorf("%w: schema of %d slots exceeds %d", ErrEncoding, n, MaxSchema)
		}
	}
	if err := checkArgs(args, assets); err != nil {
		return nil, err
	}
	return b.build(core.TxApplicationCall, creator, core.ApplicationCallPayload{
		OnComplete:      core.NoOp,
		Args:            args,
		Assets:          assets,
		ApprovalProgram: approval,
		ClearProgram:    clear,
		GlobalSchema:    global,
		LocalSchema:     local,
	})
}

// Group stamps txs with a shared group id so they commit or abort together.
// A single operation is left ungrouped.
func Group(txs ...*core.Transaction) ([]*core.Transaction, error) {
	if err := core.AssignGroupID(txs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return txs, nil
}

func checkArgs(args [][]byte, assets []uint64) error {
	if len(args) > MaxArgs {
		return fmt.Errorf("%w: %d args exceeds %d", ErrEncoding, len(args), MaxArgs)
	}
	total := 0
	for i, a := range args {
		if len(a) > MaxArgSize {
			return fmt.Errorf("%w: arg %d is %d bytes, limit %d", ErrEncoding, i, len(a), MaxArgSize)
		}
		total += len(a)
	}
	if total > MaxTotalArgBytes {
		return fmt.Errorf("%w: args total %d bytes, limit %d", ErrEncoding, total, MaxTotalArgBytes)
	}
	if len(assets) > MaxAssets {
		return fmt.Errorf("%w: %d referenced assets exceeds %d", ErrEncoding, len(assets), MaxAssets)
	}
	return nil
}

// Uint64Arg encodes v as an 8-byte big-endian argument.
func Uint64Arg(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

// AddressArg encodes a as its raw 32 bytes.
func AddressArg(a crypto.Address) []byte {
	return a.Bytes()
}

// StringArg encodes s as its UTF-8 bytes.
func StringArg(s string) []byte {
	return []byte(s)
}

// Args collects arguments into the ordered list ProgramCall expects.
func Args(args ...[]byte) [][]byte {
	return args
}
