// Package asset implements asset creation, reconfiguration and transfers.
package asset

import (
	"errors"
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/crypto"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/vm"
)

// MaxNameLen bounds the asset name and URL; MaxUnitNameLen the unit name.
const (
	MaxNameLen     = 32
	MaxUnitNameLen = 8
	MaxURLLen      = 96
)

func init() {
	vm.Register(core.TxAssetConfig, handleAssetConfig)
	vm.Register(core.TxAssetTransfer, handleAssetTransfer)
}

func handleAssetConfig(ctx *vm.Context) error {
	var p core.AssetConfigPayload
	if err := ctx.Tx.DecodePayload(&p); err != nil {
		return err
	}
	if p.AssetID == 0 {
		return createAsset(ctx, p.Params)
	}
	return reconfigureAsset(ctx, p.AssetID, p.Authorities)
}

func createAsset(ctx *vm.Context, params *core.AssetParams) error {
	if params == nil {
		return errors.New("asset params required on creation")
	}
	if params.Total == 0 {
		return errors.New("asset total must be > 0")
	}
	if len(params.Name) > MaxNameLen || len(params.UnitName) > MaxUnitNameLen || len(params.URL) > MaxURLLen {
		return errors.New("asset name, unit name or url too long")
	}

	id, err := ctx.State.NextID()
	if err != nil {
		return err
	}
	asset := &core.Asset{ID: id, Creator: ctx.Tx.From, Params: *params}
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	// The creator holds the whole supply and is never frozen.
	creator, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if creator.Holdings == nil {
		creator.Holdings = make(map[uint64]*core.AssetHolding)
	}
	creator.Holdings[id] = &core.AssetHolding{Amount: params.Total}
	if err := ctx.State.SetAccount(creator); err != nil {
		return err
	}

	ctx.Receipt.CreatedAssetID = id
	ctx.Emit(events.EventAssetCreated, map[string]any{
		"asset_id": id,
		"creator":  ctx.Tx.From.String(),
		"total":    params.Total,
		"name":     params.Name,
	})
	return nil
}

func reconfigureAsset(ctx *vm.Context, id uint64, upd *core.AuthorityUpdate) error {
	if upd == nil {
		return errors.New("authorities required on reconfiguration")
	}
	asset, err := ctx.State.GetAsset(id)
	if err != nil {
		return fmt.Errorf("asset %d: %w", id, err)
	}
	if asset.Params.Manager.IsZero() {
		return fmt.Errorf("asset %d is immutable: manager relinquished", id)
	}
	if asset.Params.Manager != ctx.Tx.From {
		return fmt.Errorf("asset %d: only the manager can reconfigure", id)
	}

	// A relinquished authority can never be set again.
	check := func(name string, cur, next crypto.Address) error {
		if cur.IsZero() && !next.IsZero() {
			return fmt.Errorf("asset %d: %s authority was relinquished", id, name)
		}
		return nil
	}
	if err := errors.Join(
		check("reserve", asset.Params.Reserve, upd.Reserve),
		check("freeze", asset.Params.Freeze, upd.Freeze),
		check("clawback", asset.Params.Clawback, upd.Clawback),
	); err != nil {
		return err
	}

	asset.Params.Manager = upd.Manager
	asset.Params.Reserve = upd.Reserve
	asset.Params.Freeze = upd.Freeze
	asset.Params.Clawback = upd.Clawback
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetConfig, map[string]any{
		"asset_id": id,
		"manager":  upd.Manager.String(),
		"reserve":  upd.Reserve.String(),
		"freeze":   upd.Freeze.String(),
		"clawback": upd.Clawback.String(),
	})
	return nil
}

func handleAssetTransfer(ctx *vm.Context) error {
	var p core.AssetTransferPayload
	if err := ctx.Tx.DecodePayload(&p); err != nil {
		return err
	}
	if p.Receiver.IsZero() {
		return errors.New("asset receiver required")
	}

	move := vm.AssetMove{
		AssetID:   p.AssetID,
		Authority: ctx.Tx.From,
		From:      ctx.Tx.From,
		To:        p.Receiver,
		Amount:    p.Amount,
	}
	if p.AssetSender != nil {
		move.From = *p.AssetSender
		move.Clawback = true
	}
	if err := vm.MoveAsset(ctx.State, move); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetTransfer, map[string]any{
		"asset_id": p.AssetID,
		"from":     move.From.String(),
		"to":       p.Receiver.String(),
		"amount":   p.Amount,
		"clawback": move.Clawback,
	})
	return nil
}
