// Package application implements application deployment and calls.
package application

import (
	"errors"
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/vm"
)

func init() {
	vm.Register(core.TxApplicationCall, handleApplicationCall)
}

func handleApplicationCall(ctx *vm.Context) error {
	var p core.ApplicationCallPayload
	if err := ctx.Tx.DecodePayload(&p); err != nil {
		return err
	}
	if err := checkCallLimits(ctx.Params, &p); err != nil {
		return err
	}
	if p.AppID == 0 {
		return createApplication(ctx, &p)
	}
	return callApplication(ctx, &p)
}

func checkCallLimits(params vm.Params, p *core.ApplicationCallPayload) error {
	if len(p.Args) > params.MaxAppArgs {
		return fmt.Errorf("too many args: %d > %d", len(p.Args), params.MaxAppArgs)
	}
	total := 0
	for i, a := range p.Args {
		if len(a) > params.MaxArgSize {
			return fmt.Errorf("arg %d too large: %d > %d bytes", i, len(a), params.MaxArgSize)
		}
		total += len(a)
	}
	if total > params.MaxTotalArgBytes {
		return fmt.Errorf("args too large: %d > %d bytes", total, params.MaxTotalArgBytes)
	}
	if len(p.Assets) > params.MaxForeignAssets {
		return fmt.Errorf("too many referenced assets: %d > %d", len(p.Assets), params.MaxForeignAssets)
	}
	return nil
}

func checkSchema(params vm.Params, global, local core.StateSchema) error {
	if global.NumUint > params.MaxGlobalSchema || global.NumByteSlice > params.MaxGlobalSchema {
		return fmt.Errorf("global schema exceeds max %d per kind", params.MaxGlobalSchema)
	}
	if local.NumUint > params.MaxLocalSchema || local.NumByteSlice > params.MaxLocalSchema {
		return fmt.Errorf("local schema exceeds max %d per kind", params.MaxLocalSchema)
	}
	return nil
}

func createApplication(ctx *vm.Context, p *core.ApplicationCallPayload) error {
	if p.OnComplete != core.NoOp {
		return fmt.Errorf("deployment requires on_complete %q, got %q", core.NoOp, p.OnComplete)
	}
	if len(p.ApprovalProgram) == 0 {
		return errors.New("approval program required")
	}
	clear := p.ClearProgram
	if len(clear) == 0 {
		clear = []byte(vm.ApproveAll)
	}
	for _, code := range [][]byte{p.ApprovalProgram, clear} {
		if _, ok := vm.LookupProgram(code); !ok {
			return fmt.Errorf("unknown program %q", string(code))
		}
	}
	if err := checkSchema(ctx.Params, p.GlobalSchema, p.LocalSchema); err != nil {
		return err
	}

	id, err := ctx.State.NextID()
	if err != nil {
		return err
	}
	app := &core.Application{
		ID:              id,
		Creator:         ctx.Tx.From,
		ApprovalProgram: p.ApprovalProgram,
		ClearProgram:    clear,
		GlobalSchema:    p.GlobalSchema,
		LocalSchema:     p.LocalSchema,
		GlobalState:     make(map[string]core.Value),
	}
	if err := vm.RunProgram(ctx, app, p, app.ApprovalProgram, true); err != nil {
		return err
	}
	if err := ctx.State.SetApplication(app); err != nil {
		return err
	}

	ctx.Receipt.CreatedAppID = id
	ctx.Emit(events.EventAppCreated, map[string]any{
		"app_id":  id,
		"creator": ctx.Tx.From.String(),
		"address": app.Address().String(),
	})
	return nil
}

func callApplication(ctx *vm.Context, p *core.ApplicationCallPayload) error {
	app, err := ctx.State.GetApplication(p.AppID)
	if err != nil {
		return fmt.Errorf("application %d: %w", p.AppID, err)
	}
	if app.GlobalState == nil {
		app.GlobalState = make(map[string]core.Value)
	}

	switch p.OnComplete {
	case core.NoOp, core.OptInOC, core.CloseOutOC, core.DeleteApplication, core.UpdateApplication:
		if err := vm.RunProgram(ctx, app, p, app.ApprovalProgram, false); err != nil {
			return err
		}
	case core.ClearStateOC:
		if err := vm.RunProgram(ctx, app, p, app.ClearProgram, false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown on_complete %q", p.OnComplete)
	}

	switch p.OnComplete {
	case core.DeleteApplication:
		if err := ctx.State.DeleteApplication(app.ID); err != nil {
			return err
		}
	case core.UpdateApplication:
		for _, code := range [][]byte{p.ApprovalProgram, p.ClearProgram} {
			if _, ok := vm.LookupProgram(code); !ok {
				return fmt.Errorf("unknown program %q", string(code))
			}
		}
		app.ApprovalProgram = p.ApprovalProgram
		app.ClearProgram = p.ClearProgram
		fallthrough
	default:
		if err := ctx.State.SetApplication(app); err != nil {
			return err
		}
	}

	ctx.Emit(events.EventAppCall, map[string]any{
		"app_id":      app.ID,
		"sender":      ctx.Tx.From.String(),
		"on_complete": string(p.OnComplete),
	})
	return nil
}
