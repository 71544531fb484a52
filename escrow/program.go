package escrow

import (
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/metrics"
	"github.com/tolelom/nftescrow/vm"
)

// ProgramName is the approval-program identifier an instance is deployed
// with.
const ProgramName = "nft-escrow/v1"

// Program runs the escrow machine inside the ledger VM. It decodes the
// instance's global state, applies the call, submits the resulting
// transfers as inner transactions and writes the new state back.
type Program struct{}

func init() {
	vm.RegisterProgram(ProgramName, Program{})
}

// Approve implements vm.Program.
func (Program) Approve(ac *vm.AppCall) error {
	call := Call{
		Sender:     ac.Sender(),
		Creating:   ac.Creating(),
		OnComplete: ac.OnComplete(),
		Args:       ac.Args(),
		Assets:     ac.Assets(),
		GroupSize:  ac.GroupSize(),
	}
	err := groupPayments(ac, &call)
	if err == nil {
		err = approve(ac, call)
	}
	metrics.Escrow().ObserveCall(ActionOf(call), err)
	return err
}

func approve(ac *vm.AppCall, call Call) error {
	prev, err := Decode(ac)
	if err != nil {
		return err
	}
	if len(call.Assets) > 0 {
		// A missing asset leaves call.Asset nil; the machine decides
		// whether that matters.
		if asset, err := ac.Asset(call.Assets[0]); err == nil {
			call.Asset = AssetInfoFrom(asset)
		}
	}

	out, err := Apply(prev, call)
	if err != nil {
		return err
	}

	for i, eff := range out.Effects {
		if err := submit(ac, eff); err != nil {
			return fmt.Errorf("%s: effect %d (%s): %w", out.Action, i, eff.Kind, err)
		}
	}
	if err := Encode(ac, &out.State); err != nil {
		return fmt.Errorf("%s: %w", out.Action, err)
	}

	if prev == nil || prev.Phase != out.State.Phase {
		from := "none"
		if prev != nil {
			from = prev.Phase.String()
		}
		ac.Emit(events.EventEscrowPhase, map[string]any{
			"app_id": ac.AppID(),
			"action": out.Action,
			"from":   from,
			"to":     out.State.Phase.String(),
			"owner":  out.State.Owner.String(),
		})
	}
	if out.Action == ActionValidateBuy {
		metrics.Escrow().ObserveSale()
	}
	return nil
}

// groupPayments collects the native payments of the other group members.
func groupPayments(ac *vm.AppCall, call *Call) error {
	for i := 0; i < ac.GroupSize(); i++ {
		tx, _ := ac.GroupTxn(i)
		if i == ac.GroupIndex() || tx.Type != core.TxPayment {
			continue
		}
		var p core.PaymentPayload
		if err := tx.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: group member %d: %v", ErrEncoding, i, err)
		}
		call.Payments = append(call.Payments, Payment{Sender: tx.From, Receiver: p.Receiver, Amount: p.Amount})
	}
	return nil
}

func submit(ac *vm.AppCall, eff Effect) error {
	switch eff.Kind {
	case EffectPayment:
		return ac.SubmitPayment(eff.Receiver, eff.Amount)
	case EffectAssetClawback:
		from := eff.AssetSender
		return ac.SubmitAssetTransfer(eff.AssetID, &from, eff.Receiver, eff.Amount)
	default:
		return fmt.Errorf("unknown effect kind %d", int(eff.Kind))
	}
}
