// Package economy implements native-currency payments.
package economy

import (
	"fmt"

	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
	"github.com/tolelom/nftescrow/vm"
)

func init() {
	vm.Register(core.TxPayment, handlePayment)
}

func handlePayment(ctx *vm.Context) error {
	var p core.PaymentPayload
	if err := ctx.Tx.DecodePayload(&p); err != nil {
		return err
	}
	if p.Receiver.IsZero() {
		return fmt.Errorf("payment receiver required")
	}
	if err := vm.Pay(ctx.State, ctx.Tx.From, p.Receiver, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventPayment, map[string]any{
		"from":   ctx.Tx.From.String(),
		"to":     p.Receiver.String(),
		"amount": p.Amount,
	})
	return nil
}
