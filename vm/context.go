package vm

import (
	"github.com/tolelom/nftescrow/core"
	"github.com/tolelom/nftescrow/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction and its group, and a
// buffered event sink.
type Context struct {
	State      core.State
	Block      *core.Block
	Tx         *core.Transaction
	Group      []*core.Transaction
	GroupIndex int
	Params     Params
	Receipt    *core.Receipt

	pending *[]events.Event
}

// Emit queues ev for delivery. Queued events are dropped if the group
// aborts and delivered in order once it commits.
func (ctx *Context) Emit(typ events.EventType, data map[string]any) {
	if ctx.pending == nil {
		return
	}
	*ctx.pending = append(*ctx.pending, events.Event{
		Type:        typ,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data:        data,
	})
}

// Round returns the height of the block being built.
func (ctx *Context) Round() int64 {
	return ctx.Block.Header.Height
}
