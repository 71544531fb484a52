// Package events is a small synchronous pub/sub broker for ledger events.
package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit    EventType = "block_commit"
	EventGroupCommitted EventType = "group_committed"
	EventGroupRejected  EventType = "group_rejected"
	EventPayment        EventType = "payment"
	EventAssetCreated   EventType = "asset_created"
	EventAssetConfig    EventType = "asset_config"
	EventAssetTransfer  EventType = "asset_transfer"
	EventAppCreated     EventType = "app_created"
	EventAppCall        EventType = "app_call"
	EventEscrowPhase    EventType = "escrow_phase"
)

// Event carries a typed payload emitted after a state change.
// Events emitted while a group executes are buffered by the executor and
// only delivered once the group commits.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *slog.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		logger:   slog.Default().With("component", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("handler panicked", "event", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
