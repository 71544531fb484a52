package vm

import (
	"fmt"
	"sync"

	"github.com/tolelom/nftescrow/core"
)

// Handler is the function signature every transaction module must implement.
// Returning an error aborts the whole group the transaction belongs to.
type Handler func(ctx *Context) error

// Registry maps TxTypes to Handlers. Thread-safe for concurrent registration.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for TxType %q", typ))
	}
	r.handlers[typ] = h
}

// Execute dispatches ctx.Tx to the handler registered for its type.
func (r *Registry) Execute(ctx *Context) error {
	r.mu.RLock()
	h, ok := r.handlers[ctx.Tx.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vm: no handler registered for TxType %q", ctx.Tx.Type)
	}
	return h(ctx)
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds a handler to the global registry.
// Module init() functions call this to self-register.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// programs maps approval-program identifiers to their implementation.
var programs = struct {
	sync.RWMutex
	byName map[string]Program
}{byName: make(map[string]Program)}

// RegisterProgram makes p deployable under name. The name is what an
// application's approval or clear program bytes contain. Panics on
// duplicate registration.
func RegisterProgram(name string, p Program) {
	programs.Lock()
	defer programs.Unlock()
	if _, exists := programs.byName[name]; exists {
		panic(fmt.Sprintf("vm: program already registered under %q", name))
	}
	programs.byName[name] = p
}

// LookupProgram resolves program bytes to a registered Program.
func LookupProgram(code []byte) (Program, bool) {
	programs.RLock()
	defer programs.RUnlock()
	p, ok := programs.byName[string(code)]
	return p, ok
}

// ApproveAll is the trivial program that accepts every call. It is
// registered as the standard clear-state program.
const ApproveAll = "approve-all"

type approveAll struct{}

func (approveAll) Approve(*AppCall) error { return nil }

func init() {
	RegisterProgram(ApproveAll, approveAll{})
}
