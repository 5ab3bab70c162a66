package vm

import (
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
)

// ContractKind tags the two handler variants held by the registry.
type ContractKind int

const (
	// KindBytecode marks a contract whose code lives in its account and
	// runs on the external VM.
	KindBytecode ContractKind = iota
	// KindPrecompile marks a native contract dispatching on a fixed
	// 4-byte selector table.
	KindPrecompile
)

// Selector is the leading 4 bytes of call input, identifying the function
// of a native precompile.
type Selector [4]byte

// NativeFunc is one entry of a precompile dispatch table. It runs inside
// the current frame and must not suspend.
type NativeFunc func(host Host, msg Message) Result

// Handler is the registry's tagged variant: bytecode contracts carry no
// table, precompiles carry their dispatch table.
type Handler struct {
	Kind  ContractKind
	Table map[Selector]NativeFunc
}

// Registry maps deployed contract addresses to their handlers. It is
// appended to exclusively via contract-creation execution (precompiles are
// installed once at genesis); removal only happens when a creating
// transaction reverts.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.Address]*Handler
}

// NewRegistry creates an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.Address]*Handler)}
}

// RegisterBytecode records a bytecode contract at addr.
func (r *Registry) RegisterBytecode(addr types.Address) error {
	return r.register(addr, &Handler{Kind: KindBytecode})
}

// RegisterPrecompile records a native contract with its dispatch table.
func (r *Registry) RegisterPrecompile(addr types.Address, table map[Selector]NativeFunc) error {
	return r.register(addr, &Handler{Kind: KindPrecompile, Table: table})
}

func (r *Registry) register(addr types.Address, h *Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[addr]; ok {
		return ErrContractExists
	}
	r.handlers[addr] = h
	return nil
}

// Get returns the handler for addr.
func (r *Registry) Get(addr types.Address) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[addr]
	return h, ok
}

// Remove deletes the handler for addr. Used only when the creating
// transaction reverts.
func (r *Registry) Remove(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, addr)
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
