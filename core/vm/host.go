package vm

import (
	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/log"
)

// hostContext is the Host implementation backing one transaction. It
// mediates every state access of the external VM through the transaction's
// state view, buffers emitted events per frame, and traps internal faults
// into the shouldRevert side-channel instead of letting them surface inside
// the VM.
type hostContext struct {
	txn      *state.Txn
	registry *Registry
	vm       VM
	chain    BlockHashReader
	txCtx    TxContext
	txHash   types.Hash

	events       []Event
	shouldRevert bool
	logger       *log.Logger
}

func newHostContext(txn *state.Txn, registry *Registry, vmImpl VM, chain BlockHashReader, txCtx TxContext, txHash types.Hash) *hostContext {
	return &hostContext{
		txn:      txn,
		registry: registry,
		vm:       vmImpl,
		chain:    chain,
		txCtx:    txCtx,
		txHash:   txHash,
		logger:   log.Default().Module("evm"),
	}
}

func (h *hostContext) AccountExists(addr types.Address) bool {
	return h.txn.Exists(addr)
}

func (h *hostContext) GetStorage(addr types.Address, key types.Hash) types.Hash {
	return h.txn.GetStorage(addr, key)
}

func (h *hostContext) SetStorage(addr types.Address, key, value types.Hash) state.StorageStatus {
	return h.txn.SetStorage(addr, key, value)
}

func (h *hostContext) GetBalance(addr types.Address) *uint256.Int {
	return h.txn.GetBalance(addr)
}

func (h *hostContext) GetCodeSize(addr types.Address) int {
	return h.txn.GetCodeSize(addr)
}

func (h *hostContext) GetCodeHash(addr types.Address) types.Hash {
	return h.txn.GetCodeHash(addr)
}

func (h *hostContext) CopyCode(addr types.Address, offset int, dst []byte) int {
	code := h.txn.GetCode(addr)
	if offset < 0 || offset >= len(code) {
		return 0
	}
	return copy(dst, code[offset:])
}

// SelfDestruct is not supported on this chain. The callback raises the
// revert side-channel and reports failure to the VM.
func (h *hostContext) SelfDestruct(addr, beneficiary types.Address) bool {
	h.logger.Debug("callback rejected", "addr", addr, "err", ErrSelfDestructUnsupported)
	h.shouldRevert = true
	return false
}

// Call opens a nested frame: transfers the call value, runs the callee
// (native or bytecode), and merges the child's staged writes into the
// parent on success or reverts them on failure. Events emitted by the
// child are discarded with its writes when it fails.
func (h *hostContext) Call(msg Message) Result {
	if msg.Depth > MaxCallDepth {
		return Result{Status: Failure}
	}
	cp := h.txn.Checkpoint()
	evMark := len(h.events)

	if msg.Value != nil && !msg.Value.IsZero() {
		if err := h.txn.SubBalance(msg.Sender, msg.Value); err != nil {
			return Result{Status: Revert, GasLeft: msg.Gas}
		}
		h.txn.AddBalance(msg.Recipient, msg.Value)
	}

	res := h.execute(msg)
	if res.Status == Success && !h.shouldRevert {
		h.txn.CommitFrame(cp)
	} else {
		h.txn.RevertFrame(cp)
		h.events = h.events[:evMark]
	}
	return res
}

// execute dispatches the frame body: precompile table, bytecode, or plain
// transfer for codeless recipients.
func (h *hostContext) execute(msg Message) Result {
	if handler, ok := h.registry.Get(msg.CodeAddress); ok && handler.Kind == KindPrecompile {
		if len(msg.Input) < 4 {
			return Result{Status: Revert, GasLeft: msg.Gas}
		}
		var sel Selector
		copy(sel[:], msg.Input[:4])
		fn, ok := handler.Table[sel]
		if !ok {
			return Result{Status: Revert, GasLeft: msg.Gas}
		}
		return fn(h, msg)
	}

	code := h.txn.GetCode(msg.CodeAddress)
	if len(code) == 0 {
		return Result{Status: Success, GasLeft: msg.Gas}
	}
	return h.vm.Execute(h, LatestRevision, msg, code)
}

// create runs initialization code and installs the produced bytecode at
// msg.Recipient, registering the contract under the creating transaction.
func (h *hostContext) create(msg Message) Result {
	cp := h.txn.Checkpoint()
	evMark := len(h.events)

	h.txn.CreateAccount(msg.Recipient)
	if msg.Value != nil && !msg.Value.IsZero() {
		if err := h.txn.SubBalance(msg.Sender, msg.Value); err != nil {
			return Result{Status: Revert, GasLeft: msg.Gas}
		}
		h.txn.AddBalance(msg.Recipient, msg.Value)
	}

	res := h.vm.Execute(h, LatestRevision, msg, msg.Input)
	if res.Status == Success && !h.shouldRevert {
		if err := h.txn.SetCode(msg.Recipient, res.Output); err != nil {
			h.logger.Warn("code install failed", "addr", msg.Recipient, "err", err)
			h.shouldRevert = true
		} else {
			h.txn.RegisterContract(h.txHash, msg.Recipient)
		}
	}
	if res.Status == Success && !h.shouldRevert {
		h.txn.CommitFrame(cp)
		res.CreateAddress = msg.Recipient
	} else {
		h.txn.RevertFrame(cp)
		h.events = h.events[:evMark]
	}
	return res
}

func (h *hostContext) GetTxContext() TxContext {
	return h.txCtx
}

// GetBlockHash returns the committed block hash at the given height, or
// the zero hash when out of range.
func (h *hostContext) GetBlockHash(height uint64) types.Hash {
	if h.chain == nil {
		return types.Hash{}
	}
	hash, ok := h.chain.BlockHashAt(height)
	if !ok {
		return types.Hash{}
	}
	return hash
}

func (h *hostContext) EmitLog(addr types.Address, data []byte, topics []types.Hash) {
	h.events = append(h.events, Event{
		Contract: addr,
		Data:     append([]byte(nil), data...),
		Topics:   append([]types.Hash(nil), topics...),
	})
}

// AccessAccount always reports warm; cold-access accounting is not done.
func (h *hostContext) AccessAccount(addr types.Address) AccessStatus {
	return Warm
}

// AccessStorage always reports warm.
func (h *hostContext) AccessStorage(addr types.Address, key types.Hash) AccessStatus {
	return Warm
}

func (h *hostContext) GetTransient(addr types.Address, key types.Hash) types.Hash {
	return h.txn.GetTransient(addr, key)
}

func (h *hostContext) SetTransient(addr types.Address, key, value types.Hash) {
	h.txn.SetTransient(addr, key, value)
}

var _ Host = (*hostContext)(nil)
