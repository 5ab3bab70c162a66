// Package vm implements the execution side of the chain: the host callback
// surface consumed by an external bytecode VM, the contract registry, the
// nested call stack and the transaction executor.
package vm

import (
	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
)

// Revision selects the EVM rule set the external VM should apply.
type Revision int

// LatestRevision is the only revision the chain currently runs.
const LatestRevision Revision = 12 // Shanghai-equivalent

// CallKind distinguishes plain calls from contract creation.
type CallKind int

const (
	Call CallKind = iota
	Create
)

// MaxCallDepth bounds the nested call stack.
const MaxCallDepth = 1024

// Status is the outcome of one VM execution.
type Status int

const (
	Success Status = iota
	Revert
	Failure
	OutOfGas
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Revert:
		return "revert"
	case Failure:
		return "failure"
	case OutOfGas:
		return "out of gas"
	default:
		return "unknown"
	}
}

// Message describes one call frame's input.
type Message struct {
	Kind      CallKind
	Depth     int
	Gas       uint64
	Sender    types.Address
	Recipient types.Address
	Value     *uint256.Int
	Input     []byte
	// CodeAddress is the account whose code runs; usually Recipient.
	CodeAddress types.Address
}

// Result is one VM execution's output.
type Result struct {
	Status        Status
	GasLeft       uint64
	Output        []byte
	CreateAddress types.Address
}

// VM is the external bytecode interpreter. Execute runs code against the
// host callback set and must not retain the host beyond the call.
type VM interface {
	Execute(host Host, rev Revision, msg Message, code []byte) Result
}

// TxContext is the transaction-level context exposed to the VM.
type TxContext struct {
	Origin      types.Address
	GasPrice    *uint256.Int
	Coinbase    types.Address
	BlockNumber uint64
	Timestamp   uint64
	GasLimit    uint64
	ChainID     uint64
	PrevRandao  types.Hash   // always zero
	BaseFee     *uint256.Int // always zero
}

// AccessStatus mirrors EIP-2929 access classification. The chain does not
// account cold penalties, so every access reports warm.
type AccessStatus int

const (
	Warm AccessStatus = iota
	Cold
)

// Event is one log record emitted during execution, buffered per frame and
// appended to the block event stream only at acceptance.
type Event struct {
	Contract types.Address
	Data     []byte
	Topics   []types.Hash
}

// Host is the callback surface handed to the external VM. Calls are
// synchronous and never suspend. Implementations trap internal faults into
// a side-channel flag instead of propagating them through the VM; the
// executor promotes the flag to a frame revert on return.
type Host interface {
	AccountExists(addr types.Address) bool
	GetStorage(addr types.Address, key types.Hash) types.Hash
	SetStorage(addr types.Address, key, value types.Hash) state.StorageStatus
	GetBalance(addr types.Address) *uint256.Int
	GetCodeSize(addr types.Address) int
	GetCodeHash(addr types.Address) types.Hash
	CopyCode(addr types.Address, offset int, dst []byte) int
	SelfDestruct(addr, beneficiary types.Address) bool
	Call(msg Message) Result
	GetTxContext() TxContext
	GetBlockHash(height uint64) types.Hash
	EmitLog(addr types.Address, data []byte, topics []types.Hash)
	AccessAccount(addr types.Address) AccessStatus
	AccessStorage(addr types.Address, key types.Hash) AccessStatus
	GetTransient(addr types.Address, key types.Hash) types.Hash
	SetTransient(addr types.Address, key, value types.Hash)
}

// BlockHashReader resolves committed block hashes by height.
type BlockHashReader interface {
	BlockHashAt(height uint64) (types.Hash, bool)
}
