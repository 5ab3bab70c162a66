package vm

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
	"github.com/sparqnet/go-sparq/log"
)

// Intrinsic gas costs.
const (
	TxGas            = 21000
	TxCreateGas      = 53000
	TxDataZeroGas    = 4
	TxDataNonZeroGas = 16
)

// BlockContext is the block-level context a transaction executes under.
type BlockContext struct {
	Coinbase  types.Address
	Height    uint64
	Timestamp uint64
	GasLimit  uint64
}

// ExecResult is the outcome of one counted transaction. A reverted
// transaction is still counted in its block; its state effects are rolled
// back except for the sender nonce bump and the gas actually consumed.
type ExecResult struct {
	Status          Status
	GasUsed         uint64
	Output          []byte
	ContractAddress types.Address // set for contract creations
	Events          []Event
	// Err classifies a non-success status for the receipt surface:
	// ErrVMRevert for counted failures, wrapping ErrHostFault when the
	// revert came from the host side-channel.
	Err error
}

// Executor runs transactions against the state store through the host
// callback surface. One executor serves the whole node; transactions
// serialize on the state store's lock.
type Executor struct {
	state    *state.StateStore
	registry *Registry
	vm       VM
	chain    BlockHashReader
	chainID  uint64
	logger   *log.Logger
}

// NewExecutor wires an executor. chain may be nil in tests that never
// execute BLOCKHASH-style lookups.
func NewExecutor(st *state.StateStore, registry *Registry, vmImpl VM, chain BlockHashReader, chainID uint64) *Executor {
	return &Executor{
		state:    st,
		registry: registry,
		vm:       vmImpl,
		chain:    chain,
		chainID:  chainID,
		logger:   log.Default().Module("executor"),
	}
}

// ChainID returns the chain the executor validates transactions against.
func (e *Executor) ChainID() uint64 { return e.chainID }

// State returns the underlying state store.
func (e *Executor) State() *state.StateStore { return e.state }

// Registry returns the contract registry.
func (e *Executor) Registry() *Registry { return e.registry }

// ExecuteTransaction applies one transaction. A non-nil error means the
// transaction is invalid and must be excluded from the block entirely (no
// state effects). With a nil error the transaction is counted; the result
// status reports whether execution succeeded or reverted.
func (e *Executor) ExecuteTransaction(tx *types.Transaction, blockCtx BlockContext) (*ExecResult, error) {
	sender, err := crypto.TxSender(tx)
	if err != nil {
		return nil, err
	}
	if tx.ChainID() != e.chainID {
		return nil, fmt.Errorf("%w: tx %d, chain %d", ErrChainIDMismatch, tx.ChainID(), e.chainID)
	}
	intrinsic := intrinsicGas(tx)
	if tx.GasLimit() < intrinsic {
		return nil, fmt.Errorf("%w: limit %d, need %d", ErrIntrinsicGas, tx.GasLimit(), intrinsic)
	}

	txn := e.state.Begin()
	defer txn.End()

	if nonce := txn.GetNonce(sender); tx.Nonce() != nonce {
		return nil, fmt.Errorf("%w: tx %d, pending %d", ErrNonceMismatch, tx.Nonce(), nonce)
	}

	gasPrice := tx.GasPrice()
	gasCost := new(uint256.Int).Mul(uint256.NewInt(tx.GasLimit()), gasPrice)
	if err := txn.SubBalance(sender, gasCost); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	txn.IncNonce(sender)

	txCtx := TxContext{
		Origin:      sender,
		GasPrice:    gasPrice,
		Coinbase:    blockCtx.Coinbase,
		BlockNumber: blockCtx.Height,
		Timestamp:   blockCtx.Timestamp,
		GasLimit:    blockCtx.GasLimit,
		ChainID:     e.chainID,
		BaseFee:     uint256.NewInt(0),
	}
	host := newHostContext(txn, e.registry, e.vm, e.chain, txCtx, tx.Hash())

	msg := Message{
		Depth:  1,
		Gas:    tx.GasLimit() - intrinsic,
		Sender: sender,
		Value:  tx.Value(),
		Input:  tx.Data(),
	}

	cp := txn.Checkpoint()

	var res Result
	if tx.IsContractCreation() {
		msg.Kind = Create
		msg.Recipient = DeriveContractAddress(sender, tx.Nonce())
		msg.CodeAddress = msg.Recipient
		res = host.create(msg)
		if res.Status == Success && !host.shouldRevert {
			if err := e.registry.RegisterBytecode(msg.Recipient); err != nil {
				host.shouldRevert = true
			}
		}
	} else {
		msg.Kind = Call
		msg.Recipient = tx.To()
		msg.CodeAddress = tx.To()
		res = host.Call(msg)
	}

	status := res.Status
	if host.shouldRevert && status == Success {
		status = Revert
	}
	if status != Success {
		// Drop anything still staged above the pre-charge (covers faults
		// raised after the frame itself committed) and unregister whatever
		// this transaction deployed.
		txn.RevertFrame(cp)
		for _, addr := range txn.RecentlyCreated() {
			e.registry.Remove(addr)
		}
	}

	if res.GasLeft > msg.Gas {
		res.GasLeft = msg.Gas
	}
	gasUsed := intrinsic + (msg.Gas - res.GasLeft)
	refund := tx.GasLimit() - gasUsed
	if refund > 0 {
		txn.AddBalance(sender, new(uint256.Int).Mul(uint256.NewInt(refund), gasPrice))
	}
	txn.AddBalance(blockCtx.Coinbase, new(uint256.Int).Mul(uint256.NewInt(gasUsed), gasPrice))

	result := &ExecResult{
		Status:  status,
		GasUsed: gasUsed,
		Output:  res.Output,
	}
	if status == Success {
		result.ContractAddress = res.CreateAddress
		result.Events = append([]Event(nil), host.events...)
	} else {
		if host.shouldRevert {
			result.Err = fmt.Errorf("%w: %v", ErrVMRevert, ErrHostFault)
		} else {
			result.Err = ErrVMRevert
		}
		e.logger.Debug("transaction reverted", "tx", tx.Hash(), "status", status, "gasUsed", gasUsed)
	}
	return result, nil
}

// ValidateTransaction checks a transaction without executing it: signature,
// chain id, nonce against the sender's pending nonce, and balance against
// the full cost at the point of sequencing.
func (e *Executor) ValidateTransaction(tx *types.Transaction) error {
	sender, err := crypto.TxSender(tx)
	if err != nil {
		return err
	}
	if tx.ChainID() != e.chainID {
		return fmt.Errorf("%w: tx %d, chain %d", ErrChainIDMismatch, tx.ChainID(), e.chainID)
	}
	if intrinsic := intrinsicGas(tx); tx.GasLimit() < intrinsic {
		return fmt.Errorf("%w: limit %d, need %d", ErrIntrinsicGas, tx.GasLimit(), intrinsic)
	}
	if nonce := e.state.PendingNonce(sender); tx.Nonce() != nonce {
		return fmt.Errorf("%w: tx %d, pending %d", ErrNonceMismatch, tx.Nonce(), nonce)
	}
	if balance := e.state.PendingBalance(sender); balance.Lt(tx.Cost()) {
		return fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientFunds, balance, tx.Cost())
	}
	return nil
}

// intrinsicGas is the gas a transaction consumes before any code runs.
func intrinsicGas(tx *types.Transaction) uint64 {
	gas := uint64(TxGas)
	if tx.IsContractCreation() {
		gas = TxCreateGas
	}
	for _, b := range tx.Data() {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	return gas
}
