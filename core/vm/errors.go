package vm

import "errors"

var (
	// ErrInsufficientFunds is returned when the gas pre-charge fails.
	ErrInsufficientFunds = errors.New("vm: insufficient funds for gas")
	// ErrNonceMismatch is returned when a transaction nonce does not equal
	// the sender's pending nonce.
	ErrNonceMismatch = errors.New("vm: nonce mismatch")
	// ErrChainIDMismatch is returned for transactions bound to another chain.
	ErrChainIDMismatch = errors.New("vm: chain id mismatch")
	// ErrVMRevert marks a counted transaction whose execution reverted.
	ErrVMRevert = errors.New("vm: execution reverted")
	// ErrHostFault marks an internal fault inside a host callback; it is
	// always promoted to ErrVMRevert handling.
	ErrHostFault = errors.New("vm: host fault")
	// ErrSelfDestructUnsupported is raised by the selfdestruct callback.
	ErrSelfDestructUnsupported = errors.New("vm: selfdestruct is not supported")
	// ErrIntrinsicGas is returned when the gas limit cannot cover the
	// intrinsic cost.
	ErrIntrinsicGas = errors.New("vm: intrinsic gas too low")
	// ErrContractExists is returned when registering a handler for an
	// address that already has one.
	ErrContractExists = errors.New("vm: contract already registered")
)
