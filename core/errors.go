package core

import "errors"

var (
	// ErrBadSignature marks an invalid block or transaction signature.
	ErrBadSignature = errors.New("core: bad signature")
	// ErrBadMerkleRoot marks a validator Merkle root mismatch.
	ErrBadMerkleRoot = errors.New("core: validator merkle root mismatch")
	// ErrBlockTooOld marks a block at or below the accepted height.
	ErrBlockTooOld = errors.New("core: block height not above accepted chain")
	// ErrBlockUnknown marks an operation on a hash the node has not seen.
	ErrBlockUnknown = errors.New("core: block unknown")
	// ErrInvalidParent marks a candidate not extending the latest accepted block.
	ErrInvalidParent = errors.New("core: parent is not the chain head")
	// ErrInvalidTimestamp marks a timestamp not after the parent's.
	ErrInvalidTimestamp = errors.New("core: timestamp not after parent")
	// ErrInvalidHeight marks a height that is not parent height + 1.
	ErrInvalidHeight = errors.New("core: height does not extend parent")
	// ErrEmptyMempool is returned by the builder when there is nothing to
	// propose.
	ErrEmptyMempool = errors.New("core: no transactions to propose")
	// ErrNotValidator is returned when this node cannot propose blocks.
	ErrNotValidator = errors.New("core: node has no validator key")
)
