package core

import (
	"fmt"
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// ValidatorSet is the fixed set of addresses allowed to propose blocks and
// sign validator transactions. The set does not rotate at runtime.
type ValidatorSet struct {
	mu      sync.RWMutex
	members map[types.Address]struct{}
	order   []types.Address
}

// NewValidatorSet builds a set from the given members.
func NewValidatorSet(members []types.Address) *ValidatorSet {
	vs := &ValidatorSet{members: make(map[types.Address]struct{}, len(members))}
	for _, m := range members {
		if _, ok := vs.members[m]; ok {
			continue
		}
		vs.members[m] = struct{}{}
		vs.order = append(vs.order, m)
	}
	return vs
}

// Contains reports membership.
func (vs *ValidatorSet) Contains(addr types.Address) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.members[addr]
	return ok
}

// Members returns the validators in registration order.
func (vs *ValidatorSet) Members() []types.Address {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return append([]types.Address(nil), vs.order...)
}

// Len returns the set size.
func (vs *ValidatorSet) Len() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.members)
}

// VerifyValidatorTxs checks that every validator transaction is signed by a
// current-set validator and that each signer contributes exactly one slot.
func (vs *ValidatorSet) VerifyValidatorTxs(txs []*types.Transaction) error {
	seen := make(map[types.Address]struct{}, len(txs))
	for i, tx := range txs {
		signer, err := crypto.TxSender(tx)
		if err != nil {
			return fmt.Errorf("validator tx %d: %w", i, err)
		}
		if !vs.Contains(signer) {
			return fmt.Errorf("%w: validator tx %d signer %s", ErrBadSignature, i, signer)
		}
		if _, dup := seen[signer]; dup {
			return fmt.Errorf("%w: validator %s holds more than one slot", ErrBadSignature, signer)
		}
		seen[signer] = struct{}{}
	}
	return nil
}
