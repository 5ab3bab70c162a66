package state

import "github.com/sparqnet/go-sparq/core/types"

// accessEntry is one revertible (and committable) state access. Entries are
// recorded in insertion order and walked in reverse by both Commit and
// Revert, mirroring the layering of nested call frames.
type accessEntry interface {
	commit(s *StateStore)
	revert(s *StateStore)
}

type balanceAccess struct {
	addr types.Address
}

func (e balanceAccess) commit(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.balance.commit()
	}
}

func (e balanceAccess) revert(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.balance.revert()
	}
}

type nonceAccess struct {
	addr types.Address
}

func (e nonceAccess) commit(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.nonce.commit()
	}
}

func (e nonceAccess) revert(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.nonce.revert()
	}
}

type codeAccess struct {
	addr types.Address
}

func (e codeAccess) commit(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.code.commit()
		acc.codeHash.commit()
	}
}

func (e codeAccess) revert(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.code.revert()
		acc.codeHash.revert()
	}
}

type storageAccess struct {
	addr types.Address
	key  types.Hash
}

func (e storageAccess) commit(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		if c, ok := acc.storage[e.key]; ok {
			c.commit()
		}
	}
}

func (e storageAccess) revert(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		if c, ok := acc.storage[e.key]; ok {
			c.revert()
		}
	}
}

// transientAccess marks an address whose transient storage was touched, so
// the transaction boundary can clear it. Transient storage has no committed
// layer: commit and revert both leave clearing to the boundary.
type transientAccess struct {
	addr types.Address
}

func (e transientAccess) commit(s *StateStore) {}

func (e transientAccess) revert(s *StateStore) {
	if acc := s.accounts[e.addr]; acc != nil {
		acc.transient = make(map[types.Hash]types.Hash)
	}
}

// contractCreation records a registry append so a failed transaction can
// unregister the contract it created.
type contractCreation struct {
	txHash types.Hash
	addr   types.Address
}

func (e contractCreation) commit(s *StateStore) {}

func (e contractCreation) revert(s *StateStore) {
	delete(s.contractAddresses, e.txHash)
}
