// Package state owns the world state: accounts with two-layer
// (committed/pending) values, per-frame access logs for atomic
// commit/revert, and the durable snapshot.
package state

import (
	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/types"
)

// Every mutable account field is a pair of layers. The committed layer
// reflects the last accepted block; the pending layer reflects the
// in-flight transaction. Reverting copies committed over pending;
// committing copies pending over committed. The revert granularity is per
// access, driven by the store's access log, never a whole-map copy.

type nonceCell struct {
	committed, pending uint64
}

func (c *nonceCell) commit() { c.committed = c.pending }
func (c *nonceCell) revert() { c.pending = c.committed }

type balanceCell struct {
	committed, pending *uint256.Int
}

func newBalanceCell() balanceCell {
	return balanceCell{committed: uint256.NewInt(0), pending: uint256.NewInt(0)}
}

func (c *balanceCell) commit() { c.committed = c.pending.Clone() }
func (c *balanceCell) revert() { c.pending = c.committed.Clone() }

type codeCell struct {
	committed, pending []byte
}

func (c *codeCell) commit() { c.committed = c.pending }
func (c *codeCell) revert() { c.pending = c.committed }

type hashCell struct {
	committed, pending types.Hash
}

func (c *hashCell) commit() { c.committed = c.pending }
func (c *hashCell) revert() { c.pending = c.committed }

type slotCell struct {
	committed, pending types.Hash
}

func (c *slotCell) commit() { c.committed = c.pending }
func (c *slotCell) revert() { c.pending = c.committed }

// Account holds one account's state. Transient storage has a single layer
// and is cleared at every transaction boundary regardless of outcome.
type Account struct {
	nonce     nonceCell
	balance   balanceCell
	code      codeCell
	codeHash  hashCell
	storage   map[types.Hash]*slotCell
	transient map[types.Hash]types.Hash
}

func newAccount() *Account {
	return &Account{
		balance:   newBalanceCell(),
		codeHash:  hashCell{committed: types.EmptyCodeHash, pending: types.EmptyCodeHash},
		storage:   make(map[types.Hash]*slotCell),
		transient: make(map[types.Hash]types.Hash),
	}
}

// slot returns the storage cell for key, creating it zero-valued.
func (a *Account) slot(key types.Hash) *slotCell {
	c, ok := a.storage[key]
	if !ok {
		c = &slotCell{}
		a.storage[key] = c
	}
	return c
}

// isContract reports whether the pending code is non-empty.
func (a *Account) isContract() bool {
	return len(a.code.pending) > 0
}
