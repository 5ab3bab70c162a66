package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
	"github.com/sparqnet/go-sparq/log"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the pending
	// balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrCodeImmutable is returned when setting code on an address that
	// already has non-empty code.
	ErrCodeImmutable = errors.New("state: contract code is immutable")
)

// StorageStatus classifies a storage write, following EIP-1283.
type StorageStatus int

const (
	StorageAssigned StorageStatus = iota
	StorageAdded
	StorageModified
	StorageDeleted
)

func (st StorageStatus) String() string {
	switch st {
	case StorageAssigned:
		return "ASSIGNED"
	case StorageAdded:
		return "ADDED"
	case StorageModified:
		return "MODIFIED"
	case StorageDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// StateStore owns the account map and its two-layer values. Methods on the
// store itself read the committed layer (PendingNonce and PendingBalance
// read the pending layer) and serialize on the store mutex.
// A transaction obtains a Txn view via Begin, which holds the mutex
// exclusively until End: transactions on the same block serialize here,
// and committed-layer readers block while one is active.
type StateStore struct {
	mu       sync.Mutex
	accounts map[types.Address]*Account

	// Access log of the processing block, segmented by frame checkpoints.
	log []accessEntry

	// Deployed contract addresses keyed by creating tx hash. Persisted.
	contractAddresses map[types.Hash]types.Address

	logger *log.Logger
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		accounts:          make(map[types.Address]*Account),
		contractAddresses: make(map[types.Hash]types.Address),
		logger:            log.Default().Module("state"),
	}
}

func (s *StateStore) account(addr types.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = newAccount()
		s.accounts[addr] = acc
	}
	return acc
}

// Exists reports whether the store has an entry for addr.
func (s *StateStore) Exists(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[addr]
	return ok
}

// CreateAccount ensures an entry exists for addr.
func (s *StateStore) CreateAccount(addr types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account(addr)
}

// IsContract reports whether addr carries non-empty committed code.
func (s *StateStore) IsContract(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[addr]
	return ok && len(acc.code.committed) > 0
}

// GetBalance returns the committed balance.
func (s *StateStore) GetBalance(addr types.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		return acc.balance.committed.Clone()
	}
	return uint256.NewInt(0)
}

// GetNonce returns the committed nonce.
func (s *StateStore) GetNonce(addr types.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		return acc.nonce.committed
	}
	return 0
}

// PendingNonce returns the pending nonce, the value the next sequenced
// transaction of addr must carry.
func (s *StateStore) PendingNonce(addr types.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		return acc.nonce.pending
	}
	return 0
}

// PendingBalance returns the pending balance.
func (s *StateStore) PendingBalance(addr types.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		return acc.balance.pending.Clone()
	}
	return uint256.NewInt(0)
}

// GetCode returns the committed code.
func (s *StateStore) GetCode(addr types.Address) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		return acc.code.committed
	}
	return nil
}

// GetStorage returns the committed slot value. Absent keys read as zero.
func (s *StateStore) GetStorage(addr types.Address, key types.Hash) types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[addr]; ok {
		if c, ok := acc.storage[key]; ok {
			return c.committed
		}
	}
	return types.Hash{}
}

// AddBalance credits both layers directly, bypassing the access log. Used
// only for genesis allocation before any block processes.
func (s *StateStore) AddBalance(addr types.Address, value *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.account(addr)
	acc.balance.pending = new(uint256.Int).Add(acc.balance.pending, value)
	acc.balance.committed = acc.balance.pending.Clone()
}

// ContractAddress returns the address deployed by txHash.
func (s *StateStore) ContractAddress(txHash types.Hash) (types.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.contractAddresses[txHash]
	return addr, ok
}

// Commit promotes every staged pending value to committed, walking the
// access log in reverse insertion order, and clears the log. Called when a
// block is accepted.
func (s *StateStore) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.log) - 1; i >= 0; i-- {
		s.log[i].commit(s)
	}
	s.log = s.log[:0]
}

// Revert restores the committed layer over every staged pending value,
// walking the access log in reverse insertion order, and clears the log.
// Called when a processing block is rejected.
func (s *StateStore) Revert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.log) - 1; i >= 0; i-- {
		s.log[i].revert(s)
	}
	s.log = s.log[:0]
}

// Txn is the exclusive view of the store held for the duration of one
// transaction. All reads through a Txn see the pending layer. The creating
// goroutine must call End exactly once.
type Txn struct {
	s         *StateStore
	ended     bool
	recent    []types.Address // contracts created by this transaction
	touchedTr []types.Address
}

// Begin locks the store for one transaction and returns its view.
func (s *StateStore) Begin() *Txn {
	s.mu.Lock()
	return &Txn{s: s}
}

// End clears transient storage for every address the transaction touched,
// resets the recently-created list, and releases the store. Runs on both
// success and failure paths.
func (t *Txn) End() {
	if t.ended {
		return
	}
	t.ended = true
	for _, addr := range t.touchedTr {
		if acc := t.s.accounts[addr]; acc != nil {
			acc.transient = make(map[types.Hash]types.Hash)
		}
	}
	t.recent = nil
	t.s.mu.Unlock()
}

// Exists reports whether the store has an entry for addr.
func (t *Txn) Exists(addr types.Address) bool {
	_, ok := t.s.accounts[addr]
	return ok
}

// CreateAccount ensures an entry exists for addr.
func (t *Txn) CreateAccount(addr types.Address) {
	t.s.account(addr)
}

// IsContract reports whether addr has non-empty pending code.
func (t *Txn) IsContract(addr types.Address) bool {
	acc, ok := t.s.accounts[addr]
	return ok && acc.isContract()
}

// GetBalance returns the pending balance.
func (t *Txn) GetBalance(addr types.Address) *uint256.Int {
	if acc, ok := t.s.accounts[addr]; ok {
		return acc.balance.pending.Clone()
	}
	return uint256.NewInt(0)
}

// AddBalance credits the pending balance and records the access.
func (t *Txn) AddBalance(addr types.Address, value *uint256.Int) {
	acc := t.s.account(addr)
	t.s.log = append(t.s.log, balanceAccess{addr: addr})
	acc.balance.pending = new(uint256.Int).Add(acc.balance.pending, value)
}

// SubBalance debits the pending balance, failing without mutation when the
// funds are insufficient.
func (t *Txn) SubBalance(addr types.Address, value *uint256.Int) error {
	acc, ok := t.s.accounts[addr]
	if !ok || acc.balance.pending.Lt(value) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, addr)
	}
	t.s.log = append(t.s.log, balanceAccess{addr: addr})
	acc.balance.pending = new(uint256.Int).Sub(acc.balance.pending, value)
	return nil
}

// GetNonce returns the pending nonce.
func (t *Txn) GetNonce(addr types.Address) uint64 {
	if acc, ok := t.s.accounts[addr]; ok {
		return acc.nonce.pending
	}
	return 0
}

// IncNonce bumps the pending nonce and records the access.
func (t *Txn) IncNonce(addr types.Address) {
	acc := t.s.account(addr)
	t.s.log = append(t.s.log, nonceAccess{addr: addr})
	acc.nonce.pending++
}

// GetCode returns the pending code.
func (t *Txn) GetCode(addr types.Address) []byte {
	if acc, ok := t.s.accounts[addr]; ok {
		return acc.code.pending
	}
	return nil
}

// GetCodeSize returns the pending code length.
func (t *Txn) GetCodeSize(addr types.Address) int {
	if acc, ok := t.s.accounts[addr]; ok {
		return len(acc.code.pending)
	}
	return 0
}

// GetCodeHash returns the pending code hash, zero for absent accounts.
func (t *Txn) GetCodeHash(addr types.Address) types.Hash {
	if acc, ok := t.s.accounts[addr]; ok {
		return acc.codeHash.pending
	}
	return types.Hash{}
}

// SetCode writes pending code and code hash. Code is immutable after the
// first non-empty assignment.
func (t *Txn) SetCode(addr types.Address, code []byte) error {
	acc := t.s.account(addr)
	if acc.isContract() {
		return fmt.Errorf("%w: %s", ErrCodeImmutable, addr)
	}
	t.s.log = append(t.s.log, codeAccess{addr: addr})
	acc.code.pending = append([]byte(nil), code...)
	if len(code) == 0 {
		acc.codeHash.pending = types.EmptyCodeHash
	} else {
		acc.codeHash.pending = crypto.Keccak256Hash(code)
	}
	return nil
}

// GetStorage returns the pending slot value. Absent keys read as zero.
func (t *Txn) GetStorage(addr types.Address, key types.Hash) types.Hash {
	if acc, ok := t.s.accounts[addr]; ok {
		if c, ok := acc.storage[key]; ok {
			return c.pending
		}
	}
	return types.Hash{}
}

// GetCommittedStorage returns the committed slot value.
func (t *Txn) GetCommittedStorage(addr types.Address, key types.Hash) types.Hash {
	if acc, ok := t.s.accounts[addr]; ok {
		if c, ok := acc.storage[key]; ok {
			return c.committed
		}
	}
	return types.Hash{}
}

// SetStorage writes the pending slot value, records the access and returns
// the EIP-1283 status of the write.
func (t *Txn) SetStorage(addr types.Address, key, value types.Hash) StorageStatus {
	acc := t.s.account(addr)
	c := acc.slot(key)
	t.s.log = append(t.s.log, storageAccess{addr: addr, key: key})

	if c.pending == value {
		return StorageAssigned
	}
	var status StorageStatus
	if c.committed == c.pending {
		switch {
		case c.pending.IsZero():
			status = StorageAdded
		case value.IsZero():
			status = StorageDeleted
		default:
			status = StorageModified
		}
	} else {
		status = StorageAssigned
	}
	c.pending = value
	return status
}

// GetTransient reads transient storage. Absent keys read as zero.
func (t *Txn) GetTransient(addr types.Address, key types.Hash) types.Hash {
	if acc, ok := t.s.accounts[addr]; ok {
		return acc.transient[key]
	}
	return types.Hash{}
}

// SetTransient writes transient storage and records the touched address so
// End clears it.
func (t *Txn) SetTransient(addr types.Address, key, value types.Hash) {
	acc := t.s.account(addr)
	t.s.log = append(t.s.log, transientAccess{addr: addr})
	t.touchedTr = append(t.touchedTr, addr)
	acc.transient[key] = value
}

// RegisterContract records a contract deployed by txHash and marks it
// recently created. The registry is append-only outside of revert.
func (t *Txn) RegisterContract(txHash types.Hash, addr types.Address) {
	t.s.log = append(t.s.log, contractCreation{txHash: txHash, addr: addr})
	t.s.contractAddresses[txHash] = addr
	t.recent = append(t.recent, addr)
}

// RecentlyCreated returns the addresses of contracts created by this
// transaction so far.
func (t *Txn) RecentlyCreated() []types.Address {
	return append([]types.Address(nil), t.recent...)
}

// Checkpoint marks the current access-log position. A later RevertFrame
// with the same mark undoes everything recorded after it.
func (t *Txn) Checkpoint() int {
	return len(t.s.log)
}

// CommitFrame merges the log segment above the checkpoint into the parent
// frame by keeping it staged. Promotion to the committed layer happens only
// at block acceptance.
func (t *Txn) CommitFrame(cp int) {}

// RevertFrame walks the log above the checkpoint in reverse insertion
// order, restoring the committed layer over pending, and drops the
// entries.
func (t *Txn) RevertFrame(cp int) {
	if cp < 0 || cp > len(t.s.log) {
		return
	}
	for i := len(t.s.log) - 1; i >= cp; i-- {
		t.s.log[i].revert(t.s)
	}
	t.s.log = t.s.log[:cp]
}
