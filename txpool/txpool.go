// Package txpool implements the mempool: the pending payload-transaction
// set and the validator-transaction set, both keyed by transaction hash,
// with single-shot validation and gossip scheduling on first accept.
package txpool

import (
	"container/list"
	"errors"
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/log"
)

var (
	// ErrAlreadyKnown is returned for duplicate hashes; duplicates are
	// never re-broadcast.
	ErrAlreadyKnown = errors.New("txpool: already known")
	// ErrPoolFull is returned when the pool reached its size policy.
	ErrPoolFull = errors.New("txpool: pool is full")
)

// Validator performs per-transaction validation, applied exactly once at
// insertion.
type Validator interface {
	ValidateTransaction(tx *types.Transaction) error
}

// Broadcaster schedules gossip fan-out for first-seen transactions.
type Broadcaster interface {
	BroadcastTx(tx *types.Transaction)
	BroadcastValidatorTx(tx *types.Transaction)
}

// Config bounds the pool.
type Config struct {
	MaxSize int // maximum payload transactions held
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 4096}
}

// entry keeps a transaction with its arrival-order list element so removal
// stays O(1).
type entry struct {
	tx   *types.Transaction
	elem *list.Element
}

// Pool is the mempool. Insertion order is preserved for block building;
// lookups, inserts and erases are O(1) under the pool mutex.
type Pool struct {
	mu          sync.Mutex
	cfg         Config
	validator   Validator
	broadcaster Broadcaster

	txs     map[types.Hash]*entry
	txOrder *list.List // of types.Hash, arrival order

	validatorTxs   map[types.Hash]*entry
	validatorOrder *list.List

	logger *log.Logger
}

// New creates a pool. validator and broadcaster may be nil (no validation,
// no gossip), which only tests use.
func New(cfg Config, validator Validator, broadcaster Broadcaster) *Pool {
	return &Pool{
		cfg:            cfg,
		validator:      validator,
		broadcaster:    broadcaster,
		txs:            make(map[types.Hash]*entry),
		txOrder:        list.New(),
		validatorTxs:   make(map[types.Hash]*entry),
		validatorOrder: list.New(),
		logger:         log.Default().Module("txpool"),
	}
}

// SetBroadcaster installs the gossip fan-out after construction.
func (p *Pool) SetBroadcaster(b Broadcaster) {
	p.mu.Lock()
	p.broadcaster = b
	p.mu.Unlock()
}

// SetValidator installs the per-transaction validator after construction.
func (p *Pool) SetValidator(v Validator) {
	p.mu.Lock()
	p.validator = v
	p.mu.Unlock()
}

// Add inserts a payload transaction. Validation runs exactly once, here.
// A duplicate hash fails with ErrAlreadyKnown and is not re-broadcast; a
// first-time accept schedules a gossip broadcast.
func (p *Pool) Add(tx *types.Transaction) error {
	hash := tx.Hash()

	p.mu.Lock()
	if _, ok := p.txs[hash]; ok {
		p.mu.Unlock()
		return ErrAlreadyKnown
	}
	if p.cfg.MaxSize > 0 && len(p.txs) >= p.cfg.MaxSize {
		p.mu.Unlock()
		return ErrPoolFull
	}
	validator := p.validator
	p.mu.Unlock()

	// Validate outside the pool lock; validation reads the state store.
	if validator != nil {
		if err := validator.ValidateTransaction(tx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	if _, ok := p.txs[hash]; ok {
		p.mu.Unlock()
		return ErrAlreadyKnown
	}
	e := &entry{tx: tx}
	e.elem = p.txOrder.PushBack(hash)
	p.txs[hash] = e
	broadcaster := p.broadcaster
	p.mu.Unlock()

	if broadcaster != nil {
		broadcaster.BroadcastTx(tx)
	}
	return nil
}

// AddValidatorTx inserts a validator transaction, with the same duplicate
// and gossip semantics as Add. Signer-set membership is checked by the
// block pipeline, not here.
func (p *Pool) AddValidatorTx(tx *types.Transaction) error {
	hash := tx.Hash()

	p.mu.Lock()
	if _, ok := p.validatorTxs[hash]; ok {
		p.mu.Unlock()
		return ErrAlreadyKnown
	}
	e := &entry{tx: tx}
	e.elem = p.validatorOrder.PushBack(hash)
	p.validatorTxs[hash] = e
	broadcaster := p.broadcaster
	p.mu.Unlock()

	if broadcaster != nil {
		broadcaster.BroadcastValidatorTx(tx)
	}
	return nil
}

// Has reports whether the pool holds the payload transaction.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[hash]
	return ok
}

// Get returns the payload transaction for hash.
func (p *Pool) Get(hash types.Hash) *types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.txs[hash]; ok {
		return e.tx
	}
	return nil
}

// Remove erases a payload transaction.
func (p *Pool) Remove(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remove(hash)
}

func (p *Pool) remove(hash types.Hash) {
	if e, ok := p.txs[hash]; ok {
		p.txOrder.Remove(e.elem)
		delete(p.txs, hash)
	}
}

func (p *Pool) removeValidator(hash types.Hash) {
	if e, ok := p.validatorTxs[hash]; ok {
		p.validatorOrder.Remove(e.elem)
		delete(p.validatorTxs, hash)
	}
}

// Count returns the number of payload transactions held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// ValidatorCount returns the number of validator transactions held.
func (p *Pool) ValidatorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.validatorTxs)
}

// Pending returns up to maxTxs payload transactions in arrival order whose
// aggregate gas limit stays within gasLimit. The pool is not drained;
// entries leave only on inclusion or explicit removal.
func (p *Pool) Pending(maxTxs int, gasLimit uint64) []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		out []*types.Transaction
		gas uint64
	)
	for el := p.txOrder.Front(); el != nil; el = el.Next() {
		if maxTxs > 0 && len(out) >= maxTxs {
			break
		}
		e := p.txs[el.Value.(types.Hash)]
		if gas+e.tx.GasLimit() > gasLimit {
			break
		}
		gas += e.tx.GasLimit()
		out = append(out, e.tx)
	}
	return out
}

// ValidatorTxs returns all validator transactions in arrival order.
func (p *Pool) ValidatorTxs() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Transaction, 0, len(p.validatorTxs))
	for el := p.validatorOrder.Front(); el != nil; el = el.Next() {
		out = append(out, p.validatorTxs[el.Value.(types.Hash)].tx)
	}
	return out
}

// RemoveIncluded erases the transactions of an accepted block.
func (p *Pool) RemoveIncluded(txs, validatorTxs []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		p.remove(tx.Hash())
	}
	for _, tx := range validatorTxs {
		p.removeValidator(tx.Hash())
	}
}
