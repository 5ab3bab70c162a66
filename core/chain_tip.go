package core

import (
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
)

// BlockStatus is the consensus status of a tentative block.
type BlockStatus int

const (
	StatusUnknown BlockStatus = iota
	StatusProcessing
	StatusAccepted
	StatusRejected
)

func (s BlockStatus) String() string {
	switch s {
	case StatusProcessing:
		return "Processing"
	case StatusAccepted:
		return "Accepted"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// tipGCDepth is how far below the accepted height decided entries linger
// before garbage collection.
const tipGCDepth = 8

type tipEntry struct {
	block  *types.Block
	status BlockStatus
	height uint64
}

// ChainTip holds the blocks currently under consensus. A block enters on
// first observation as Processing; acceptance moves the block object out of
// the tip (ownership transfers to the head), rejection marks the entry
// Rejected until garbage collection.
type ChainTip struct {
	mu        sync.RWMutex
	entries   map[types.Hash]*tipEntry
	preferred types.Hash
}

// NewChainTip creates an empty tip.
func NewChainTip() *ChainTip {
	return &ChainTip{entries: make(map[types.Hash]*tipEntry)}
}

// Process inserts a block with Processing status. Re-observing a known
// block keeps its current status.
func (t *ChainTip) Process(b *types.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[b.Hash()]; ok {
		return
	}
	t.entries[b.Hash()] = &tipEntry{block: b, status: StatusProcessing, height: b.Height()}
}

// Exists reports whether the tip has an entry for hash.
func (t *ChainTip) Exists(hash types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[hash]
	return ok
}

// Get returns the block for hash if the entry still owns one.
func (t *ChainTip) Get(hash types.Hash) (*types.Block, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[hash]
	if !ok || e.block == nil {
		return nil, false
	}
	return e.block, true
}

// Status returns the entry's status, or StatusUnknown for unseen hashes.
func (t *ChainTip) Status(hash types.Hash) BlockStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[hash]
	if !ok {
		return StatusUnknown
	}
	return e.status
}

// IsProcessing reports whether hash is known and still undecided.
func (t *ChainTip) IsProcessing(hash types.Hash) bool {
	return t.Status(hash) == StatusProcessing
}

// SetPreference records the consensus engine's preferred tip block.
func (t *ChainTip) SetPreference(hash types.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preferred = hash
}

// Preference returns the preferred tip block hash.
func (t *ChainTip) Preference() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.preferred
}

// Accept marks the entry Accepted and transfers the block object out of
// the tip. Returns false when the hash is unknown or already decided.
func (t *ChainTip) Accept(hash types.Hash) (*types.Block, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	if !ok || e.status != StatusProcessing || e.block == nil {
		return nil, false
	}
	b := e.block
	e.block = nil // ownership moves to the chain head
	e.status = StatusAccepted
	return b, true
}

// Reject marks the entry Rejected and returns its block for unwinding.
func (t *ChainTip) Reject(hash types.Hash) (*types.Block, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[hash]
	if !ok || e.status != StatusProcessing || e.block == nil {
		return nil, false
	}
	b := e.block
	e.block = nil
	e.status = StatusRejected
	return b, true
}

// GC drops decided entries whose height fell tipGCDepth below the accepted
// height.
func (t *ChainTip) GC(acceptedHeight uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for hash, e := range t.entries {
		if e.status == StatusProcessing {
			continue
		}
		if e.height+tipGCDepth <= acceptedHeight {
			delete(t.entries, hash)
		}
	}
}

// Len returns the number of tracked entries.
func (t *ChainTip) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
