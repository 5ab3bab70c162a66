// Package core implements the block pipeline: the authoritative accepted
// chain, the set of blocks under consensus, block validation, acceptance
// and rejection, and block building.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/db"
	"github.com/sparqnet/go-sparq/log"
)

var (
	// ErrNotChild is returned when appending a block that does not extend
	// the current latest block.
	ErrNotChild = errors.New("core: block does not extend the chain head")
	// ErrNoGenesis is returned when the head is used before a genesis
	// block was added.
	ErrNoGenesis = errors.New("core: chain head has no genesis")
)

// ChainHead is the append-only accepted chain, indexed by both height and
// hash. Blocks are never removed or replaced.
type ChainHead struct {
	mu       sync.RWMutex
	byHash   map[types.Hash]*types.Block
	byHeight map[uint64]*types.Block
	latest   *types.Block
	logger   *log.Logger
}

// NewChainHead creates an empty head.
func NewChainHead() *ChainHead {
	return &ChainHead{
		byHash:   make(map[types.Hash]*types.Block),
		byHeight: make(map[uint64]*types.Block),
		logger:   log.Default().Module("chain"),
	}
}

// Append adds an accepted block. Any block after genesis must be the child
// of the current latest block.
func (h *ChainHead) Append(b *types.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest != nil {
		if b.Height() != h.latest.Height()+1 || b.PrevHash() != h.latest.Hash() {
			return fmt.Errorf("%w: height %d prev %s", ErrNotChild, b.Height(), b.PrevHash())
		}
	} else if b.Height() != 0 {
		return fmt.Errorf("%w: first block must be genesis, got height %d", ErrNoGenesis, b.Height())
	}
	h.byHash[b.Hash()] = b
	h.byHeight[b.Height()] = b
	h.latest = b
	return nil
}

// Latest returns the block with maximum height, or nil before genesis.
func (h *ChainHead) Latest() *types.Block {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Exists reports whether the head holds a block with the given hash.
func (h *ChainHead) Exists(hash types.Hash) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byHash[hash]
	return ok
}

// GetByHash returns the block with the given hash.
func (h *ChainHead) GetByHash(hash types.Hash) (*types.Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.byHash[hash]
	return b, ok
}

// GetByHeight returns the block at the given height.
func (h *ChainHead) GetByHeight(height uint64) (*types.Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.byHeight[height]
	return b, ok
}

// BlockHashAt resolves the accepted hash at a height; used by the EVM host
// for block-hash lookups.
func (h *ChainHead) BlockHashAt(height uint64) (types.Hash, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.byHeight[height]
	if !ok {
		return types.Hash{}, false
	}
	return b.Hash(), true
}

// Height returns the latest height, or 0 before genesis.
func (h *ChainHead) Height() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return 0
	}
	return h.latest.Height()
}

// DumpTo persists every accepted block keyed by big-endian height.
func (h *ChainHead) DumpTo(store db.Store) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var batch db.Batch
	for height, b := range h.byHeight {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, height)
		batch.Put(key, b.Serialize(true))
	}
	if err := store.WriteBatch(batch, db.PrefixBlocks); err != nil {
		return fmt.Errorf("dump chain head: %w", err)
	}
	h.logger.Info("chain head persisted", "blocks", len(h.byHeight))
	return nil
}

// LoadFrom rebuilds the head from persisted blocks, in height order.
func (h *ChainHead) LoadFrom(store db.Store) error {
	entries, err := store.ReadBatch(db.PrefixBlocks)
	if err != nil {
		return fmt.Errorf("load chain head: %w", err)
	}
	// ReadBatch returns keys sorted; 8-byte big-endian heights sort by value.
	for _, e := range entries {
		b, err := types.DeserializeBlock(e.Value)
		if err != nil {
			return fmt.Errorf("load block %x: %w", e.Key, err)
		}
		if err := h.Append(b); err != nil {
			return err
		}
	}
	return nil
}
