package vm

import (
	"sync"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// RandomGen is a deterministic random sequence seeded from a hash. Every
// validator seeds it identically from consensus data, so native contracts
// drawing from it stay in agreement across the network.
type RandomGen struct {
	mu   sync.Mutex
	seed types.Hash
}

// NewRandomGen creates a generator with the given seed.
func NewRandomGen(seed types.Hash) *RandomGen {
	return &RandomGen{seed: seed}
}

// SetSeed replaces the current seed.
func (r *RandomGen) SetSeed(seed types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seed = seed
}

// Next advances the sequence by one step: the new seed is the Keccak-256
// of the previous one, and is also the value returned.
func (r *RandomGen) Next() types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seed = crypto.Keccak256Hash(r.seed[:])
	return r.seed
}

// native exposes Next as a precompile table entry.
func (r *RandomGen) native(host Host, msg Message) Result {
	h := r.Next()
	out := make([]byte, 32)
	copy(out, h[:])
	return Result{Status: Success, GasLeft: msg.Gas, Output: out}
}
