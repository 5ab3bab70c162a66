package core

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/core/vm"
	"github.com/sparqnet/go-sparq/crypto"
	"github.com/sparqnet/go-sparq/db"
	"github.com/sparqnet/go-sparq/log"
	"github.com/sparqnet/go-sparq/txpool"
)

// DefaultGenesisTimestamp is the network's genesis time in unix nanoseconds.
const DefaultGenesisTimestamp = 1656356645000000000

// Config carries the chain parameters of a node.
type Config struct {
	ChainID          uint64
	BlockGasLimit    uint64
	MaxBlockTxs      int
	GenesisTimestamp uint64
}

// DefaultConfig returns the network defaults.
func DefaultConfig() Config {
	return Config{
		ChainID:          8848,
		BlockGasLimit:    30_000_000,
		MaxBlockTxs:      512,
		GenesisTimestamp: DefaultGenesisTimestamp,
	}
}

// GenesisAlloc pre-funds one account at genesis.
type GenesisAlloc struct {
	Addr    types.Address
	Balance *uint256.Int
}

// Broadcaster fans accepted blocks out to connected peers.
type Broadcaster interface {
	BroadcastBlock(blockBytes []byte)
}

// ParseResult describes a parsed block to the consensus engine.
type ParseResult struct {
	ID        types.Hash
	ParentID  types.Hash
	Height    uint64
	Status    BlockStatus
	Timestamp uint64
}

// Blockchain drives the block pipeline: parse, validate, tentative
// processing, acceptance and rejection. It owns the chain head and tip as
// siblings and borrows the state store and executor.
type Blockchain struct {
	cfg        Config
	head       *ChainHead
	tip        *ChainTip
	state      *state.StateStore
	executor   *vm.Executor
	pool       *txpool.Pool
	validators *ValidatorSet
	store      db.Store

	mu          sync.Mutex // serializes accept/reject and event appends
	broadcaster Broadcaster
	logger      *log.Logger
}

// NewBlockchain wires the pipeline. store may be a memory store for
// ephemeral nodes.
func NewBlockchain(cfg Config, st *state.StateStore, executor *vm.Executor, pool *txpool.Pool, validators *ValidatorSet, store db.Store) *Blockchain {
	return &Blockchain{
		cfg:        cfg,
		head:       NewChainHead(),
		tip:        NewChainTip(),
		state:      st,
		executor:   executor,
		pool:       pool,
		validators: validators,
		store:      store,
		logger:     log.Default().Module("chain"),
	}
}

// Head returns the accepted chain.
func (bc *Blockchain) Head() *ChainHead { return bc.head }

// Tip returns the processing set.
func (bc *Blockchain) Tip() *ChainTip { return bc.tip }

// Config returns the chain parameters.
func (bc *Blockchain) Config() Config { return bc.cfg }

// SetBroadcaster installs the gossip fan-out used on acceptance.
func (bc *Blockchain) SetBroadcaster(b Broadcaster) { bc.broadcaster = b }

// SetExecutor installs the transaction executor. The executor needs the
// chain head for block-hash lookups, so the two are wired in two steps.
func (bc *Blockchain) SetExecutor(e *vm.Executor) { bc.executor = e }

// NewGenesisBlock builds the deterministic height-zero block.
func NewGenesisBlock(timestamp uint64) *types.Block {
	return types.NewBlock(types.Hash{}, timestamp, 0, nil, nil)
}

// InitGenesis funds the allocation and appends the genesis block. It is a
// no-op when the head already has blocks (snapshot restart).
func (bc *Blockchain) InitGenesis(alloc []GenesisAlloc) error {
	if bc.head.Latest() != nil {
		return nil
	}
	for _, a := range alloc {
		bc.state.AddBalance(a.Addr, a.Balance)
	}
	genesis := NewGenesisBlock(bc.cfg.GenesisTimestamp)
	if err := bc.head.Append(genesis); err != nil {
		return err
	}
	bc.logger.Info("genesis initialized", "hash", genesis.Hash(), "timestamp", bc.cfg.GenesisTimestamp)
	return nil
}

// ParseBlock deserializes raw block bytes, checks the validator Merkle root
// and the proposer signature, and classifies the block against the chain.
// Re-parsing a known block returns its stored status without side effects.
func (bc *Blockchain) ParseBlock(blockBytes []byte) (*ParseResult, error) {
	b, err := types.DeserializeBlock(blockBytes)
	if err != nil {
		return nil, err
	}
	hash := b.Hash()

	if bc.head.Exists(hash) {
		return bc.resultFor(b, StatusAccepted), nil
	}
	if bc.tip.Exists(hash) {
		return bc.resultFor(b, bc.tip.Status(hash)), nil
	}

	if !types.VerifyMerkleRoot(b.ValidatorRoot(), b.ValidatorTransactions()) {
		return nil, fmt.Errorf("%w: block %s", ErrBadMerkleRoot, hash)
	}
	if _, err := crypto.BlockProposer(b); err != nil {
		return nil, fmt.Errorf("%w: block %s: %v", ErrBadSignature, hash, err)
	}

	latest := bc.head.Latest()
	if latest != nil && b.Height() <= latest.Height() {
		return bc.resultFor(b, StatusRejected), nil
	}
	bc.tip.Process(b)
	return bc.resultFor(b, StatusProcessing), nil
}

func (bc *Blockchain) resultFor(b *types.Block, status BlockStatus) *ParseResult {
	return &ParseResult{
		ID:        b.Hash(),
		ParentID:  b.PrevHash(),
		Height:    b.Height(),
		Status:    status,
		Timestamp: b.Timestamp(),
	}
}

// ValidateBlock checks a candidate against the chain head: parent linkage,
// timestamp monotonicity, height, validator transactions, and every payload
// transaction at its sequencing point.
func (bc *Blockchain) ValidateBlock(b *types.Block) error {
	latest := bc.head.Latest()
	if latest == nil {
		return ErrNoGenesis
	}
	if b.PrevHash() != latest.Hash() {
		return fmt.Errorf("%w: block %s parent %s, head %s", ErrInvalidParent, b.Hash(), b.PrevHash(), latest.Hash())
	}
	if b.Timestamp() <= latest.Timestamp() {
		return fmt.Errorf("%w: block %d, parent %d", ErrInvalidTimestamp, b.Timestamp(), latest.Timestamp())
	}
	if b.Height() != latest.Height()+1 {
		return fmt.Errorf("%w: block %d, parent %d", ErrInvalidHeight, b.Height(), latest.Height())
	}
	if err := bc.validators.VerifyValidatorTxs(b.ValidatorTransactions()); err != nil {
		return err
	}

	// Per-tx validation at the point of sequencing: nonces advance and
	// balances shrink as earlier transactions of the same sender pass.
	nonces := make(map[types.Address]uint64)
	balances := make(map[types.Address]*uint256.Int)
	for i, tx := range b.Transactions() {
		sender, err := crypto.TxSender(tx)
		if err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		if tx.ChainID() != bc.cfg.ChainID {
			return fmt.Errorf("tx %d: %w: tx %d, chain %d", i, vm.ErrChainIDMismatch, tx.ChainID(), bc.cfg.ChainID)
		}
		nonce, ok := nonces[sender]
		if !ok {
			nonce = bc.state.PendingNonce(sender)
		}
		if tx.Nonce() != nonce {
			return fmt.Errorf("tx %d: %w: tx %d, expected %d", i, vm.ErrNonceMismatch, tx.Nonce(), nonce)
		}
		nonces[sender] = nonce + 1

		balance, ok := balances[sender]
		if !ok {
			balance = bc.state.PendingBalance(sender)
		}
		cost := tx.Cost()
		if balance.Lt(cost) {
			return fmt.Errorf("tx %d: %w: balance %s, cost %s", i, vm.ErrInsufficientFunds, balance, cost)
		}
		balances[sender] = new(uint256.Int).Sub(balance, cost)
	}
	return nil
}

// VerifyBlock parses and validates a candidate, adding it to the
// processing set on success.
func (bc *Blockchain) VerifyBlock(blockBytes []byte) (*types.Block, error) {
	b, err := types.DeserializeBlock(blockBytes)
	if err != nil {
		return nil, err
	}
	if !types.VerifyMerkleRoot(b.ValidatorRoot(), b.ValidatorTransactions()) {
		return nil, fmt.Errorf("%w: block %s", ErrBadMerkleRoot, b.Hash())
	}
	if _, err := crypto.BlockProposer(b); err != nil {
		return nil, fmt.Errorf("%w: block %s: %v", ErrBadSignature, b.Hash(), err)
	}
	if err := bc.ValidateBlock(b); err != nil {
		return nil, err
	}
	bc.tip.Process(b)
	return b, nil
}

// AcceptBlock runs the block's transactions, promotes the pending layer to
// committed, moves the block from the tip into the head, persists the event
// stream and broadcasts the new best block. Accepting a hash that is not
// processing in the tip fails with ErrBlockUnknown.
func (bc *Blockchain) AcceptBlock(hash types.Hash) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	b, ok := bc.tip.Get(hash)
	if !ok || !bc.tip.IsProcessing(hash) {
		return fmt.Errorf("%w: %s", ErrBlockUnknown, hash)
	}
	latest := bc.head.Latest()
	if latest != nil && b.PrevHash() != latest.Hash() {
		return fmt.Errorf("%w: block %s", ErrInvalidParent, hash)
	}

	proposer, err := crypto.BlockProposer(b)
	if err != nil {
		proposer = types.Address{}
	}
	blockCtx := vm.BlockContext{
		Coinbase:  proposer,
		Height:    b.Height(),
		Timestamp: b.Timestamp(),
		GasLimit:  bc.cfg.BlockGasLimit,
	}

	var events []vm.Event
	for i, tx := range b.Transactions() {
		res, err := bc.executor.ExecuteTransaction(tx, blockCtx)
		if err != nil {
			// Invalid transactions are excluded, not counted.
			bc.logger.Warn("excluding invalid transaction", "block", hash, "index", i, "err", err)
			continue
		}
		events = append(events, res.Events...)
	}

	bc.state.Commit()

	moved, ok := bc.tip.Accept(hash)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockUnknown, hash)
	}
	if err := bc.head.Append(moved); err != nil {
		return err
	}
	bc.tip.GC(moved.Height())

	if err := bc.appendEventLog(moved.Height(), events); err != nil {
		bc.logger.Error("event log append failed", "height", moved.Height(), "err", err)
	}
	if bc.pool != nil {
		bc.pool.RemoveIncluded(moved.Transactions(), moved.ValidatorTransactions())
	}
	if bc.broadcaster != nil {
		bc.broadcaster.BroadcastBlock(moved.Serialize(true))
	}
	bc.logger.Info("block accepted", "hash", hash, "height", moved.Height(), "txs", len(moved.Transactions()))
	return nil
}

// RejectBlock reverts any pending writes staged by the block's transactions
// and marks the tip entry rejected.
func (bc *Blockchain) RejectBlock(hash types.Hash) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if _, ok := bc.tip.Reject(hash); !ok {
		return fmt.Errorf("%w: %s", ErrBlockUnknown, hash)
	}
	bc.state.Revert()
	bc.logger.Info("block rejected", "hash", hash)
	return nil
}

// SetPreference records the consensus engine's preferred tip.
func (bc *Blockchain) SetPreference(hash types.Hash) {
	bc.tip.SetPreference(hash)
}

// GetBlock looks a block up in head then tip, returning its status.
func (bc *Blockchain) GetBlock(hash types.Hash) (*types.Block, BlockStatus) {
	if b, ok := bc.head.GetByHash(hash); ok {
		return b, StatusAccepted
	}
	if b, ok := bc.tip.Get(hash); ok {
		return b, bc.tip.Status(hash)
	}
	return nil, bc.tip.Status(hash)
}

// GetAncestors returns serialized blocks stepping from the given hash
// toward genesis, stopping when any of maxCount, maxBytes or maxNanos is
// reached. maxCount above the chain height clamps silently. The truncated
// flag is set when the byte or time budget cut the walk short.
func (bc *Blockchain) GetAncestors(hash types.Hash, maxCount, maxBytes, maxNanos uint64) ([][]byte, bool, error) {
	start, ok := bc.head.GetByHash(hash)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrBlockUnknown, hash)
	}
	if height := bc.head.Height(); maxCount > height {
		maxCount = height
	}

	deadline := time.Now().Add(time.Duration(maxNanos) * time.Nanosecond)
	var (
		out       [][]byte
		total     uint64
		truncated bool
	)
	height := start.Height()
	for i := uint64(0); i <= maxCount; i++ {
		b, ok := bc.head.GetByHeight(height)
		if !ok {
			break
		}
		enc := b.Serialize(true)
		if maxBytes > 0 && total+uint64(len(enc)) > maxBytes {
			truncated = true
			break
		}
		if maxNanos > 0 && time.Now().After(deadline) {
			truncated = true
			break
		}
		out = append(out, enc)
		total += uint64(len(enc))
		if height == 0 {
			break
		}
		height--
	}
	return out, truncated, nil
}

// appendEventLog persists the block's event stream under its height.
func (bc *Blockchain) appendEventLog(height uint64, events []vm.Event) error {
	if bc.store == nil || len(events) == 0 {
		return nil
	}
	enc, err := rlp.EncodeToBytes(events)
	if err != nil {
		return err
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return bc.store.Put(key, enc, db.PrefixEvents)
}

// EventsAt loads the persisted event stream of an accepted block.
func (bc *Blockchain) EventsAt(height uint64) ([]vm.Event, error) {
	if bc.store == nil {
		return nil, nil
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	enc, err := bc.store.Get(key, db.PrefixEvents)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var events []vm.Event
	if err := rlp.DecodeBytes(enc, &events); err != nil {
		return nil, err
	}
	return events, nil
}
