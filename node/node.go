package node

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core"
	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/core/vm"
	"github.com/sparqnet/go-sparq/crypto"
	"github.com/sparqnet/go-sparq/db"
	"github.com/sparqnet/go-sparq/log"
	"github.com/sparqnet/go-sparq/p2p"
	"github.com/sparqnet/go-sparq/txpool"
)

var (
	// ErrAlreadyInitialized is returned when Initialize runs twice.
	ErrAlreadyInitialized = errors.New("node: already initialized")
	// ErrNotInitialized is returned when hooks run before Initialize.
	ErrNotInitialized = errors.New("node: not initialized")
)

// StateNormalOp is the consensus engine state in which this node may
// propose blocks.
const StateNormalOp = 3

// ErrCodeBlockUnknown is the engine error code for unseen blocks.
const ErrCodeBlockUnknown = 2

// BlockDescriptor describes a block to the consensus engine.
type BlockDescriptor struct {
	ID        types.Hash
	ParentID  types.Hash
	Height    uint64
	Timestamp uint64
	Bytes     []byte
}

// BlockInfo is the GetBlock reply: a descriptor plus status, with ErrCode
// set for unknown blocks.
type BlockInfo struct {
	BlockDescriptor
	Status  core.BlockStatus
	ErrCode int
}

// Node owns the execution core and serves the consensus-engine hooks. The
// bytecode VM is injected; everything else is built at Initialize.
type Node struct {
	cfg   Config
	vmImp vm.VM

	initMu      sync.Mutex
	initialized bool
	normalOp    atomic.Bool

	store    db.Store
	state    *state.StateStore
	registry *vm.Registry
	executor *vm.Executor
	pool     *txpool.Pool
	chain    *core.Blockchain
	gossip   *p2p.Manager
	rng      *vm.RandomGen

	validatorKey *ecdsa.PrivateKey

	peersMu        sync.Mutex
	connectedNodes map[string]struct{}

	logger *log.Logger
}

// New creates an uninitialized node running on the given store and VM.
func New(cfg Config, store db.Store, vmImpl vm.VM) *Node {
	return &Node{
		cfg:            cfg,
		vmImp:          vmImpl,
		store:          store,
		connectedNodes: make(map[string]struct{}),
		logger:         log.Default().Module("node"),
	}
}

// Chain returns the block pipeline; nil before Initialize.
func (n *Node) Chain() *core.Blockchain { return n.chain }

// Pool returns the mempool; nil before Initialize.
func (n *Node) Pool() *txpool.Pool { return n.pool }

// Initialize builds the execution core, restores the persisted chain and
// snapshot, and returns the latest accepted block. Calling it twice is
// fatal to the caller.
func (n *Node) Initialize() (*BlockDescriptor, error) {
	n.initMu.Lock()
	defer n.initMu.Unlock()
	if n.initialized {
		return nil, ErrAlreadyInitialized
	}

	n.state = state.NewStateStore()
	n.registry = vm.NewRegistry()
	n.rng = vm.NewRandomGen(crypto.Keccak256Hash([]byte("sparq-genesis-seed")))
	if err := vm.InstallPrecompiles(n.registry, n.rng); err != nil {
		return nil, err
	}

	chainCfg := n.cfg.ChainConfig()
	validators := n.cfg.ValidatorSet()

	// The executor resolves block hashes through the head; wire the chain
	// first with a placeholder-free two-step construction.
	n.pool = txpool.New(txpool.DefaultConfig(), nil, nil)
	n.chain = core.NewBlockchain(chainCfg, n.state, nil, n.pool, validators, n.store)
	n.executor = vm.NewExecutor(n.state, n.registry, n.vmImp, n.chain.Head(), chainCfg.ChainID)
	n.chain.SetExecutor(n.executor)
	n.pool.SetValidator(n.executor)

	if err := n.chain.Head().LoadFrom(n.store); err != nil {
		return nil, err
	}
	if latest := n.chain.Head().Latest(); latest != nil {
		// Restart: the snapshot must agree with the persisted chain.
		if err := n.state.LoadFrom(n.store, latest.Height()); err != nil {
			return nil, err
		}
	} else {
		alloc, err := n.cfg.GenesisAlloc()
		if err != nil {
			return nil, err
		}
		if err := n.chain.InitGenesis(alloc); err != nil {
			return nil, err
		}
	}

	if n.cfg.ValidatorPrivKey != "" {
		key, err := crypto.HexToECDSA(n.cfg.ValidatorPrivKey)
		if err != nil {
			return nil, fmt.Errorf("node: bad validator key: %w", err)
		}
		n.validatorKey = key
	}

	n.gossip = p2p.NewManager(n)
	n.pool.SetBroadcaster(n.gossip)
	n.chain.SetBroadcaster(n.gossip)
	if n.cfg.P2PPort != 0 {
		if err := n.gossip.Listen(fmt.Sprintf("0.0.0.0:%d", n.cfg.P2PPort)); err != nil {
			return nil, err
		}
	}
	for _, seed := range n.cfg.SeedNodes {
		if err := n.gossip.Dial(seed); err != nil {
			n.logger.Warn("seed dial failed", "seed", seed, "err", err)
		}
	}

	n.initialized = true
	latest := n.chain.Head().Latest()
	n.logger.Info("node initialized", "height", latest.Height(), "hash", latest.Hash())
	return n.describe(latest), nil
}

func (n *Node) describe(b *types.Block) *BlockDescriptor {
	return &BlockDescriptor{
		ID:        b.Hash(),
		ParentID:  b.PrevHash(),
		Height:    b.Height(),
		Timestamp: b.Timestamp(),
		Bytes:     b.Serialize(true),
	}
}

func (n *Node) requireInit() error {
	n.initMu.Lock()
	defer n.initMu.Unlock()
	if !n.initialized {
		return ErrNotInitialized
	}
	return nil
}

// SetState transitions the engine state. NormalOp enables the validator
// scheduler; every transition reports the latest accepted block back.
func (n *Node) SetState(engineState uint32) (*BlockDescriptor, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	if engineState == StateNormalOp {
		n.normalOp.Store(true)
		n.logger.Info("entering normal operation")
	} else {
		n.normalOp.Store(false)
	}
	return n.describe(n.chain.Head().Latest()), nil
}

// BuildBlock proposes the next block when the scheduler permits: the node
// must be in normal operation and hold a validator key in the current set.
func (n *Node) BuildBlock() (*BlockDescriptor, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	if !n.normalOp.Load() {
		return nil, core.ErrNotValidator
	}
	if n.validatorKey == nil {
		return nil, core.ErrNotValidator
	}
	if !n.cfg.ValidatorSet().Contains(crypto.PubkeyToAddress(n.validatorKey.PublicKey)) {
		return nil, core.ErrNotValidator
	}
	b, err := n.chain.BuildBlock(n.validatorKey)
	if err != nil {
		return nil, err
	}
	return n.describe(b), nil
}

// ParseBlock classifies raw block bytes.
func (n *Node) ParseBlock(blockBytes []byte) (*core.ParseResult, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	return n.chain.ParseBlock(blockBytes)
}

// VerifyBlock validates a candidate and moves it into the processing set.
func (n *Node) VerifyBlock(blockBytes []byte) (*BlockDescriptor, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	b, err := n.chain.VerifyBlock(blockBytes)
	if err != nil {
		return nil, err
	}
	return n.describe(b), nil
}

// AcceptBlock finalizes a processing block.
func (n *Node) AcceptBlock(hash types.Hash) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	return n.chain.AcceptBlock(hash)
}

// RejectBlock discards a processing block.
func (n *Node) RejectBlock(hash types.Hash) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	return n.chain.RejectBlock(hash)
}

// SetPreference records the engine's preferred tip.
func (n *Node) SetPreference(hash types.Hash) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	n.chain.SetPreference(hash)
	return nil
}

// GetBlock returns the block with the given hash, or status Unknown with
// error code 2 for hashes the node has not seen.
func (n *Node) GetBlock(hash types.Hash) (*BlockInfo, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	b, status := n.chain.GetBlock(hash)
	if b == nil {
		return &BlockInfo{Status: core.StatusUnknown, ErrCode: ErrCodeBlockUnknown},
			fmt.Errorf("%w: %s", core.ErrBlockUnknown, hash)
	}
	return &BlockInfo{BlockDescriptor: *n.describe(b), Status: status}, nil
}

// GetAncestors returns serialized ancestors of a block under count, byte
// and time budgets.
func (n *Node) GetAncestors(hash types.Hash, maxCount, maxBytes, maxNanos uint64) ([][]byte, bool, error) {
	if err := n.requireInit(); err != nil {
		return nil, false, err
	}
	return n.chain.GetAncestors(hash, maxCount, maxBytes, maxNanos)
}

// SubmitTransaction validates a transaction into the mempool; the pool
// schedules gossip on first accept.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	return n.pool.Add(tx)
}

// StateBalance reads an account's committed balance, the RPC-facing view.
func (n *Node) StateBalance(addr types.Address) *uint256.Int {
	return n.state.GetBalance(addr)
}

// ConnectNode records a consensus-layer peer.
func (n *Node) ConnectNode(id string) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	n.connectedNodes[id] = struct{}{}
}

// DisconnectNode forgets a consensus-layer peer.
func (n *Node) DisconnectNode(id string) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	delete(n.connectedNodes, id)
}

// ConnectedNodes lists the consensus-layer peer ids.
func (n *Node) ConnectedNodes() []string {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	ids := make([]string, 0, len(n.connectedNodes))
	for id := range n.connectedNodes {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown quiesces the pipeline, flushes the chain head and then the
// state snapshot, and closes the store. The chain dump, the state batches
// and the snapshot height marker are separate writes, made in that order.
func (n *Node) Shutdown() error {
	if err := n.requireInit(); err != nil {
		return err
	}
	n.normalOp.Store(false)
	if n.gossip != nil {
		n.gossip.Stop()
	}
	if err := n.chain.Head().DumpTo(n.store); err != nil {
		return err
	}
	height := n.chain.Head().Height()
	if err := n.state.SnapshotTo(n.store, height); err != nil {
		return err
	}
	if err := n.store.Close(); err != nil {
		return err
	}
	n.logger.Info("node shut down", "height", height)
	return nil
}

// --- p2p.Handler ---

// HandleTransaction ingests a gossiped payload transaction.
func (n *Node) HandleTransaction(txBytes []byte) {
	tx, err := types.DeserializeTransaction(txBytes)
	if err != nil {
		n.logger.Debug("dropping malformed gossip tx", "err", err)
		return
	}
	if err := n.pool.Add(tx); err != nil && !errors.Is(err, txpool.ErrAlreadyKnown) {
		n.logger.Debug("gossip tx not accepted", "tx", tx.Hash(), "err", err)
	}
}

// HandleValidatorTransaction ingests a gossiped validator transaction.
func (n *Node) HandleValidatorTransaction(txBytes []byte) {
	tx, err := types.DeserializeTransaction(txBytes)
	if err != nil {
		n.logger.Debug("dropping malformed validator tx", "err", err)
		return
	}
	if err := n.pool.AddValidatorTx(tx); err != nil && !errors.Is(err, txpool.ErrAlreadyKnown) {
		n.logger.Debug("validator tx not accepted", "tx", tx.Hash(), "err", err)
	}
}

// HandleNewBestBlock parses a gossiped best block into the processing set.
func (n *Node) HandleNewBestBlock(blockBytes []byte) {
	if _, err := n.chain.ParseBlock(blockBytes); err != nil {
		n.logger.Debug("dropping bad gossip block", "err", err)
	}
}

// BlockByNumber serves an accepted block by height.
func (n *Node) BlockByNumber(height uint64) ([]byte, bool) {
	b, ok := n.chain.Head().GetByHeight(height)
	if !ok {
		return nil, false
	}
	return b.Serialize(true), true
}

// BlockByHash serves an accepted block by hash.
func (n *Node) BlockByHash(hash types.Hash) ([]byte, bool) {
	b, ok := n.chain.Head().GetByHash(hash)
	if !ok {
		return nil, false
	}
	return b.Serialize(true), true
}

// Info describes the local chain for the gossip handshake.
func (n *Node) Info() p2p.InfoResponse {
	latest := n.chain.Head().Latest()
	info := p2p.InfoResponse{
		Version: []byte("go-sparq/1"),
		EpochUs: uint64(time.Now().UnixMicro()),
	}
	if latest != nil {
		info.Height = latest.Height()
		info.BestHash = latest.Hash()
	}
	return info
}

var _ p2p.Handler = (*Node)(nil)
