package core

import (
	"crypto/ecdsa"
	"time"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// BuildBlock assembles, signs and returns the next block proposal: up to
// MaxBlockTxs mempool transactions in arrival order under the aggregate
// block gas limit, plus the current validator transactions. Nothing
// commits here; commitment happens only when the consensus engine accepts.
func (bc *Blockchain) BuildBlock(proposerKey *ecdsa.PrivateKey) (*types.Block, error) {
	if proposerKey == nil {
		return nil, ErrNotValidator
	}
	latest := bc.head.Latest()
	if latest == nil {
		return nil, ErrNoGenesis
	}

	txs := bc.pool.Pending(bc.cfg.MaxBlockTxs, bc.cfg.BlockGasLimit)
	validatorTxs := bc.pool.ValidatorTxs()
	if len(txs) == 0 && len(validatorTxs) == 0 {
		return nil, ErrEmptyMempool
	}

	// The timestamp must strictly advance past the parent even when the
	// wall clock has not.
	timestamp := uint64(time.Now().UnixNano())
	if timestamp <= latest.Timestamp() {
		timestamp = latest.Timestamp() + 1
	}

	b := types.NewBlock(latest.Hash(), timestamp, latest.Height()+1, txs, validatorTxs)
	if err := crypto.SignBlock(b, proposerKey); err != nil {
		return nil, err
	}
	bc.logger.Info("block built", "height", b.Height(), "txs", len(txs), "validatorTxs", len(validatorTxs))
	return b, nil
}
