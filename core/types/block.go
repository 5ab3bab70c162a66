package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrBlockTruncated = errors.New("block bytes truncated")
	ErrBlockTrailing  = errors.New("trailing bytes after block")
)

// blockFixedLen is the byte length of the fixed header fields of a signed
// block: prevHash(32) + timestamp(8) + height(8) + validatorRoot(32) + sig(65).
const blockFixedLen = HashLength + 8 + 8 + HashLength + SignatureLength

// Block is one chain block. The wire layout is
//
//	prevHash(32) || timestamp(8 BE ns) || height(8 BE) ||
//	validatorMerkleRoot(32) || signature(65) ||
//	uvarint(txCount) || txs || uvarint(validatorTxCount) || validatorTxs
//
// where each transaction is prefixed by its uvarint byte length. The block
// hash is Keccak-256 over the signed serialization; the unsigned form omits
// the signature and is the proposer's signing preimage.
type Block struct {
	prevHash      Hash
	timestamp     uint64 // unix nanoseconds
	height        uint64
	validatorRoot Hash
	signature     Signature
	txs           []*Transaction
	validatorTxs  []*Transaction

	hash atomic.Pointer[Hash]
}

// NewBlock assembles an unsigned block. The validator Merkle root is
// computed from the given validator transactions.
func NewBlock(prevHash Hash, timestamp, height uint64, txs, validatorTxs []*Transaction) *Block {
	return &Block{
		prevHash:      prevHash,
		timestamp:     timestamp,
		height:        height,
		validatorRoot: ComputeMerkleRoot(validatorTxs),
		txs:           append([]*Transaction(nil), txs...),
		validatorTxs:  append([]*Transaction(nil), validatorTxs...),
	}
}

// PrevHash returns the parent block hash.
func (b *Block) PrevHash() Hash { return b.prevHash }

// Timestamp returns the block timestamp in unix nanoseconds.
func (b *Block) Timestamp() uint64 { return b.timestamp }

// Height returns the block height.
func (b *Block) Height() uint64 { return b.height }

// ValidatorRoot returns the Merkle root over the validator transactions.
func (b *Block) ValidatorRoot() Hash { return b.validatorRoot }

// Signature returns the proposer signature.
func (b *Block) Signature() Signature { return b.signature }

// Transactions returns the payload transactions.
func (b *Block) Transactions() []*Transaction { return b.txs }

// ValidatorTransactions returns the validator transactions.
func (b *Block) ValidatorTransactions() []*Transaction { return b.validatorTxs }

// SetSignature attaches the proposer signature and invalidates the cached hash.
func (b *Block) SetSignature(sig Signature) {
	b.signature = sig
	b.hash.Store(nil)
}

// Hash returns the Keccak-256 digest of the signed serialization.
func (b *Block) Hash() Hash {
	if h := b.hash.Load(); h != nil {
		return *h
	}
	h := keccak256(b.Serialize(true))
	b.hash.Store(&h)
	return h
}

// UnsignedHash returns the digest of the serialization without signature,
// the preimage signed by the proposer.
func (b *Block) UnsignedHash() Hash {
	return keccak256(b.Serialize(false))
}

// Serialize encodes the block. With withSig false the signature field is
// omitted entirely (the unsigned form).
func (b *Block) Serialize(withSig bool) []byte {
	size := blockFixedLen
	if !withSig {
		size -= SignatureLength
	}
	buf := make([]byte, 0, size+16*(len(b.txs)+len(b.validatorTxs)))
	buf = append(buf, b.prevHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.timestamp)
	buf = binary.BigEndian.AppendUint64(buf, b.height)
	buf = append(buf, b.validatorRoot[:]...)
	if withSig {
		buf = append(buf, b.signature[:]...)
	}
	buf = appendTxList(buf, b.txs)
	buf = appendTxList(buf, b.validatorTxs)
	return buf
}

func appendTxList(buf []byte, txs []*Transaction) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(txs)))
	for _, tx := range txs {
		enc := tx.Serialize()
		buf = binary.AppendUvarint(buf, uint64(len(enc)))
		buf = append(buf, enc...)
	}
	return buf
}

// DeserializeBlock decodes a signed block from its wire form.
func DeserializeBlock(data []byte) (*Block, error) {
	if len(data) < blockFixedLen {
		return nil, ErrBlockTruncated
	}
	b := &Block{}
	off := 0
	copy(b.prevHash[:], data[off:off+HashLength])
	off += HashLength
	b.timestamp = binary.BigEndian.Uint64(data[off:])
	off += 8
	b.height = binary.BigEndian.Uint64(data[off:])
	off += 8
	copy(b.validatorRoot[:], data[off:off+HashLength])
	off += HashLength
	copy(b.signature[:], data[off:off+SignatureLength])
	off += SignatureLength

	var err error
	b.txs, off, err = readTxList(data, off)
	if err != nil {
		return nil, err
	}
	b.validatorTxs, off, err = readTxList(data, off)
	if err != nil {
		return nil, err
	}
	if off != len(data) {
		return nil, ErrBlockTrailing
	}
	return b, nil
}

func readTxList(data []byte, off int) ([]*Transaction, int, error) {
	count, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return nil, 0, ErrBlockTruncated
	}
	off += n
	txs := make([]*Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		size, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, 0, ErrBlockTruncated
		}
		off += n
		if uint64(len(data)-off) < size {
			return nil, 0, ErrBlockTruncated
		}
		tx, err := DeserializeTransaction(data[off : off+int(size)])
		if err != nil {
			return nil, 0, fmt.Errorf("tx %d: %w", i, err)
		}
		off += int(size)
		txs = append(txs, tx)
	}
	return txs, off, nil
}
