package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	ErrTxNoSignature = errors.New("transaction is not signed")
	ErrTxBadHex      = errors.New("transaction hex is malformed")
)

// TxParams carries the mutable fields used to build a Transaction.
type TxParams struct {
	To       Address
	From     Address
	Data     []byte
	ChainID  uint64
	Nonce    uint64
	Value    *uint256.Int
	MaxGas   uint64
	MaxFee   uint64
	GasLimit uint64
}

// Transaction is a single payload or validator transaction. The recipient
// being the zero address marks a contract creation. Instances are immutable
// after signing; hash and sender are cached on first computation.
type Transaction struct {
	to       Address
	from     Address
	data     []byte
	chainID  uint64
	nonce    uint64
	value    *uint256.Int
	maxGas   uint64
	maxFee   uint64
	gasLimit uint64
	r, s     *uint256.Int
	v        byte

	hash   atomic.Pointer[Hash]
	sender atomic.Pointer[Address] // recovered signer, cached
}

// txWire is the RLP layout of a signed transaction:
// [to, from, data, chainId, nonce, value, maxGas, maxFee, gasLimit, r, s, v]
type txWire struct {
	To       Address
	From     Address
	Data     []byte
	ChainID  uint64
	Nonce    uint64
	Value    *uint256.Int
	MaxGas   uint64
	MaxFee   uint64
	GasLimit uint64
	R        *uint256.Int
	S        *uint256.Int
	V        byte
}

// txSigningWire is the RLP layout of the signing preimage (signature omitted).
type txSigningWire struct {
	To       Address
	From     Address
	Data     []byte
	ChainID  uint64
	Nonce    uint64
	Value    *uint256.Int
	MaxGas   uint64
	MaxFee   uint64
	GasLimit uint64
}

// NewTransaction builds an unsigned transaction from params.
func NewTransaction(p TxParams) *Transaction {
	value := p.Value
	if value == nil {
		value = uint256.NewInt(0)
	}
	return &Transaction{
		to:       p.To,
		from:     p.From,
		data:     append([]byte(nil), p.Data...),
		chainID:  p.ChainID,
		nonce:    p.Nonce,
		value:    value.Clone(),
		maxGas:   p.MaxGas,
		maxFee:   p.MaxFee,
		gasLimit: p.GasLimit,
		r:        uint256.NewInt(0),
		s:        uint256.NewInt(0),
	}
}

// To returns the recipient address; the zero address means contract creation.
func (tx *Transaction) To() Address { return tx.to }

// From returns the declared sender address. The declared sender must match
// the address recovered from the signature for the transaction to be valid.
func (tx *Transaction) From() Address { return tx.from }

// Data returns the call input of the transaction.
func (tx *Transaction) Data() []byte { return tx.data }

// ChainID returns the chain the transaction is bound to.
func (tx *Transaction) ChainID() uint64 { return tx.chainID }

// Nonce returns the sender nonce.
func (tx *Transaction) Nonce() uint64 { return tx.nonce }

// Value returns the transferred value.
func (tx *Transaction) Value() *uint256.Int { return tx.value.Clone() }

// MaxGas returns the declared max gas field.
func (tx *Transaction) MaxGas() uint64 { return tx.maxGas }

// MaxFee returns the fee per gas unit the sender pays.
func (tx *Transaction) MaxFee() uint64 { return tx.maxFee }

// GasLimit returns the execution gas limit.
func (tx *Transaction) GasLimit() uint64 { return tx.gasLimit }

// GasPrice returns the effective price per gas unit.
func (tx *Transaction) GasPrice() *uint256.Int { return uint256.NewInt(tx.maxFee) }

// IsContractCreation reports whether the recipient is the zero address.
func (tx *Transaction) IsContractCreation() bool { return tx.to.IsZero() }

// Cost returns value + gasLimit*gasPrice, the maximum the sender can pay.
func (tx *Transaction) Cost() *uint256.Int {
	gas := new(uint256.Int).Mul(uint256.NewInt(tx.gasLimit), uint256.NewInt(tx.maxFee))
	return gas.Add(gas, tx.value)
}

// RawSignature returns the signature as R || S || V.
func (tx *Transaction) RawSignature() Signature {
	var sig Signature
	r := tx.r.Bytes32()
	s := tx.s.Bytes32()
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = tx.v
	return sig
}

// IsSigned reports whether the transaction carries a non-zero signature.
func (tx *Transaction) IsSigned() bool {
	return !tx.r.IsZero() || !tx.s.IsZero()
}

// SetSignature attaches a compact signature. Invalidates cached hash/sender.
func (tx *Transaction) SetSignature(sig Signature) {
	tx.r = new(uint256.Int).SetBytes(sig[:32])
	tx.s = new(uint256.Int).SetBytes(sig[32:64])
	tx.v = sig[64]
	tx.hash.Store(nil)
	tx.sender.Store(nil)
}

// SetSender caches the recovered sender address on the transaction.
func (tx *Transaction) SetSender(addr Address) {
	a := addr
	tx.sender.Store(&a)
}

// Sender returns the cached recovered sender, or nil if not yet recovered.
func (tx *Transaction) Sender() *Address {
	return tx.sender.Load()
}

// Hash returns the transaction fingerprint: Keccak-256 of the signed RLP.
func (tx *Transaction) Hash() Hash {
	if h := tx.hash.Load(); h != nil {
		return *h
	}
	h := keccak256(tx.Serialize())
	tx.hash.Store(&h)
	return h
}

// SigningHash returns the Keccak-256 digest of the RLP with signature omitted.
func (tx *Transaction) SigningHash() Hash {
	enc, err := rlp.EncodeToBytes(&txSigningWire{
		To: tx.to, From: tx.from, Data: tx.data, ChainID: tx.chainID,
		Nonce: tx.nonce, Value: tx.value, MaxGas: tx.maxGas, MaxFee: tx.maxFee,
		GasLimit: tx.gasLimit,
	})
	if err != nil {
		return Hash{}
	}
	return keccak256(enc)
}

// Serialize returns the signed RLP encoding of the transaction.
func (tx *Transaction) Serialize() []byte {
	enc, err := rlp.EncodeToBytes(&txWire{
		To: tx.to, From: tx.from, Data: tx.data, ChainID: tx.chainID,
		Nonce: tx.nonce, Value: tx.value, MaxGas: tx.maxGas, MaxFee: tx.maxFee,
		GasLimit: tx.gasLimit, R: tx.r, S: tx.s, V: tx.v,
	})
	if err != nil {
		return nil
	}
	return enc
}

// DeserializeTransaction decodes a signed RLP transaction.
func DeserializeTransaction(b []byte) (*Transaction, error) {
	var w txWire
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	value := w.Value
	if value == nil {
		value = uint256.NewInt(0)
	}
	r := w.R
	if r == nil {
		r = uint256.NewInt(0)
	}
	s := w.S
	if s == nil {
		s = uint256.NewInt(0)
	}
	return &Transaction{
		to: w.To, from: w.From, data: w.Data, chainID: w.ChainID,
		nonce: w.Nonce, value: value, maxGas: w.MaxGas, maxFee: w.MaxFee,
		gasLimit: w.GasLimit, r: r, s: s, v: w.V,
	}, nil
}

// EncodeRPC returns the 0x-prefixed hex form used on the RPC surface.
func (tx *Transaction) EncodeRPC() string {
	return "0x" + hex.EncodeToString(tx.Serialize())
}

// DecodeRPCTransaction parses a 0x-prefixed hex transaction.
func DecodeRPCTransaction(s string) (*Transaction, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxBadHex, err)
	}
	return DeserializeTransaction(b)
}
