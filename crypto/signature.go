package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/sparqnet/go-sparq/core/types"
)

var (
	// ErrBadSignature is returned when a signature fails to parse or the
	// recovered signer does not match the declared one.
	ErrBadSignature = errors.New("bad signature")
)

// GenerateKey creates a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// HexToECDSA parses a hex-encoded secp256k1 private key.
func HexToECDSA(hexKey string) (*ecdsa.PrivateKey, error) {
	return ethcrypto.HexToECDSA(hexKey)
}

// PubkeyToAddress derives the account address from a public key: the low
// 20 bytes of Keccak-256 over the uncompressed key without its prefix byte.
func PubkeyToAddress(pub ecdsa.PublicKey) types.Address {
	a := ethcrypto.PubkeyToAddress(pub)
	return types.BytesToAddress(a[:])
}

// Sign produces a compact R || S || V signature over a 32-byte digest.
// V is the raw recovery id (0 or 1).
func Sign(digest types.Hash, key *ecdsa.PrivateKey) (types.Signature, error) {
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return types.Signature{}, fmt.Errorf("sign: %w", err)
	}
	return types.BytesToSignature(sig), nil
}

// RecoverAddress recovers the signer address from a compact signature over
// the given digest.
func RecoverAddress(digest types.Hash, sig types.Signature) (types.Address, error) {
	pub, err := ethcrypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return PubkeyToAddress(*pub), nil
}

// SignTx signs the transaction with key and caches the sender. The declared
// From field must match the signing key's address.
func SignTx(tx *types.Transaction, key *ecdsa.PrivateKey) error {
	addr := PubkeyToAddress(key.PublicKey)
	if tx.From() != addr {
		return fmt.Errorf("%w: from %s is not the signing key %s", ErrBadSignature, tx.From(), addr)
	}
	sig, err := Sign(tx.SigningHash(), key)
	if err != nil {
		return err
	}
	tx.SetSignature(sig)
	tx.SetSender(addr)
	return nil
}

// TxSender recovers and caches the transaction signer. It fails with
// ErrBadSignature when the recovered address does not match the declared
// From field.
func TxSender(tx *types.Transaction) (types.Address, error) {
	if cached := tx.Sender(); cached != nil {
		return *cached, nil
	}
	if !tx.IsSigned() {
		return types.Address{}, types.ErrTxNoSignature
	}
	addr, err := RecoverAddress(tx.SigningHash(), tx.RawSignature())
	if err != nil {
		return types.Address{}, err
	}
	if addr != tx.From() {
		return types.Address{}, fmt.Errorf("%w: recovered %s, declared %s", ErrBadSignature, addr, tx.From())
	}
	tx.SetSender(addr)
	return addr, nil
}

// SignBlock signs the block's unsigned hash as proposer.
func SignBlock(b *types.Block, key *ecdsa.PrivateKey) error {
	sig, err := Sign(b.UnsignedHash(), key)
	if err != nil {
		return err
	}
	b.SetSignature(sig)
	return nil
}

// BlockProposer recovers the proposer address from the block signature.
func BlockProposer(b *types.Block) (types.Address, error) {
	return RecoverAddress(b.UnsignedHash(), b.Signature())
}
