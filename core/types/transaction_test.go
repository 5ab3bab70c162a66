package types

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func testTx(nonce uint64) *Transaction {
	return NewTransaction(TxParams{
		To:       HexToAddress("0x1111111111111111111111111111111111111111"),
		From:     HexToAddress("0x2222222222222222222222222222222222222222"),
		Data:     []byte{0xca, 0xfe},
		ChainID:  8848,
		Nonce:    nonce,
		Value:    uint256.NewInt(1000),
		MaxGas:   21000,
		MaxFee:   2,
		GasLimit: 21000,
	})
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := testTx(7)
	var sig Signature
	for i := range sig {
		sig[i] = byte(i + 1)
	}
	tx.SetSignature(sig)

	enc := tx.Serialize()
	dec, err := DeserializeTransaction(enc)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !bytes.Equal(dec.Serialize(), enc) {
		t.Fatal("serialize(deserialize(b)) != b")
	}
	if dec.Hash() != tx.Hash() {
		t.Fatalf("hash mismatch: %s vs %s", dec.Hash(), tx.Hash())
	}
	if dec.To() != tx.To() || dec.From() != tx.From() || dec.Nonce() != 7 {
		t.Fatal("field mismatch after round trip")
	}
	if dec.Value().Cmp(uint256.NewInt(1000)) != 0 {
		t.Fatalf("value mismatch: %s", dec.Value())
	}
	if dec.RawSignature() != sig {
		t.Fatal("signature mismatch after round trip")
	}
}

func TestTransactionHashCoversSignature(t *testing.T) {
	a := testTx(0)
	b := testTx(0)
	var sig Signature
	sig[0] = 0xff
	b.SetSignature(sig)
	if a.Hash() == b.Hash() {
		t.Fatal("hash must change when the signature changes")
	}
	if a.SigningHash() != b.SigningHash() {
		t.Fatal("signing hash must not cover the signature")
	}
}

func TestTransactionCost(t *testing.T) {
	tx := testTx(0)
	// value 1000 + gasLimit 21000 * maxFee 2
	want := uint256.NewInt(1000 + 21000*2)
	if tx.Cost().Cmp(want) != 0 {
		t.Fatalf("cost = %s, want %s", tx.Cost(), want)
	}
}

func TestContractCreationRecipient(t *testing.T) {
	tx := NewTransaction(TxParams{ChainID: 1, GasLimit: 53000})
	if !tx.IsContractCreation() {
		t.Fatal("zero recipient must mean contract creation")
	}
}

func TestRPCEncoding(t *testing.T) {
	tx := testTx(3)
	enc := tx.EncodeRPC()
	if len(enc) < 2 || enc[:2] != "0x" {
		t.Fatalf("rpc form must be 0x-prefixed, got %q", enc[:2])
	}
	dec, err := DecodeRPCTransaction(enc)
	if err != nil {
		t.Fatalf("decode rpc: %v", err)
	}
	if dec.Hash() != tx.Hash() {
		t.Fatal("rpc round trip changed the transaction")
	}
	if _, err := DecodeRPCTransaction("0xzz"); err == nil {
		t.Fatal("malformed hex must fail")
	}
}
