package vm

import (
	"testing"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// derivedAddrOracle rebuilds the creation preimage independently of the
// implementation: a list header of 0xC0 + 20 + payload size, the raw
// 20-byte sender with no string prefix, then the nonce as a single raw
// byte below 0x80 (including 0x00 for nonce zero) or a 0x80+len prefix
// followed by its big-endian bytes.
func derivedAddrOracle(sender types.Address, nonce uint64) types.Address {
	var nonceBytes []byte
	if nonce < 0x80 {
		nonceBytes = []byte{byte(nonce)}
	} else {
		var be []byte
		for v := nonce; v > 0; v >>= 8 {
			be = append([]byte{byte(v)}, be...)
		}
		nonceBytes = append([]byte{0x80 + byte(len(be))}, be...)
	}
	preimage := []byte{0xc0 + types.AddressLength + byte(len(nonceBytes))}
	preimage = append(preimage, sender[:]...)
	preimage = append(preimage, nonceBytes...)
	return types.BytesToAddress(crypto.Keccak256(preimage)[12:])
}

func TestDeriveContractAddressPreimage(t *testing.T) {
	sender := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")
	for _, nonce := range []uint64{0, 1, 0x7f, 0x80, 0xff, 0x100, 1000, 1 << 20, 1 << 40} {
		got := DeriveContractAddress(sender, nonce)
		want := derivedAddrOracle(sender, nonce)
		if got != want {
			t.Fatalf("nonce %d: got %s, want %s", nonce, got, want)
		}
	}
}

func TestDeriveContractAddressHeaderByte(t *testing.T) {
	// The list header is 0xC0 + 20 + 1 below nonce 0x80 and grows with the
	// nonce's byte length above it; the hashes must diverge exactly there.
	sender := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")
	tests := []struct {
		nonce       uint64
		payloadSize byte // nonce encoding length after the sender
	}{
		{0, 1}, {0x7f, 1}, {0x80, 2}, {0xff, 2}, {0x100, 3}, {0xffff, 3}, {0x10000, 4},
	}
	for _, tt := range tests {
		preimage := []byte{0xc0 + types.AddressLength + tt.payloadSize}
		preimage = append(preimage, sender[:]...)
		if tt.nonce < 0x80 {
			preimage = append(preimage, byte(tt.nonce))
		} else {
			var be []byte
			for v := tt.nonce; v > 0; v >>= 8 {
				be = append([]byte{byte(v)}, be...)
			}
			preimage = append(preimage, 0x80+byte(len(be)))
			preimage = append(preimage, be...)
		}
		want := types.BytesToAddress(crypto.Keccak256(preimage)[12:])
		if got := DeriveContractAddress(sender, tt.nonce); got != want {
			t.Fatalf("nonce %#x: header-size %d preimage mismatch: got %s, want %s",
				tt.nonce, tt.payloadSize, got, want)
		}
	}
}

func TestDeriveContractAddressDistinct(t *testing.T) {
	sender := types.HexToAddress("0x1111111111111111111111111111111111111111")
	other := types.HexToAddress("0x2222222222222222222222222222222222222222")
	if DeriveContractAddress(sender, 0) == DeriveContractAddress(sender, 1) {
		t.Fatal("consecutive nonces must yield distinct addresses")
	}
	if DeriveContractAddress(sender, 0) == DeriveContractAddress(other, 0) {
		t.Fatal("distinct senders must yield distinct addresses")
	}
}

func TestBytesRequired(t *testing.T) {
	tests := []struct {
		n    uint64
		want int
	}{
		{0, 1}, {1, 1}, {0xff, 1}, {0x100, 2}, {0xffff, 2}, {0x10000, 3}, {1 << 56, 8},
	}
	for _, tt := range tests {
		if got := bytesRequired(tt.n); got != tt.want {
			t.Fatalf("bytesRequired(%#x) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
