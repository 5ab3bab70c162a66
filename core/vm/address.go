package vm

import (
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// DeriveContractAddress computes the address of a contract created by
// sender at the given nonce: the low 20 bytes of Keccak-256 over a list
// of [sender, nonce]. The encoding is the chain's own, not canonical RLP:
// the 20 sender bytes go in raw with no string prefix, and a nonce below
// 0x80 is a single raw byte, 0x00 included.
func DeriveContractAddress(sender types.Address, nonce uint64) types.Address {
	size := byte(0xc0)
	size += types.AddressLength
	if nonce < 0x80 {
		size += 1
	} else {
		size += 1 + byte(bytesRequired(nonce))
	}

	rlp := make([]byte, 0, 1+types.AddressLength+9)
	rlp = append(rlp, size)
	rlp = append(rlp, sender[:]...)
	if nonce < 0x80 {
		rlp = append(rlp, byte(nonce))
	} else {
		n := bytesRequired(nonce)
		rlp = append(rlp, 0x80+byte(n))
		for i := n - 1; i >= 0; i-- {
			rlp = append(rlp, byte(nonce>>(8*uint(i))))
		}
	}

	hash := crypto.Keccak256(rlp)
	return types.BytesToAddress(hash[12:])
}

// bytesRequired returns the minimal big-endian byte length of n.
func bytesRequired(n uint64) int {
	count := 0
	for n > 0 {
		count++
		n >>= 8
	}
	if count == 0 {
		return 1
	}
	return count
}
