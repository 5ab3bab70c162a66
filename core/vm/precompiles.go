package vm

import (
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

// Native precompile addresses, installed in the registry at genesis.
var (
	EcrecoverAddress = types.HexToAddress("0x0000000000000000000000000000000000000001")
	RandomAddress    = types.HexToAddress("0x0000000000000000000000000000000000000002")
)

// Native function selectors.
var (
	selEcrecover = selectorOf("ecrecover(bytes32,uint8,bytes32,bytes32)")
	selRandom    = selectorOf("getRandom()")
)

func selectorOf(signature string) Selector {
	var sel Selector
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// InstallPrecompiles registers the native contracts. rng may be nil, in
// which case the random precompile is not installed.
func InstallPrecompiles(registry *Registry, rng *RandomGen) error {
	if err := registry.RegisterPrecompile(EcrecoverAddress, map[Selector]NativeFunc{
		selEcrecover: ecrecoverNative,
	}); err != nil {
		return err
	}
	if rng != nil {
		if err := registry.RegisterPrecompile(RandomAddress, map[Selector]NativeFunc{
			selRandom: rng.native,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ecrecoverNative recovers a signer address from an ABI-packed
// (hash, v, r, s) quadruple and returns it left-padded to 32 bytes.
// Malformed input or an unrecoverable signature yields an empty success,
// matching the classic precompile's behavior.
func ecrecoverNative(host Host, msg Message) Result {
	input := msg.Input
	if len(input) < 4+128 {
		return Result{Status: Success, GasLeft: msg.Gas}
	}
	args := input[4:]
	digest := types.BytesToHash(args[:32])
	v := args[63] // low byte of the padded uint8
	var sig types.Signature
	copy(sig[:32], args[64:96])
	copy(sig[32:64], args[96:128])
	if v >= 27 {
		v -= 27
	}
	sig[64] = v

	addr, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return Result{Status: Success, GasLeft: msg.Gas}
	}
	out := make([]byte, 32)
	copy(out[12:], addr[:])
	return Result{Status: Success, GasLeft: msg.Gas, Output: out}
}
