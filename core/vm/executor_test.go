package vm

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/state"
	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/crypto"
)

const testChainID = 8848

// scriptVM runs a Go function in place of a bytecode interpreter.
type scriptVM struct {
	fn func(host Host, msg Message, code []byte) Result
}

func (v scriptVM) Execute(host Host, rev Revision, msg Message, code []byte) Result {
	if v.fn == nil {
		return Result{Status: Success, GasLeft: msg.Gas}
	}
	return v.fn(host, msg, code)
}

type testEnv struct {
	state    *state.StateStore
	registry *Registry
	executor *Executor
	key      *ecdsa.PrivateKey
	sender   types.Address
}

func newTestEnv(t *testing.T, vmImpl VM, balance *uint256.Int) *testEnv {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sender := crypto.PubkeyToAddress(key.PublicKey)
	st := state.NewStateStore()
	st.AddBalance(sender, balance)
	registry := NewRegistry()
	return &testEnv{
		state:    st,
		registry: registry,
		executor: NewExecutor(st, registry, vmImpl, nil, testChainID),
		key:      key,
		sender:   sender,
	}
}

func (env *testEnv) signedTx(t *testing.T, p types.TxParams) *types.Transaction {
	t.Helper()
	p.From = env.sender
	p.ChainID = testChainID
	tx := types.NewTransaction(p)
	if err := crypto.SignTx(tx, env.key); err != nil {
		t.Fatal(err)
	}
	return tx
}

func testBlockCtx() BlockContext {
	return BlockContext{
		Coinbase:  types.HexToAddress("0xc0ffee0000000000000000000000000000000000"),
		Height:    1,
		Timestamp: 1656356645000000001,
		GasLimit:  30_000_000,
	}
}

func oneEther() *uint256.Int {
	v, _ := uint256.FromDecimal("1000000000000000000")
	return v
}

func TestSimpleTransfer(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, oneEther())
	to := types.HexToAddress("0x1111111111111111111111111111111111111111")

	tx := env.signedTx(t, types.TxParams{
		To:       to,
		Nonce:    0,
		Value:    uint256.NewInt(1),
		MaxFee:   1,
		GasLimit: 21000,
	})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Success {
		t.Fatalf("status = %s", res.Status)
	}
	if res.GasUsed != 21000 {
		t.Fatalf("gasUsed = %d, want 21000", res.GasUsed)
	}

	env.state.Commit()
	want, _ := uint256.FromDecimal("999999999999978999") // 10^18 - 21001
	if got := env.state.GetBalance(env.sender); got.Cmp(want) != 0 {
		t.Fatalf("sender balance = %s, want %s", got, want)
	}
	if got := env.state.GetBalance(to); got.Cmp(uint256.NewInt(1)) != 0 {
		t.Fatalf("recipient balance = %s, want 1", got)
	}
	if got := env.state.GetNonce(env.sender); got != 1 {
		t.Fatalf("sender nonce = %d, want 1", got)
	}
}

func TestTransferConservesValue(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, oneEther())
	ctx := testBlockCtx()
	to := types.HexToAddress("0x1111111111111111111111111111111111111111")

	tx := env.signedTx(t, types.TxParams{To: to, Value: uint256.NewInt(500), MaxFee: 3, GasLimit: 21000})
	if _, err := env.executor.ExecuteTransaction(tx, ctx); err != nil {
		t.Fatal(err)
	}
	env.state.Commit()

	sum := new(uint256.Int)
	for _, addr := range []types.Address{env.sender, to, ctx.Coinbase} {
		sum.Add(sum, env.state.GetBalance(addr))
	}
	if sum.Cmp(oneEther()) != 0 {
		t.Fatalf("total balance = %s, want %s", sum, oneEther())
	}
}

func TestInvalidTransactionsExcluded(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, oneEther())
	to := types.HexToAddress("0x1111111111111111111111111111111111111111")

	tests := []struct {
		name    string
		params  types.TxParams
		wantErr error
	}{
		{"nonceSkew", types.TxParams{To: to, Nonce: 5, MaxFee: 1, GasLimit: 21000}, ErrNonceMismatch},
		{"intrinsicGas", types.TxParams{To: to, MaxFee: 1, GasLimit: 20000}, ErrIntrinsicGas},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := env.signedTx(t, tt.params)
			if _, err := env.executor.ExecuteTransaction(tx, testBlockCtx()); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			// Excluded transactions leave no trace.
			if env.state.PendingNonce(env.sender) != 0 {
				t.Fatal("excluded tx must not bump the nonce")
			}
		})
	}
}

func TestChainIDMismatchExcluded(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, oneEther())
	tx := types.NewTransaction(types.TxParams{
		To:       types.HexToAddress("0x1111111111111111111111111111111111111111"),
		From:     env.sender,
		ChainID:  testChainID + 1,
		MaxFee:   1,
		GasLimit: 21000,
	})
	if err := crypto.SignTx(tx, env.key); err != nil {
		t.Fatal(err)
	}
	if _, err := env.executor.ExecuteTransaction(tx, testBlockCtx()); !errors.Is(err, ErrChainIDMismatch) {
		t.Fatalf("err = %v, want ErrChainIDMismatch", err)
	}
}

func TestInsufficientFundsExcluded(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, uint256.NewInt(100)) // cannot cover gas
	tx := env.signedTx(t, types.TxParams{
		To:       types.HexToAddress("0x1111111111111111111111111111111111111111"),
		MaxFee:   1,
		GasLimit: 21000,
	})
	if _, err := env.executor.ExecuteTransaction(tx, testBlockCtx()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := env.state.PendingBalance(env.sender); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("balance changed on excluded tx: %s", got)
	}
}

func TestContractCreation(t *testing.T) {
	deployed := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		return Result{Status: Success, GasLeft: msg.Gas, Output: deployed}
	}}, oneEther())

	tx := env.signedTx(t, types.TxParams{Nonce: 0, MaxFee: 1, GasLimit: 100000})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Success {
		t.Fatalf("status = %s", res.Status)
	}

	want := DeriveContractAddress(env.sender, 0)
	if res.ContractAddress != want {
		t.Fatalf("contract address = %s, want %s", res.ContractAddress, want)
	}
	if handler, ok := env.registry.Get(want); !ok || handler.Kind != KindBytecode {
		t.Fatal("created contract missing from registry")
	}
	if addr, ok := env.state.ContractAddress(tx.Hash()); !ok || addr != want {
		t.Fatal("tx hash -> contract mapping missing")
	}
	env.state.Commit()
	if got := string(env.state.GetCode(want)); got != string(deployed) {
		t.Fatal("deployed code mismatch")
	}
}

func TestCreateRevertUnregisters(t *testing.T) {
	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		return Result{Status: Revert, GasLeft: msg.Gas / 2}
	}}, oneEther())

	tx := env.signedTx(t, types.TxParams{Nonce: 0, MaxFee: 1, GasLimit: 100000})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Revert {
		t.Fatalf("status = %s, want revert", res.Status)
	}
	if env.registry.Len() != 0 {
		t.Fatal("reverted creation must not stay registered")
	}
	addr := DeriveContractAddress(env.sender, 0)
	if len(env.state.GetCode(addr)) != 0 {
		t.Fatal("reverted creation must not install code")
	}
	if env.state.PendingNonce(env.sender) != 1 {
		t.Fatal("nonce bump must survive the revert")
	}
}

// deployTestContract installs code for addr directly at the committed layer.
func deployTestContract(t *testing.T, env *testEnv, addr types.Address, code []byte) {
	t.Helper()
	txn := env.state.Begin()
	if err := txn.SetCode(addr, code); err != nil {
		t.Fatal(err)
	}
	txn.End()
	env.state.Commit()
	if err := env.registry.RegisterBytecode(addr); err != nil {
		t.Fatal(err)
	}
}

func TestRevertRollsBackStorageButKeepsGasCharge(t *testing.T) {
	contract := types.HexToAddress("0xc000000000000000000000000000000000000001")
	slot := types.Hash{}
	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		_ = host.GetStorage(msg.Recipient, slot)
		host.SetStorage(msg.Recipient, slot, types.BytesToHash([]byte{42}))
		return Result{Status: Revert, GasLeft: msg.Gas - 5000}
	}}, oneEther())
	deployTestContract(t, env, contract, []byte{0x01})

	tx := env.signedTx(t, types.TxParams{To: contract, Nonce: 0, MaxFee: 1, GasLimit: 50000})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Revert {
		t.Fatalf("status = %s, want revert", res.Status)
	}
	wantGas := uint64(21000 + 5000)
	if res.GasUsed != wantGas {
		t.Fatalf("gasUsed = %d, want %d", res.GasUsed, wantGas)
	}

	env.state.Commit()
	if got := env.state.GetStorage(contract, slot); !got.IsZero() {
		t.Fatalf("storage must roll back, got %s", got)
	}
	if env.state.GetNonce(env.sender) != 1 {
		t.Fatal("nonce must stay bumped")
	}
	// Sender pays exactly gas_used * gas_price.
	want := new(uint256.Int).Sub(oneEther(), uint256.NewInt(wantGas))
	if got := env.state.GetBalance(env.sender); got.Cmp(want) != 0 {
		t.Fatalf("sender balance = %s, want %s", got, want)
	}
}

func TestSelfDestructPromotesRevert(t *testing.T) {
	contract := types.HexToAddress("0xc000000000000000000000000000000000000002")
	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		host.SetStorage(msg.Recipient, types.Hash{}, types.BytesToHash([]byte{1}))
		if host.SelfDestruct(msg.Recipient, msg.Sender) {
			t.Error("selfdestruct must report failure")
		}
		return Result{Status: Success, GasLeft: msg.Gas}
	}}, oneEther())
	deployTestContract(t, env, contract, []byte{0x01})

	tx := env.signedTx(t, types.TxParams{To: contract, Nonce: 0, MaxFee: 1, GasLimit: 50000})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Revert {
		t.Fatalf("selfdestruct must promote to revert, got %s", res.Status)
	}
	env.state.Commit()
	if got := env.state.GetStorage(contract, types.Hash{}); !got.IsZero() {
		t.Fatal("writes before selfdestruct must roll back")
	}
}

func TestNestedCallChildRevert(t *testing.T) {
	parent := types.HexToAddress("0xc000000000000000000000000000000000000003")
	child := types.HexToAddress("0xc000000000000000000000000000000000000004")
	slotP := types.BytesToHash([]byte{0xaa})
	slotC := types.BytesToHash([]byte{0xbb})

	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		switch msg.Recipient {
		case parent:
			host.SetStorage(parent, slotP, types.BytesToHash([]byte{1}))
			// Child call fails; the parent tolerates it and succeeds.
			childMsg := Message{
				Kind: Call, Depth: msg.Depth + 1, Gas: msg.Gas / 2,
				Sender: parent, Recipient: child, CodeAddress: child,
			}
			if res := host.Call(childMsg); res.Status == Success {
				return Result{Status: Failure}
			}
			return Result{Status: Success, GasLeft: msg.Gas / 2}
		case child:
			host.SetStorage(child, slotC, types.BytesToHash([]byte{2}))
			return Result{Status: Revert, GasLeft: 0}
		}
		return Result{Status: Failure}
	}}, oneEther())
	deployTestContract(t, env, parent, []byte{0x01})
	deployTestContract(t, env, child, []byte{0x02})

	tx := env.signedTx(t, types.TxParams{To: parent, Nonce: 0, MaxFee: 1, GasLimit: 100000})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != Success {
		t.Fatalf("parent must survive child revert, got %s", res.Status)
	}

	env.state.Commit()
	if env.state.GetStorage(parent, slotP).IsZero() {
		t.Fatal("parent write must persist")
	}
	if !env.state.GetStorage(child, slotC).IsZero() {
		t.Fatal("child write must roll back")
	}
}

func TestEmitLogBuffering(t *testing.T) {
	contract := types.HexToAddress("0xc000000000000000000000000000000000000005")
	topic := types.BytesToHash([]byte{0x77})

	makeEnv := func(status Status) (*testEnv, *types.Transaction) {
		env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
			host.EmitLog(msg.Recipient, []byte("payload"), []types.Hash{topic})
			return Result{Status: status, GasLeft: msg.Gas}
		}}, oneEther())
		deployTestContract(t, env, contract, []byte{0x01})
		tx := env.signedTx(t, types.TxParams{To: contract, Nonce: 0, MaxFee: 1, GasLimit: 50000})
		return env, tx
	}

	env, tx := makeEnv(Success)
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Contract != contract || res.Events[0].Topics[0] != topic {
		t.Fatalf("expected one buffered event, got %+v", res.Events)
	}

	env, tx = makeEnv(Revert)
	res, err = env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 0 {
		t.Fatal("reverted frames must discard their events")
	}
}

func TestTransientClearedBetweenTransactions(t *testing.T) {
	contract := types.HexToAddress("0xc000000000000000000000000000000000000006")
	slot := types.BytesToHash([]byte{0x01})
	var secondRead types.Hash

	call := 0
	env := newTestEnv(t, scriptVM{fn: func(host Host, msg Message, code []byte) Result {
		call++
		if call == 1 {
			host.SetTransient(msg.Recipient, slot, types.BytesToHash([]byte{0x99}))
		} else {
			secondRead = host.GetTransient(msg.Recipient, slot)
		}
		return Result{Status: Success, GasLeft: msg.Gas}
	}}, oneEther())
	deployTestContract(t, env, contract, []byte{0x01})

	for nonce := uint64(0); nonce < 2; nonce++ {
		tx := env.signedTx(t, types.TxParams{To: contract, Nonce: nonce, MaxFee: 1, GasLimit: 50000})
		if _, err := env.executor.ExecuteTransaction(tx, testBlockCtx()); err != nil {
			t.Fatal(err)
		}
	}
	if !secondRead.IsZero() {
		t.Fatalf("transient storage must be cleared between transactions, read %s", secondRead)
	}
}

func TestEcrecoverPrecompile(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, oneEther())
	rng := NewRandomGen(crypto.Keccak256Hash([]byte("seed")))
	if err := InstallPrecompiles(env.registry, rng); err != nil {
		t.Fatal(err)
	}

	digest := crypto.Keccak256Hash([]byte("message"))
	sig, err := crypto.Sign(digest, env.key)
	if err != nil {
		t.Fatal(err)
	}

	input := make([]byte, 4+128)
	copy(input[:4], selEcrecover[:])
	copy(input[4:36], digest[:])
	input[4+63] = sig[64] + 27
	copy(input[4+64:4+96], sig[:32])
	copy(input[4+96:4+128], sig[32:64])

	tx := env.signedTx(t, types.TxParams{
		To: EcrecoverAddress, Nonce: 0, Data: input, MaxFee: 1, GasLimit: 100000,
	})
	res, err := env.executor.ExecuteTransaction(tx, testBlockCtx())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Success {
		t.Fatalf("status = %s", res.Status)
	}
	if got := types.BytesToAddress(res.Output); got != env.sender {
		t.Fatalf("recovered %s, want %s", got, env.sender)
	}
}

func TestValidateTransaction(t *testing.T) {
	env := newTestEnv(t, scriptVM{}, uint256.NewInt(100_000))
	to := types.HexToAddress("0x1111111111111111111111111111111111111111")

	good := env.signedTx(t, types.TxParams{To: to, Nonce: 0, MaxFee: 1, GasLimit: 21000})
	if err := env.executor.ValidateTransaction(good); err != nil {
		t.Fatalf("valid tx rejected: %v", err)
	}

	costly := env.signedTx(t, types.TxParams{To: to, Nonce: 0, Value: uint256.NewInt(100_000), MaxFee: 1, GasLimit: 21000})
	if err := env.executor.ValidateTransaction(costly); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestRandomGenDeterministic(t *testing.T) {
	a := NewRandomGen(crypto.Keccak256Hash([]byte("s")))
	b := NewRandomGen(crypto.Keccak256Hash([]byte("s")))
	for i := 0; i < 4; i++ {
		if a.Next() != b.Next() {
			t.Fatal("equal seeds must yield equal sequences")
		}
	}
	c := NewRandomGen(crypto.Keccak256Hash([]byte("t")))
	if a.Next() == c.Next() {
		t.Fatal("different seeds should diverge")
	}
}
