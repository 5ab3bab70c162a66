package state

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/db"
)

func populatedStore(t *testing.T) *StateStore {
	t.Helper()
	s := NewStateStore()
	s.AddBalance(addrA, uint256.NewInt(1_000_000))
	s.AddBalance(addrB, uint256.NewInt(42))

	txn := s.Begin()
	txn.IncNonce(addrA)
	txn.SetStorage(addrA, key1, val1)
	txn.SetStorage(addrA, key2, val2)
	if err := txn.SetCode(addrB, []byte{0x60, 0x01, 0x60, 0x02}); err != nil {
		t.Fatal(err)
	}
	txn.RegisterContract(types.HexToHash("0xbeef"), addrB)
	txn.End()
	s.Commit()
	return s
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := populatedStore(t)
	store := db.NewMemory()
	if err := s.SnapshotTo(store, 9); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	fresh := NewStateStore()
	if err := fresh.LoadFrom(store, 9); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, addr := range []types.Address{addrA, addrB} {
		if got, want := fresh.GetBalance(addr), s.GetBalance(addr); got.Cmp(want) != 0 {
			t.Fatalf("balance(%s) = %s, want %s", addr, got, want)
		}
		if got, want := fresh.GetNonce(addr), s.GetNonce(addr); got != want {
			t.Fatalf("nonce(%s) = %d, want %d", addr, got, want)
		}
	}
	if got := fresh.GetStorage(addrA, key1); got != val1 {
		t.Fatalf("storage(key1) = %s, want %s", got, val1)
	}
	if got := fresh.GetStorage(addrA, key2); got != val2 {
		t.Fatalf("storage(key2) = %s, want %s", got, val2)
	}
	if got := string(fresh.GetCode(addrB)); got != string(s.GetCode(addrB)) {
		t.Fatal("code mismatch after load")
	}
	if addr, ok := fresh.ContractAddress(types.HexToHash("0xbeef")); !ok || addr != addrB {
		t.Fatal("contract registry lost in snapshot")
	}
}

func TestLoadHeightMismatchIsCorruption(t *testing.T) {
	s := populatedStore(t)
	store := db.NewMemory()
	if err := s.SnapshotTo(store, 9); err != nil {
		t.Fatal(err)
	}

	fresh := NewStateStore()
	if err := fresh.LoadFrom(store, 10); !errors.Is(err, ErrDBCorrupted) {
		t.Fatalf("expected ErrDBCorrupted, got %v", err)
	}
}

func TestLoadWithoutSnapshotIsNoop(t *testing.T) {
	fresh := NewStateStore()
	if err := fresh.LoadFrom(db.NewMemory(), 0); err != nil {
		t.Fatalf("fresh load must be a no-op, got %v", err)
	}
	if fresh.Exists(addrA) {
		t.Fatal("no accounts expected after empty load")
	}
}

func TestSnapshotSkipsZeroSlots(t *testing.T) {
	s := NewStateStore()
	txn := s.Begin()
	txn.SetStorage(addrA, key1, val1)
	txn.SetStorage(addrA, key2, types.Hash{}) // zero value: not persisted
	txn.End()
	s.Commit()

	store := db.NewMemory()
	if err := s.SnapshotTo(store, 1); err != nil {
		t.Fatal(err)
	}
	entries, err := store.ReadBatch(db.PrefixStorage)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 persisted slot, got %d", len(entries))
	}
}
