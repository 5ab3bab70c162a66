package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/sparqnet/go-sparq/core/types"
	"github.com/sparqnet/go-sparq/db"
)

// ErrDBCorrupted is returned when the stored snapshot height disagrees with
// the chain height the caller expects. Fatal: the node must refuse to start.
var ErrDBCorrupted = errors.New("state: snapshot height mismatch, database corrupted")

// accountRecordLen is nonce(8 BE) || balance(32 BE).
const accountRecordLen = 8 + 32

// SnapshotTo flushes the committed layer to the store as one batch per
// namespace, then bumps the latest-height marker. The five namespace
// batches and the marker are separate writes: if one of them fails, the
// entries already written stay on disk beside the previous marker.
func (s *StateStore) SnapshotTo(store db.Store, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		accounts  db.Batch
		code      db.Batch
		codeHash  db.Batch
		storage   db.Batch
		contracts db.Batch
	)

	for addr, acc := range s.accounts {
		record := make([]byte, accountRecordLen)
		binary.BigEndian.PutUint64(record, acc.nonce.committed)
		bal := acc.balance.committed.Bytes32()
		copy(record[8:], bal[:])
		accounts.Put(addr.Bytes(), record)

		if len(acc.code.committed) > 0 {
			code.Put(addr.Bytes(), acc.code.committed)
			codeHash.Put(addr.Bytes(), acc.codeHash.committed.Bytes())
		}
		for key, cell := range acc.storage {
			if cell.committed.IsZero() {
				continue
			}
			k := make([]byte, 0, types.AddressLength+types.HashLength)
			k = append(k, addr.Bytes()...)
			k = append(k, key.Bytes()...)
			storage.Put(k, cell.committed.Bytes())
		}
	}
	for txHash, addr := range s.contractAddresses {
		contracts.Put(txHash.Bytes(), addr.Bytes())
	}

	writes := []struct {
		prefix db.Prefix
		batch  db.Batch
	}{
		{db.PrefixAccounts, accounts},
		{db.PrefixCode, code},
		{db.PrefixCodeHash, codeHash},
		{db.PrefixStorage, storage},
		{db.PrefixContracts, contracts},
	}
	for _, w := range writes {
		if err := store.WriteBatch(w.batch, w.prefix); err != nil {
			return fmt.Errorf("snapshot %s: %w", string(w.prefix), err)
		}
	}

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, height)
	if err := store.Put([]byte(db.KeyLatest), heightBytes, db.PrefixHost); err != nil {
		return fmt.Errorf("snapshot latest marker: %w", err)
	}
	s.logger.Info("state snapshot written", "height", height, "accounts", len(s.accounts))
	return nil
}

// LoadFrom rehydrates the account map from a snapshot, filling both layers
// with the persisted committed values. It fails with ErrDBCorrupted when
// the stored height marker disagrees with expectedHeight, and is a no-op
// when no snapshot exists yet.
func (s *StateStore) LoadFrom(store db.Store, expectedHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasLatest, err := store.Has([]byte(db.KeyLatest), db.PrefixHost)
	if err != nil {
		return fmt.Errorf("snapshot probe: %w", err)
	}
	if !hasLatest {
		return nil
	}
	heightBytes, err := store.Get([]byte(db.KeyLatest), db.PrefixHost)
	if err != nil {
		return fmt.Errorf("snapshot latest marker: %w", err)
	}
	if len(heightBytes) != 8 {
		return fmt.Errorf("%w: malformed latest marker", ErrDBCorrupted)
	}
	if saved := binary.BigEndian.Uint64(heightBytes); saved != expectedHeight {
		return fmt.Errorf("%w: snapshot height %d, chain height %d", ErrDBCorrupted, saved, expectedHeight)
	}

	accounts, err := store.ReadBatch(db.PrefixAccounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, e := range accounts {
		if len(e.Key) != types.AddressLength || len(e.Value) != accountRecordLen {
			return fmt.Errorf("%w: malformed account record", ErrDBCorrupted)
		}
		acc := s.account(types.BytesToAddress(e.Key))
		acc.nonce.committed = binary.BigEndian.Uint64(e.Value[:8])
		acc.nonce.pending = acc.nonce.committed
		acc.balance.committed = new(uint256.Int).SetBytes(e.Value[8:])
		acc.balance.pending = acc.balance.committed.Clone()
	}

	code, err := store.ReadBatch(db.PrefixCode)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	for _, e := range code {
		acc := s.account(types.BytesToAddress(e.Key))
		acc.code.committed = e.Value
		acc.code.pending = e.Value
	}

	codeHash, err := store.ReadBatch(db.PrefixCodeHash)
	if err != nil {
		return fmt.Errorf("load code hashes: %w", err)
	}
	for _, e := range codeHash {
		acc := s.account(types.BytesToAddress(e.Key))
		acc.codeHash.committed = types.BytesToHash(e.Value)
		acc.codeHash.pending = acc.codeHash.committed
	}

	storage, err := store.ReadBatch(db.PrefixStorage)
	if err != nil {
		return fmt.Errorf("load storage: %w", err)
	}
	for _, e := range storage {
		if len(e.Key) != types.AddressLength+types.HashLength {
			return fmt.Errorf("%w: malformed storage key", ErrDBCorrupted)
		}
		acc := s.account(types.BytesToAddress(e.Key[:types.AddressLength]))
		key := types.BytesToHash(e.Key[types.AddressLength:])
		val := types.BytesToHash(e.Value)
		acc.storage[key] = &slotCell{committed: val, pending: val}
	}

	contracts, err := store.ReadBatch(db.PrefixContracts)
	if err != nil {
		return fmt.Errorf("load contract addresses: %w", err)
	}
	for _, e := range contracts {
		s.contractAddresses[types.BytesToHash(e.Key)] = types.BytesToAddress(e.Value)
	}

	s.logger.Info("state snapshot loaded", "height", expectedHeight, "accounts", len(s.accounts))
	return nil
}
