package state

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gagliardetto/solana-go"

	"payai/crypto"
	"payai/storage"
)

// Tx buffers writes in memory. Reads observe buffered writes before falling
// back to the database. Commit flushes everything through a single batch.
type Tx struct {
	db     storage.Database
	writes map[string][]byte
	closed bool
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	if value, ok := tx.writes[string(key)]; ok {
		return value, true, nil
	}
	return readRaw(tx.db, key)
}

func (tx *Tx) put(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	tx.writes[string(key)] = encoded
	return nil
}

func (tx *Tx) decode(key []byte, out interface{}) (bool, error) {
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

// CreateRecord stores value at addr only if no record of that kind exists.
func (tx *Tx) CreateRecord(kind RecordKind, addr solana.PublicKey, value interface{}) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	key := recordKey(kind, addr)
	exists, err := tx.decode(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %s", ErrRecordExists, kind, addr)
	}
	return tx.put(key, value)
}

// PutRecord overwrites an existing record.
func (tx *Tx) PutRecord(kind RecordKind, addr solana.PublicKey, value interface{}) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	key := recordKey(kind, addr)
	exists, err := tx.decode(key, nil)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", ErrRecordMissing, kind, addr)
	}
	return tx.put(key, value)
}

// GetRecord decodes the record of the given kind at addr into out and reports
// whether it exists.
func (tx *Tx) GetRecord(kind RecordKind, addr solana.PublicKey, out interface{}) (bool, error) {
	if !kind.valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return tx.decode(recordKey(kind, addr), out)
}

// Balance returns the value held at addr. Unknown addresses hold zero.
func (tx *Tx) Balance(addr solana.PublicKey) (uint64, error) {
	var balance uint64
	if _, err := tx.decode(balanceKey(addr), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (tx *Tx) setBalance(addr solana.PublicKey, amount uint64) error {
	return tx.put(balanceKey(addr), amount)
}

// Credit adds amount to the balance held at addr.
func (tx *Tx) Credit(addr solana.PublicKey, amount uint64) error {
	balance, err := tx.Balance(addr)
	if err != nil {
		return err
	}
	next := balance + amount
	if next < balance {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr)
	}
	return tx.setBalance(addr, next)
}

// Transfer moves amount between two signing identities. Program-derived
// addresses cannot be debited here; see DebitDerived.
func (tx *Tx) Transfer(from, to solana.PublicKey, amount uint64) error {
	if crypto.IsDerived(from) {
		return fmt.Errorf("%w: %s", ErrDerivedDebit, from)
	}
	return tx.move(from, to, amount)
}

// DebitDerived moves amount out of a program-derived address. Callers must
// have proven authority over the address before invoking it.
func (tx *Tx) DebitDerived(from, to solana.PublicKey, amount uint64) error {
	if !crypto.IsDerived(from) {
		return fmt.Errorf("%w: %s", ErrNotDerived, from)
	}
	return tx.move(from, to, amount)
}

func (tx *Tx) move(from, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	fromBalance, err := tx.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, from, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := tx.Balance(to)
	if err != nil {
		return err
	}
	credited := toBalance + amount
	if credited < toBalance {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}
	if err := tx.setBalance(from, fromBalance-amount); err != nil {
		return err
	}
	return tx.setBalance(to, credited)
}

// KVPut stores an RLP-encoded value under an arbitrary key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return tx.put(kvKey(key), value)
}

// KVGet decodes the value stored under key and reports whether it exists.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return tx.decode(kvKey(key), out)
}

// Pending reports the number of buffered writes.
func (tx *Tx) Pending() int { return len(tx.writes) }

// Commit writes all buffered changes in one batch and closes the overlay.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := tx.db.NewBatch()
	for _, key := range keys {
		batch.Put([]byte(key), tx.writes[key])
	}
	tx.writes = nil
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops all buffered changes. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
}
