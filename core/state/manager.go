package state

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"payai/storage"
)

var (
	ErrRecordExists        = errors.New("state: record already exists")
	ErrRecordMissing       = errors.New("state: record does not exist")
	ErrUnknownKind         = errors.New("state: unknown record kind")
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrBalanceOverflow     = errors.New("state: balance overflow")
	ErrDerivedDebit        = errors.New("state: derived address cannot sign a debit")
	ErrNotDerived          = errors.New("state: address is not program derived")
	ErrTxClosed            = errors.New("state: transaction already closed")
)

// Manager reads and writes ledger state on top of a key/value database. All
// mutations go through a Tx obtained from Begin so that an instruction either
// commits every write or none of them.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write overlay on the current state.
func (m *Manager) Begin() *Tx {
	return &Tx{db: m.db, writes: make(map[string][]byte)}
}

// GetRecord decodes the committed record of the given kind at addr into out.
func (m *Manager) GetRecord(kind RecordKind, addr solana.PublicKey, out interface{}) (bool, error) {
	tx := m.Begin()
	defer tx.Discard()
	return tx.GetRecord(kind, addr, out)
}

// Balance returns the committed balance held at addr.
func (m *Manager) Balance(addr solana.PublicKey) (uint64, error) {
	tx := m.Begin()
	defer tx.Discard()
	return tx.Balance(addr)
}

// KVGet decodes the committed value stored under key.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	tx := m.Begin()
	defer tx.Discard()
	return tx.KVGet(key, out)
}

func readRaw(db storage.Database, key []byte) ([]byte, bool, error) {
	data, err := db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: read: %w", err)
	}
	return data, true, nil
}
