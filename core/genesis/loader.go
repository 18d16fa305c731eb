// core/genesis/loader.go
package genesis

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"payai/core/state"
)

var markerKey = []byte("genesis/applied")

// ErrGenesisMismatch is returned when the database was initialised from a
// different genesis document.
var ErrGenesisMismatch = errors.New("genesis: database initialised from a different genesis")

type marker struct {
	Timestamp uint64
	Digest    [32]byte
}

// Digest identifies the genesis document by its validated content.
func (s *GenesisSpec) Digest() ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(struct {
		Timestamp   uint64
		ProgramID   [32]byte
		Allocations []Allocation
	}{uint64(s.genesisTimestamp.Unix()), s.programID, s.allocations})
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Apply credits the genesis allocations once. It returns false without error
// when the same genesis was applied earlier, and ErrGenesisMismatch when a
// different one was.
func Apply(spec *GenesisSpec, manager *state.Manager) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return false, fmt.Errorf("state manager must not be nil")
	}
	digest, err := spec.Digest()
	if err != nil {
		return false, err
	}

	var existing marker
	ok, err := manager.KVGet(markerKey, &existing)
	if err != nil {
		return false, err
	}
	if ok {
		if existing.Digest != digest {
			return false, ErrGenesisMismatch
		}
		return false, nil
	}

	tx := manager.Begin()
	defer tx.Discard()
	for _, alloc := range spec.allocations {
		if err := tx.Credit(alloc.Account, alloc.Amount); err != nil {
			return false, fmt.Errorf("alloc %s: %w", alloc.Account, err)
		}
	}
	if err := tx.KVPut(markerKey, &marker{Timestamp: uint64(spec.genesisTimestamp.Unix()), Digest: digest}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
