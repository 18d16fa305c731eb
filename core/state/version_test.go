package state

import (
	"errors"
	"testing"

	"payai/storage"
)

func TestEnsureStateVersionStampsAndChecks(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if _, ok, err := m.StateVersion(); err != nil || ok {
		t.Fatalf("fresh database reports a version: ok=%v err=%v", ok, err)
	}
	if err := EnsureStateVersion(m, false); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	version, ok, err := m.StateVersion()
	if err != nil || !ok || version != StateVersion {
		t.Fatalf("unexpected stored version %d ok=%v err=%v", version, ok, err)
	}

	if err := m.SetStateVersion(StateVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := EnsureStateVersion(m, false); !errors.Is(err, ErrStateVersionMismatch) {
		t.Fatalf("expected ErrStateVersionMismatch, got %v", err)
	}
	if err := EnsureStateVersion(m, true); err != nil {
		t.Fatalf("allowMigrate should tolerate mismatch: %v", err)
	}
}
