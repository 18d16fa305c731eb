package escrow

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"payai/crypto"
)

// DefaultProgramID is the program identity mixed into every derived address
// unless the node is configured otherwise.
const DefaultProgramID = "5FhmaXvWm1FZ3bpsE5rxkey5pNWDLkvaGAzoGkTUZfZ3"

// Derivation tags.
var (
	SeedGlobalState      = []byte("global_state")
	SeedBuyerCounter     = []byte("buyer_contract_counter")
	SeedContract         = []byte("contract")
	SeedEscrowVault      = []byte("escrow_vault")
	SeedPlatformFeeVault = []byte("platform_fee_vault")
)

// VaultAuthority is the only way the engine can move value out of a
// program-derived vault. Implementations must re-derive the vault from the
// supplied seeds and bump and refuse the transfer on any mismatch.
type VaultAuthority interface {
	Derive(tag []byte, keys ...[]byte) (solana.PublicKey, uint8, error)
	AuthorizeTransfer(vault solana.PublicKey, bump uint8, seeds [][]byte, to solana.PublicKey, amount uint64) error
}

type derivedLedger interface {
	DebitDerived(from, to solana.PublicKey, amount uint64) error
}

// ProgramVaults implements VaultAuthority on top of a ledger that exposes a
// privileged debit for derived addresses.
type ProgramVaults struct {
	programID solana.PublicKey
	ledger    derivedLedger
}

// NewProgramVaults binds the vault authority of programID to ledger.
func NewProgramVaults(programID solana.PublicKey, ledger derivedLedger) *ProgramVaults {
	return &ProgramVaults{programID: programID, ledger: ledger}
}

// ProgramID returns the program identity used for derivations.
func (v *ProgramVaults) ProgramID() solana.PublicKey { return v.programID }

// Derive returns the canonical derived address and bump for tag and keys.
func (v *ProgramVaults) Derive(tag []byte, keys ...[]byte) (solana.PublicKey, uint8, error) {
	return crypto.Derive(v.programID, tag, keys...)
}

// AuthorizeTransfer moves amount from vault to the recipient after proving
// that vault is derived from seeds and bump under this program.
func (v *ProgramVaults) AuthorizeTransfer(vault solana.PublicKey, bump uint8, seeds [][]byte, to solana.PublicKey, amount uint64) error {
	if v == nil || v.ledger == nil {
		return errNilVault
	}
	if len(seeds) == 0 {
		return fmt.Errorf("%w: no seeds supplied for %s", ErrAddressMismatch, vault)
	}
	if err := crypto.VerifyDerived(v.programID, vault, bump, seeds[0], seeds[1:]...); err != nil {
		return fmt.Errorf("%w: vault %s: %v", ErrAddressMismatch, vault, err)
	}
	if amount == 0 {
		return nil
	}
	return v.ledger.DebitDerived(vault, to, amount)
}

// CounterSeed encodes a buyer counter as the little-endian key material used
// for agreement derivation.
func CounterSeed(counter uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, counter)
	return buf
}

// Accounts lists every derived address involved in one buyer's next agreement.
type Accounts struct {
	GlobalState      solana.PublicKey `json:"globalState" yaml:"globalState"`
	PlatformFeeVault solana.PublicKey `json:"platformFeeVault" yaml:"platformFeeVault"`
	BuyerCounter     solana.PublicKey `json:"buyerCounter" yaml:"buyerCounter"`
	Agreement        solana.PublicKey `json:"agreement" yaml:"agreement"`
	EscrowVault      solana.PublicKey `json:"escrowVault" yaml:"escrowVault"`
}

// DeriveAccounts derives the program accounts for buyer's agreement number
// counter.
func DeriveAccounts(v VaultAuthority, buyer solana.PublicKey, counter uint64) (Accounts, error) {
	if v == nil {
		return Accounts{}, errNilVault
	}
	var (
		out Accounts
		err error
	)
	if out.GlobalState, _, err = v.Derive(SeedGlobalState); err != nil {
		return Accounts{}, err
	}
	if out.PlatformFeeVault, _, err = v.Derive(SeedPlatformFeeVault); err != nil {
		return Accounts{}, err
	}
	if buyer == (solana.PublicKey{}) {
		return out, nil
	}
	if out.BuyerCounter, _, err = v.Derive(SeedBuyerCounter, buyer[:]); err != nil {
		return Accounts{}, err
	}
	if out.Agreement, _, err = v.Derive(SeedContract, buyer[:], CounterSeed(counter)); err != nil {
		return Accounts{}, err
	}
	if out.EscrowVault, _, err = v.Derive(SeedEscrowVault, out.Agreement[:]); err != nil {
		return Accounts{}, err
	}
	return out, nil
}

// expect derives tag/keys and fails with ErrAddressMismatch unless the result
// equals got. The bump is returned for later vault authorization.
func expect(v VaultAuthority, got solana.PublicKey, name string, tag []byte, keys ...[]byte) (uint8, error) {
	want, bump, err := v.Derive(tag, keys...)
	if err != nil {
		return 0, fmt.Errorf("%w: derive %s: %v", ErrAddressMismatch, name, err)
	}
	if want != got {
		return 0, fmt.Errorf("%w: %s is %s, expected %s", ErrAddressMismatch, name, got, want)
	}
	return bump, nil
}
