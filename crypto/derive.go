package crypto

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
)

// Seed limits enforced by the program-address scheme. One slot is reserved
// for the bump.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

// ErrAddressMismatch is returned when a supplied address does not equal the
// address re-derived from its key material.
var ErrAddressMismatch = errors.New("crypto: derived address mismatch")

// Derive returns the program-derived address for tag and keys along with the
// canonical bump. The returned address lies off the ed25519 curve, so no
// private key exists for it.
func Derive(programID solana.PublicKey, tag []byte, keys ...[]byte) (solana.PublicKey, uint8, error) {
	seeds, err := buildSeeds(tag, keys)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	return solana.FindProgramAddress(seeds, programID)
}

// VerifyDerived recomputes the address from tag, keys and bump and compares
// it bit-for-bit with addr.
func VerifyDerived(programID, addr solana.PublicKey, bump uint8, tag []byte, keys ...[]byte) error {
	seeds, err := buildSeeds(tag, keys)
	if err != nil {
		return err
	}
	seeds = append(seeds, []byte{bump})
	derived, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAddressMismatch, err)
	}
	if derived != addr {
		return ErrAddressMismatch
	}
	return nil
}

// IsDerived reports whether addr lies off the ed25519 curve, i.e. nobody can
// hold a signing key for it.
func IsDerived(addr solana.PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(addr[:])
	return err != nil
}

func buildSeeds(tag []byte, keys [][]byte) ([][]byte, error) {
	if len(tag) == 0 {
		return nil, errors.New("crypto: empty derivation tag")
	}
	if len(keys)+2 > MaxSeeds {
		return nil, fmt.Errorf("crypto: too many seeds (%d)", len(keys)+1)
	}
	seeds := make([][]byte, 0, len(keys)+2)
	for _, seed := range append([][]byte{tag}, keys...) {
		if len(seed) > MaxSeedLength {
			return nil, fmt.Errorf("crypto: seed exceeds %d bytes", MaxSeedLength)
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}
