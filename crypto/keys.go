package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Key sizes of the ed25519 identities used by the ledger.
const (
	PublicKeyLength  = ed25519.PublicKeySize
	PrivateKeyLength = ed25519.PrivateKeySize
)

var (
	ErrZeroIdentity   = errors.New("crypto: zero identity")
	ErrInvalidKeyFile = errors.New("crypto: invalid key file")
)

// GenerateKey returns a fresh ed25519 signing key.
func GenerateKey() (solana.PrivateKey, error) {
	return solana.NewRandomPrivateKey()
}

// ParseIdentity decodes a base58 public key. The all-zero key is rejected
// because it would match uninitialised record fields.
func ParseIdentity(raw string) (solana.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return solana.PublicKey{}, fmt.Errorf("crypto: empty identity")
	}
	key, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("crypto: invalid identity %q: %w", trimmed, err)
	}
	if key == (solana.PublicKey{}) {
		return solana.PublicKey{}, ErrZeroIdentity
	}
	return key, nil
}

// LoadKeyFile reads a signing key stored either as a JSON array of 64 numbers
// (the solana-keygen layout) or as a base58 secret string.
func LoadKeyFile(path string) (solana.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidKeyFile, path)
	}
	if trimmed[0] == '[' {
		key, err := decodeKeyArray(trimmed, PrivateKeyLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKeyFile, path, err)
		}
		return checkPrivateKey(key)
	}
	key, err := solana.PrivateKeyFromBase58(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKeyFile, path, err)
	}
	return checkPrivateKey(key)
}

// SaveKeyFile writes the key as a JSON number array readable by LoadKeyFile.
// The parent directory is created with 0700 permissions.
func SaveKeyFile(path string, key solana.PrivateKey) error {
	if _, err := checkPrivateKey(key); err != nil {
		return err
	}
	return writeKeyArray(path, key)
}

// ConvertBase58Key reads a base58 secret from src and writes the public key
// (32 numbers) to pubOut and the full secret (64 numbers) to privOut.
func ConvertBase58Key(src, pubOut, privOut string) (solana.PublicKey, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return solana.PublicKey{}, err
	}
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(string(raw)))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	if _, err := checkPrivateKey(key); err != nil {
		return solana.PublicKey{}, err
	}
	pub := key.PublicKey()
	if err := writeKeyArray(pubOut, pub[:]); err != nil {
		return solana.PublicKey{}, err
	}
	if err := writeKeyArray(privOut, key); err != nil {
		return solana.PublicKey{}, err
	}
	return pub, nil
}

func checkPrivateKey(key solana.PrivateKey) (solana.PrivateKey, error) {
	if len(key) != PrivateKeyLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyFile, PrivateKeyLength, len(key))
	}
	// The second half of an ed25519 secret is the public key; reject files
	// where it does not match the seed.
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKeyFile)
	}
	return key, nil
}

func decodeKeyArray(raw []byte, want int) ([]byte, error) {
	var numbers []int
	if err := json.Unmarshal(raw, &numbers); err != nil {
		return nil, err
	}
	if len(numbers) != want {
		return nil, fmt.Errorf("expected %d numbers, got %d", want, len(numbers))
	}
	out := make([]byte, len(numbers))
	for i, n := range numbers {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("element %d out of byte range: %d", i, n)
		}
		out[i] = byte(n)
	}
	return out, nil
}

func writeKeyArray(path string, key []byte) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("crypto: empty key path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	numbers := make([]int, len(key))
	for i, b := range key {
		numbers[i] = int(b)
	}
	encoded, err := json.Marshal(numbers)
	if err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o600)
}
