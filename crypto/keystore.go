package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/gagliardetto/solana-go"
)

const keystoreVersion = 3

// Scrypt parameters used when sealing keystores. Tests lower them.
var (
	keystoreScryptN = keystore.StandardScryptN
	keystoreScryptP = keystore.StandardScryptP
)

type encryptedKeyJSON struct {
	Address string              `json:"address"`
	Crypto  keystore.CryptoJSON `json:"crypto"`
	Version int                 `json:"version"`
}

// SaveToKeystore seals the signing key in an Ethereum v3 style keystore file at
// the given path. If the parent directory does not exist it will be created
// with 0700 permissions.
func SaveToKeystore(path string, key solana.PrivateKey, passphrase string) error {
	if len(key) == 0 {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if _, err := checkPrivateKey(key); err != nil {
		return err
	}
	sealed, err := keystore.EncryptDataV3(key, []byte(passphrase), keystoreScryptN, keystoreScryptP)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(encryptedKeyJSON{
		Address: key.PublicKey().String(),
		Crypto:  sealed,
		Version: keystoreVersion,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromKeystore decrypts a keystore file written by SaveToKeystore.
func LoadFromKeystore(path, passphrase string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var envelope encryptedKeyJSON
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if envelope.Version != keystoreVersion {
		return nil, fmt.Errorf("crypto: unsupported keystore version %d", envelope.Version)
	}
	plain, err := keystore.DecryptDataV3(envelope.Crypto, passphrase)
	if err != nil {
		return nil, err
	}
	key, err := checkPrivateKey(solana.PrivateKey(plain))
	if err != nil {
		return nil, err
	}
	if key.PublicKey().String() != envelope.Address {
		return nil, fmt.Errorf("crypto: keystore address %s does not match key", envelope.Address)
	}
	return key, nil
}

// IsKeystoreFile reports whether path holds an encrypted keystore rather than
// a plain key file.
func IsKeystoreFile(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe struct {
		Crypto *json.RawMessage `json:"crypto"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Crypto != nil
}
