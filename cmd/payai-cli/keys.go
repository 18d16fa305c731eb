package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"payai/crypto"
)

// loadKey reads the signing key named by --key. Encrypted keystores are
// unlocked with the passphrase from PAYAI_KEY_PASS or the terminal.
func (c *cli) loadKey() (solana.PrivateKey, error) {
	path := strings.TrimSpace(c.keyPath)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if crypto.IsKeystoreFile(path) {
		pass, err := c.pass.Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadFromKeystore(path, pass)
	}
	return crypto.LoadKeyFile(path)
}

type keyInfo struct {
	PublicKey string `json:"publicKey"`
	Path      string `json:"path,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

func (c *cli) printKey(info keyInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.print(raw)
}

func (c *cli) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}

	var (
		out     string
		encrypt bool
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new signing key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if strings.TrimSpace(out) == "" {
				return fmt.Errorf("--out is required")
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if encrypt {
				pass, err := c.pass.Get()
				if err != nil {
					return err
				}
				if err := crypto.SaveToKeystore(out, key, pass); err != nil {
					return err
				}
			} else if err := crypto.SaveKeyFile(out, key); err != nil {
				return err
			}
			return c.printKey(keyInfo{PublicKey: key.PublicKey().String(), Path: out, Encrypted: encrypt})
		},
	}
	generate.Flags().StringVar(&out, "out", "", "path of the key file to write")
	generate.Flags().BoolVar(&encrypt, "encrypt", false, "seal the key in a passphrase protected keystore")

	var pubOut, privOut string
	convert := &cobra.Command{
		Use:   "convert <base58-secret-file>",
		Short: "Convert a base58 secret into public and private key arrays",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if pubOut == "" || privOut == "" {
				return fmt.Errorf("--pub and --priv are required")
			}
			pub, err := crypto.ConvertBase58Key(args[0], pubOut, privOut)
			if err != nil {
				return err
			}
			return c.printKey(keyInfo{PublicKey: pub.String(), Path: privOut})
		},
	}
	convert.Flags().StringVar(&pubOut, "pub", "", "output path of the 32 byte public key array")
	convert.Flags().StringVar(&privOut, "priv", "", "output path of the 64 byte secret key array")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the public key of --key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			key, err := c.loadKey()
			if err != nil {
				return err
			}
			return c.printKey(keyInfo{PublicKey: key.PublicKey().String(), Path: c.keyPath, Encrypted: crypto.IsKeystoreFile(c.keyPath)})
		},
	}

	cmd.AddCommand(generate, convert, show)
	return cmd
}
