package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payai/cmd/internal/passphrase"
)

const (
	rpcURLEnv     = "PAYAI_RPC_URL"
	rpcTokenEnv   = "PAYAI_RPC_TOKEN"
	keyPassEnv    = "PAYAI_KEY_PASS"
	defaultRPCURL = "http://127.0.0.1:8899"
	defaultTTL    = time.Minute
	outputJSON    = "json"
	outputYAML    = "yaml"
)

// cli carries the global flags shared by every subcommand.
type cli struct {
	endpoint string
	token    string
	output   string
	keyPath  string
	ttl      time.Duration

	stdout io.Writer
	stderr io.Writer
	pass   *passphrase.Source
	now    func() time.Time
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{
		stdout: stdout,
		stderr: stderr,
		pass:   passphrase.NewSource(keyPassEnv, "Enter key passphrase: "),
		now:    time.Now,
	}
	root := &cobra.Command{
		Use:           "payai-cli",
		Short:         "Client for the payai escrow ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			c.output = strings.ToLower(strings.TrimSpace(c.output))
			if c.output != outputJSON && c.output != outputYAML {
				return fmt.Errorf("--output must be %s or %s", outputJSON, outputYAML)
			}
			if c.ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.endpoint, "rpc", envOr(rpcURLEnv, defaultRPCURL), "JSON-RPC endpoint of the node")
	flags.StringVar(&c.token, "token", os.Getenv(rpcTokenEnv), "bearer token sent with instruction submissions")
	flags.StringVarP(&c.output, "output", "o", outputJSON, "output format (json or yaml)")
	flags.StringVarP(&c.keyPath, "key", "k", "", "signing key file or encrypted keystore")
	flags.DurationVar(&c.ttl, "ttl", defaultTTL, "validity window of signed instructions")

	root.AddCommand(
		c.keysCmd(),
		c.initGlobalStateCmd(),
		c.updateAdminCmd(),
		c.updateFeeCmd(),
		c.initCounterCmd(),
		c.startCmd(),
		c.releaseCmd(),
		c.refundCmd(),
		c.readCmd(),
		c.collectFeesCmd(),
		c.transferCmd(),
		c.getCmd(),
		c.globalStateCmd(),
		c.counterCmd(),
		c.balanceCmd(),
		c.quoteCmd(),
		c.deriveCmd(),
		c.watchCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
