package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/gagliardetto/solana-go"

	"payai/storage"
)

// MaxFeePct bounds DefaultFeePct.
const MaxFeePct = 100

// ValidateConfig checks the ranges and encodings of cfg.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(cfg.DataDir) == "" && cfg.DBBackend != storage.BackendMemory {
		return fmt.Errorf("config: DataDir is required for backend %q", cfg.DBBackend)
	}
	switch cfg.DBBackend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: unknown DBBackend %q", cfg.DBBackend)
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if cfg.DefaultFeePct > MaxFeePct {
		return fmt.Errorf("config: DefaultFeePct %d exceeds %d", cfg.DefaultFeePct, MaxFeePct)
	}
	if _, err := solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
		return fmt.Errorf("config: invalid ProgramID: %w", err)
	}
	if cfg.BootstrapAdmin != "" {
		if _, err := solana.PublicKeyFromBase58(cfg.BootstrapAdmin); err != nil {
			return fmt.Errorf("config: invalid BootstrapAdmin: %w", err)
		}
	}
	if cfg.InstructionTTL == 0 {
		return fmt.Errorf("config: InstructionTTL must be positive")
	}
	if cfg.RPC.RequestsPerMinute < 0 || cfg.RPC.Burst < 0 {
		return fmt.Errorf("config: RPC rate limits must not be negative")
	}
	if cfg.RPC.AuthSecret != "" && len(cfg.RPC.AuthSecret) < 32 {
		return fmt.Errorf("config: RPC.AuthSecret must be at least 32 bytes")
	}
	for _, proxy := range cfg.RPC.TrustedProxies {
		if net.ParseIP(strings.TrimSpace(proxy)) == nil {
			return fmt.Errorf("config: RPC.TrustedProxies entry %q is not an IP address", proxy)
		}
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 {
		return fmt.Errorf("config: logging rotation limits must not be negative")
	}
	return nil
}
