package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"payai/crypto"
	"payai/storage"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, storage.BackendLevelDB, cfg.DBBackend)
	require.Equal(t, defaultProgramID, cfg.ProgramID)
	require.Equal(t, uint64(defaultFeePct), cfg.DefaultFeePct)
	require.NotEmpty(t, cfg.BootstrapAdmin)

	key, err := crypto.LoadKeyFile(AdminKeyPath(path))
	require.NoError(t, err)
	require.Equal(t, cfg.BootstrapAdmin, key.PublicKey().String())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesSettings(t *testing.T) {
	path := writeConfig(t, `DataDir = "/var/lib/payai"
DBBackend = "Bolt"
RPCAddress = "0.0.0.0:9000"
ProgramID = "5FhmaXvWm1FZ3bpsE5rxkey5pNWDLkvaGAzoGkTUZfZ3"
BootstrapAdmin = "Vote111111111111111111111111111111111111111"
DefaultFeePct = 0
GenesisFile = "genesis.json"
InstructionTTL = 60

[Logging]
Env = "prod"
File = "/var/log/payai.log"

[RPC]
AuthSecret = "0123456789abcdef0123456789abcdef"
Issuer = "payai"
Audience = "clients"
RequestsPerMinute = 120
Burst = 10
TrustedProxies = ["10.0.0.1"]

[Telemetry]
Endpoint = "collector:4318"
Insecure = true
Traces = true

[Pauses]
Escrow = true

[Quotas]
MaxInstructionsPerEpoch = 30
MaxLamportsPerEpoch = 1000000
EpochSeconds = 3600
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, storage.BackendBolt, cfg.DBBackend)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Zero(t, cfg.DefaultFeePct, "explicit zero fee must survive defaults")
	require.Equal(t, uint64(60), cfg.InstructionTTL)
	require.Equal(t, "prod", cfg.Logging.Env)
	require.Equal(t, defaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	require.Equal(t, defaultLogMaxBackups, cfg.Logging.MaxBackups)
	require.Equal(t, "payai", cfg.RPC.Issuer)
	require.Equal(t, float64(120), cfg.RPC.RequestsPerMinute)
	require.Equal(t, 10, cfg.RPC.Burst)
	require.Equal(t, []string{"10.0.0.1"}, cfg.RPC.TrustedProxies)
	require.True(t, cfg.Telemetry.Insecure)
	require.True(t, cfg.Telemetry.Traces)
	require.False(t, cfg.Telemetry.Metrics)
	require.True(t, cfg.Pauses.IsPaused("escrow"))
	require.False(t, cfg.Pauses.IsPaused("lending"))
	quota := cfg.Quotas.Quota()
	require.True(t, quota.Enabled())
	require.Equal(t, uint32(30), quota.MaxRequestsPerEpoch)
	require.Equal(t, uint64(1000000), quota.MaxLamportsPerEpoch)
	require.Equal(t, uint32(3600), quota.EpochSeconds)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, storage.BackendLevelDB, cfg.DBBackend)
	require.Equal(t, defaultRPCAddress, cfg.RPCAddress)
	require.Equal(t, uint64(defaultFeePct), cfg.DefaultFeePct)
	require.Equal(t, uint64(defaultInstructionTTL), cfg.InstructionTTL)
	require.Equal(t, "dev", cfg.Logging.Env)
	require.Zero(t, cfg.Logging.MaxSizeMB, "rotation limits only apply with a log file")
	require.Empty(t, cfg.BootstrapAdmin)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
ValidatorKeystorePath = "validator.keystore"

[Pauses]
Swap = true
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ValidatorKeystorePath")
	require.Contains(t, err.Error(), "Pauses.Swap")
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:        "./data",
			DBBackend:      storage.BackendLevelDB,
			RPCAddress:     defaultRPCAddress,
			ProgramID:      defaultProgramID,
			DefaultFeePct:  1,
			InstructionTTL: 30,
		}
	}
	require.NoError(t, ValidateConfig(valid()))

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fee above 100", func(c *Config) { c.DefaultFeePct = 101 }},
		{"unknown backend", func(c *Config) { c.DBBackend = "rocksdb" }},
		{"bad program id", func(c *Config) { c.ProgramID = "not-base58!" }},
		{"bad admin", func(c *Config) { c.BootstrapAdmin = "0OIl" }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"zero ttl", func(c *Config) { c.InstructionTTL = 0 }},
		{"short auth secret", func(c *Config) { c.RPC.AuthSecret = "short" }},
		{"negative burst", func(c *Config) { c.RPC.Burst = -1 }},
		{"bad trusted proxy", func(c *Config) { c.RPC.TrustedProxies = []string{"proxy.internal"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			require.Error(t, ValidateConfig(cfg))
		})
	}

	memory := valid()
	memory.DBBackend = storage.BackendMemory
	memory.DataDir = ""
	require.NoError(t, ValidateConfig(memory))
	require.Error(t, ValidateConfig(nil))
}
