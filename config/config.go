package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"payai/crypto"
	"payai/storage"
)

const (
	defaultRPCAddress     = "127.0.0.1:8899"
	defaultDataDir        = "./payai-data"
	defaultProgramID      = "5FhmaXvWm1FZ3bpsE5rxkey5pNWDLkvaGAzoGkTUZfZ3"
	defaultFeePct         = 1
	defaultInstructionTTL = 300
	defaultRequestsPerMin = 600
	defaultBurst          = 60
	defaultLogMaxSizeMB   = 100
	defaultLogMaxBackups  = 5
	adminKeyFileName      = "admin.json"
)

type Config struct {
	DataDir        string `toml:"DataDir"`
	DBBackend      string `toml:"DBBackend"`
	RPCAddress     string `toml:"RPCAddress"`
	ProgramID      string `toml:"ProgramID"`
	BootstrapAdmin string `toml:"BootstrapAdmin"`
	DefaultFeePct  uint64 `toml:"DefaultFeePct"`
	GenesisFile    string `toml:"GenesisFile"`
	// InstructionTTL is the longest validity window, in seconds, a signed
	// instruction may request.
	InstructionTTL uint64 `toml:"InstructionTTL"`

	Logging   Logging   `toml:"Logging"`
	RPC       RPC       `toml:"RPC"`
	Telemetry Telemetry `toml:"Telemetry"`
	Pauses    Pauses    `toml:"Pauses"`
	Quotas    Quotas    `toml:"Quotas"`
}

// InstructionTTLDuration returns InstructionTTL as a time.Duration.
func (c *Config) InstructionTTLDuration() time.Duration {
	return time.Duration(c.InstructionTTL) * time.Second
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration together with a freshly generated
// bootstrap admin key stored next to it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg, meta)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, meta toml.MetaData) {
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = storage.BackendLevelDB
	}
	cfg.DBBackend = strings.ToLower(strings.TrimSpace(cfg.DBBackend))
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.ProgramID) == "" {
		cfg.ProgramID = defaultProgramID
	}
	// Zero is a legitimate fee, so only an absent key takes the default.
	if !meta.IsDefined("DefaultFeePct") {
		cfg.DefaultFeePct = defaultFeePct
	}
	if cfg.InstructionTTL == 0 {
		cfg.InstructionTTL = defaultInstructionTTL
	}
	if strings.TrimSpace(cfg.Logging.Env) == "" {
		cfg.Logging.Env = "dev"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = defaultLogMaxSizeMB
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = defaultLogMaxBackups
		}
	}
	if cfg.RPC.RequestsPerMinute == 0 {
		cfg.RPC.RequestsPerMinute = defaultRequestsPerMin
	}
	if cfg.RPC.Burst == 0 {
		cfg.RPC.Burst = defaultBurst
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyFile(AdminKeyPath(path), key); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:        defaultDataDir,
		DBBackend:      storage.BackendLevelDB,
		RPCAddress:     defaultRPCAddress,
		ProgramID:      defaultProgramID,
		BootstrapAdmin: key.PublicKey().String(),
		DefaultFeePct:  defaultFeePct,
		InstructionTTL: defaultInstructionTTL,
		Logging:        Logging{Env: "dev"},
		RPC: RPC{
			RequestsPerMinute: defaultRequestsPerMin,
			Burst:             defaultBurst,
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// AdminKeyPath returns where createDefault stores the bootstrap admin key for
// the config file at configPath.
func AdminKeyPath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, adminKeyFileName)
}
