package config

import "payai/native/common"

// Logging controls the structured logger.
type Logging struct {
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// RPC configures the JSON-RPC listener. An empty AuthSecret disables bearer
// authentication.
type RPC struct {
	AuthSecret        string   `toml:"AuthSecret"`
	Issuer            string   `toml:"Issuer"`
	Audience          string   `toml:"Audience"`
	RequestsPerMinute float64  `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
	TrustedProxies    []string `toml:"TrustedProxies"`
}

// Telemetry configures OTLP export. Nothing is exported when Endpoint is
// empty.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Pauses holds the operator pause switches per native module.
type Pauses struct {
	Escrow bool `toml:"Escrow"`
}

// IsPaused reports whether module is paused. Unknown modules are never paused.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "escrow":
		return p.Escrow
	default:
		return false
	}
}

// Quotas limits each signer per quota epoch. Zero limits are unbounded and an
// unset EpochSeconds means one minute.
type Quotas struct {
	MaxInstructionsPerEpoch uint32 `toml:"MaxInstructionsPerEpoch"`
	MaxLamportsPerEpoch     uint64 `toml:"MaxLamportsPerEpoch"`
	EpochSeconds            uint32 `toml:"EpochSeconds"`
}

// Quota converts q to the form enforced by the node.
func (q Quotas) Quota() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: q.MaxInstructionsPerEpoch,
		MaxLamportsPerEpoch: q.MaxLamportsPerEpoch,
		EpochSeconds:        q.EpochSeconds,
	}
}
