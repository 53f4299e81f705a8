// Package config loads bakerd's TOML configuration, following the
// teacher's own config.Load/createDefault pattern: decode if present,
// write a usable default file otherwise.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Delegate names a single baking key by its keystore file, independent from
// any in-memory crypto.PrivateKey material.
type Delegate struct {
	Alias          string `toml:"Alias"`
	KeystorePath   string `toml:"KeystorePath"`
	PassphraseEnv  string `toml:"PassphraseEnv"`
}

// ProtocolUpgrade is one entry of the UserActivatedUpgrades schedule
// (spec.md §6).
type ProtocolUpgrade struct {
	ActivationLevel int32  `toml:"ActivationLevel"`
	ReplacementHash string `toml:"ReplacementHash"`
}

// Config is bakerd's full configuration surface: spec.md §6's baking knobs
// plus the operational settings needed to run the binary (node endpoint,
// data directory, delegate keystores, committee/timing constants).
type Config struct {
	// Node is the base URL of the node's JSON/HTTP RPC endpoint.
	Node string `toml:"Node"`
	// ChainID identifies the chain this baker signs for; it is mixed into
	// every signing digest (internal/signer) to prevent cross-chain replay.
	ChainID string `toml:"ChainID"`
	// DataDir holds the watermark, level-state, and nonce stores.
	DataDir string `toml:"DataDir"`

	Delegates []Delegate `toml:"Delegates"`

	// MetricsListenAddress, when non-empty, serves /metrics for Prometheus
	// scraping.
	MetricsListenAddress string `toml:"MetricsListenAddress"`

	ConsensusThreshold     int64 `toml:"ConsensusThreshold"`
	ConsensusCommitteeSize int32 `toml:"ConsensusCommitteeSize"`

	RoundDurationFirst     time.Duration `toml:"RoundDurationFirst"`
	RoundDurationIncrement time.Duration `toml:"RoundDurationIncrement"`

	// DelayIncrementCap bounds how far into the future the scheduler will
	// arm a single wakeup timer (internal/scheduler).
	DelayIncrementCap time.Duration `toml:"DelayIncrementCap"`

	// The remaining fields mirror spec.md §6's baking options verbatim.
	MinimalFees              int64             `toml:"MinimalFees"`
	MinimalNanotezPerGasUnit int64             `toml:"MinimalNanotezPerGasUnit"`
	MinimalNanotezPerByte    int64             `toml:"MinimalNanotezPerByte"`
	Force                    bool              `toml:"Force"`
	ExtraOperationsSource    string            `toml:"ExtraOperationsSource"`
	ContextPath              string            `toml:"ContextPath"`
	UserActivatedUpgrades    []ProtocolUpgrade `toml:"UserActivatedUpgrades"`
	LiquidityBakingVote      string            `toml:"LiquidityBakingVote"` // "on" | "off" | "pass"
	PerBlockVoteFile         string            `toml:"PerBlockVoteFile"`
	NonceStrategy            string            `toml:"NonceStrategy"` // "deterministic" | "random"
}

// Load decodes path as TOML, or writes and returns a usable default
// configuration if path does not yet exist, matching the teacher's
// config.Load behavior.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Node:                   "http://127.0.0.1:8732",
		ChainID:                "main",
		DataDir:                "./bakerd-data",
		MetricsListenAddress:   ":9091",
		ConsensusThreshold:     2,
		ConsensusCommitteeSize: 3,
		RoundDurationFirst:     15 * time.Second,
		RoundDurationIncrement: 5 * time.Second,
		DelayIncrementCap:      2 * time.Minute,
		LiquidityBakingVote:    "pass",
		NonceStrategy:          "deterministic",
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create default %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}
