package config

import (
	"fmt"

	"bakerd/internal/model"
)

// Validate checks the invariants bakerd needs before it dials a node,
// mirroring the teacher's own config.ValidateConfig shape (a flat list of
// early-return checks rather than a validation framework).
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if cfg.Node == "" {
		return fmt.Errorf("config: Node endpoint required")
	}
	if cfg.ChainID == "" {
		return fmt.Errorf("config: ChainID required")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if len(cfg.Delegates) == 0 {
		return fmt.Errorf("config: at least one delegate required")
	}
	for _, d := range cfg.Delegates {
		if d.Alias == "" {
			return fmt.Errorf("config: delegate missing Alias")
		}
		if d.KeystorePath == "" {
			return fmt.Errorf("config: delegate %s missing KeystorePath", d.Alias)
		}
	}
	if cfg.ConsensusThreshold <= 0 {
		return fmt.Errorf("config: ConsensusThreshold must be positive")
	}
	if cfg.ConsensusCommitteeSize <= 0 {
		return fmt.Errorf("config: ConsensusCommitteeSize must be positive")
	}
	if cfg.RoundDurationFirst <= 0 {
		return fmt.Errorf("config: RoundDurationFirst must be positive")
	}
	switch cfg.LiquidityBakingVote {
	case "", "on", "off", "pass":
	default:
		return fmt.Errorf("config: LiquidityBakingVote must be one of on/off/pass, got %q", cfg.LiquidityBakingVote)
	}
	switch cfg.NonceStrategy {
	case "", "deterministic", "random":
	default:
		return fmt.Errorf("config: NonceStrategy must be one of deterministic/random, got %q", cfg.NonceStrategy)
	}
	return nil
}

// LiquidityBakingVoteValue converts the configured string to the model enum,
// defaulting to Pass per spec.md §6.
func (c *Config) LiquidityBakingVoteValue() model.LiquidityBakingVote {
	switch c.LiquidityBakingVote {
	case "on":
		return model.LBVoteOn
	case "off":
		return model.LBVoteOff
	default:
		return model.LBVotePass
	}
}

// NonceStrategyValue converts the configured string to the model enum,
// defaulting to Deterministic per spec.md §6.
func (c *Config) NonceStrategyValue() model.NonceStrategy {
	if c.NonceStrategy == "random" {
		return model.NonceRandom
	}
	return model.NonceDeterministic
}
