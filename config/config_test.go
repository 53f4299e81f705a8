package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"bakerd/internal/model"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bakerd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node == "" || cfg.ChainID == "" || cfg.DataDir == "" {
		t.Fatalf("expected non-empty defaults, got %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Node != cfg.Node || reloaded.ConsensusThreshold != cfg.ConsensusThreshold {
		t.Fatalf("reloaded config does not match written default: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesDelegatesAndUpgrades(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bakerd.toml")
	contents := fmt.Sprintf(`Node = "http://127.0.0.1:8732"
ChainID = "testnet"
DataDir = "%s"
ConsensusThreshold = 2
ConsensusCommitteeSize = 3
RoundDurationFirst = "15s"
LiquidityBakingVote = "off"
NonceStrategy = "random"

[[Delegates]]
Alias = "baker-1"
KeystorePath = "%s/baker-1.keystore"
PassphraseEnv = "BAKER1_PASS"

[[UserActivatedUpgrades]]
ActivationLevel = 100
ReplacementHash = "0xabc"
`, dir, dir)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Delegates) != 1 || cfg.Delegates[0].Alias != "baker-1" {
		t.Fatalf("unexpected delegates: %+v", cfg.Delegates)
	}
	if len(cfg.UserActivatedUpgrades) != 1 || cfg.UserActivatedUpgrades[0].ActivationLevel != 100 {
		t.Fatalf("unexpected upgrades: %+v", cfg.UserActivatedUpgrades)
	}
	if cfg.LiquidityBakingVoteValue() != model.LBVoteOff {
		t.Fatalf("expected off vote, got %v", cfg.LiquidityBakingVoteValue())
	}
	if cfg.NonceStrategyValue() != model.NonceRandom {
		t.Fatalf("expected random nonce strategy, got %v", cfg.NonceStrategyValue())
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingDelegates(t *testing.T) {
	cfg := &Config{
		Node:                   "http://127.0.0.1:8732",
		ChainID:                "testnet",
		DataDir:                "./data",
		ConsensusThreshold:     1,
		ConsensusCommitteeSize: 1,
		RoundDurationFirst:     1,
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for missing delegates")
	}
}

func TestValidateRejectsBadLiquidityBakingVote(t *testing.T) {
	cfg := &Config{
		Node:                   "http://127.0.0.1:8732",
		ChainID:                "testnet",
		DataDir:                "./data",
		Delegates:              []Delegate{{Alias: "a", KeystorePath: "a.keystore"}},
		ConsensusThreshold:     1,
		ConsensusCommitteeSize: 1,
		RoundDurationFirst:     1,
		LiquidityBakingVote:    "maybe",
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid liquidity baking vote")
	}
}
