// Command bakerd drives one or more validator delegates through the
// Tenderbake per-level, per-round baking life cycle against a single node
// (spec.md §1). It wires internal/scheduler's event loop to a concrete
// noderpc.HTTPClient, a set of locally held signing keys, and the
// crash-safe watermark/level-state/nonce stores, following the teacher's
// cmd/consensusd/main.go shape: flag parsing, structured logging and
// OpenTelemetry setup, config load/validate, a signal-driven shutdown
// context, then handing off to the long-running service loop.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bakerd/cmd/internal/passphrase"
	"bakerd/config"
	"bakerd/crypto"
	"bakerd/internal/aggregator"
	"bakerd/internal/executor"
	"bakerd/internal/extraops"
	"bakerd/internal/levelstate"
	"bakerd/internal/model"
	"bakerd/internal/noderpc"
	"bakerd/internal/noncefile"
	"bakerd/internal/roundtime"
	"bakerd/internal/scheduler"
	"bakerd/internal/signer"
	"bakerd/internal/watermark"
	"bakerd/observability/logging"
	telemetry "bakerd/observability/otel"
)

// preservedLevels bounds how far behind the aggregator's highest observed
// level an accumulator is kept before it is reaped (spec.md §4.5).
const preservedLevels = 60

// maxReconnectsPerMinute throttles the node HTTP client's stream redials
// (internal/noderpc.NewHTTPClient).
const maxReconnectsPerMinute = 12

func main() {
	configFile := flag.String("config", "./bakerd.toml", "Path to the bakerd TOML configuration file")
	logFile := flag.String("log-file", "", "Path to a rotating log file; empty logs to stdout")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BAKERD_ENV"))
	logger := logging.Setup("bakerd", env, logging.FileConfig{Path: *logFile})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bakerd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		logger.Error("telemetry_init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	localSigner := signer.NewLocal()
	ownDelegates, err := loadDelegates(cfg, localSigner)
	if err != nil {
		logger.Error("delegate_load_failed", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Error("data_dir_create_failed", "error", err)
		os.Exit(1)
	}

	wmStore, err := watermark.Open(cfg.DataDir+"/watermarks_"+cfg.ChainID+".json", cfg.ChainID, cfg.Force)
	if err != nil {
		logger.Error("watermark_open_failed", "error", err)
		os.Exit(1)
	}
	lvlStore, err := levelstate.Open(cfg.DataDir + "/level_" + cfg.ChainID + ".rlp")
	if err != nil {
		logger.Error("levelstate_open_failed", "error", err)
		os.Exit(1)
	}
	nonceStore, err := noncefile.Open(cfg.DataDir + "/nonces_" + cfg.ChainID + ".bolt")
	if err != nil {
		logger.Error("noncefile_open_failed", "error", err)
		os.Exit(1)
	}
	defer nonceStore.Close()

	var extraOpsSource *extraops.Source
	if cfg.ExtraOperationsSource != "" {
		extraOpsSource = extraops.New(cfg.ExtraOperationsSource)
	}

	agg := aggregator.New(preservedLevels)
	rtc := roundtime.NewCache()
	node := noderpc.NewHTTPClient(cfg.Node, &http.Client{Timeout: 0}, maxReconnectsPerMinute)

	exec := &executor.Executor{
		Node:             node,
		Signer:           localSigner,
		Watermark:        wmStore,
		LevelState:       lvlStore,
		Nonces:           nonceStore,
		ExtraOps:         extraOpsSource,
		Aggregator:       agg,
		RoundTime:        rtc,
		Logger:           logger,
		ChainID:          cfg.ChainID,
		PerBlockVoteFile: cfg.PerBlockVoteFile,
	}

	sched := &scheduler.Scheduler{
		Node:              node,
		Executor:          exec,
		Aggregator:        agg,
		RoundTime:         rtc,
		Logger:            logger,
		DelayIncrementCap: cfg.DelayIncrementCap,
	}

	if cfg.MetricsListenAddress != "" {
		go serveMetrics(cfg.MetricsListenAddress, logger)
	}

	initial := model.State{
		Global: model.GlobalState{
			ChainID:      cfg.ChainID,
			OwnDelegates: ownDelegates,
			Durations: model.RoundDurations{
				First:     cfg.RoundDurationFirst,
				Increment: cfg.RoundDurationIncrement,
			},
			ConsensusThreshold:     cfg.ConsensusThreshold,
			ConsensusCommitteeSize: cfg.ConsensusCommitteeSize,
			Config: model.ProtocolConfig{
				MinimalFees:               cfg.MinimalFees,
				MinimalNanotezPerGasUnit:  cfg.MinimalNanotezPerGasUnit,
				MinimalNanotezPerByte:     cfg.MinimalNanotezPerByte,
				Force:                     cfg.Force,
				ExtraOperationsSource:     cfg.ExtraOperationsSource,
				ContextPath:               cfg.ContextPath,
				UserActivatedUpgrades:     convertUpgrades(cfg.UserActivatedUpgrades),
				LiquidityBakingEscapeVote: cfg.LiquidityBakingVoteValue(),
				PerBlockVoteFile:          cfg.PerBlockVoteFile,
				NonceStrategy:             cfg.NonceStrategyValue(),
			},
		},
		Level: model.LevelState{CurrentLevel: 0},
		Round: model.RoundState{CurrentRound: 0},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bakerd_starting", "node", cfg.Node, "chain_id", cfg.ChainID, "delegates", len(ownDelegates))
	if err := sched.Run(ctx, initial); err != nil {
		logger.Error("bakerd_stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("bakerd_stopped")
}

// loadDelegates decrypts every configured delegate's keystore and registers
// it with localSigner, returning the model.Delegate handles the automaton
// needs (spec.md §3).
func loadDelegates(cfg *config.Config, localSigner *signer.Local) ([]model.Delegate, error) {
	delegates := make([]model.Delegate, 0, len(cfg.Delegates))
	for _, d := range cfg.Delegates {
		src := passphrase.NewSource(d.Alias, d.PassphraseEnv)
		pass, err := src.Get()
		if err != nil {
			return nil, fmt.Errorf("delegate %s: %w", d.Alias, err)
		}
		priv, err := crypto.LoadFromKeystore(d.Alias, d.KeystorePath, pass)
		if err != nil {
			return nil, fmt.Errorf("load keystore %s: %w", d.KeystorePath, err)
		}
		keyHash := model.KeyHash(priv.PubKey().KeyHash())
		localSigner.AddKey(keyHash, priv)
		delegates = append(delegates, model.Delegate{
			Alias:     d.Alias,
			PublicKey: priv.PubKey().Bytes(),
			KeyHash:   keyHash,
			Handle:    d.KeystorePath,
		})
		slog.Info("delegate_loaded", "alias", d.Alias, "address", priv.PubKey().Address().String())
	}
	return delegates, nil
}

func convertUpgrades(upgrades []config.ProtocolUpgrade) []model.ProtocolUpgrade {
	out := make([]model.ProtocolUpgrade, 0, len(upgrades))
	for _, u := range upgrades {
		var hash model.Hash
		if decoded, err := hex.DecodeString(strings.TrimPrefix(u.ReplacementHash, "0x")); err == nil {
			copy(hash[:], decoded)
		}
		out = append(out, model.ProtocolUpgrade{ActivationLevel: u.ActivationLevel, Replacement: hash})
	}
	return out
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics_listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics_server_failed", "error", err)
	}
}
