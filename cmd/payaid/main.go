package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"payai/config"
	"payai/core"
	"payai/core/events"
	"payai/core/genesis"
	"payai/observability/logging"
	telemetry "payai/observability/otel"
	"payai/rpc"
	"payai/storage"
)

const (
	envVar         = "PAYAI_ENV"
	genesisPathEnv = "PAYAI_GENESIS"
	telemetryFlush = 5 * time.Second
	serviceName    = "payaid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payaid: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides PAYAI_GENESIS and config GenesisFile)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Logging.Env
	}
	logger := logging.Setup(serviceName, env, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Level:      logging.ParseLevel(env),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromNodeConfig(serviceName, env, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlush)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.DBBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	nodeCfg, err := nodeConfig(cfg, logger)
	if err != nil {
		db.Close()
		return err
	}
	nodeCfg.AllowMigrate = *allowMigrateFlag
	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()
	node.Subscribe(&logEmitter{logger: logger})

	if path := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv); path != "" {
		spec, err := genesis.LoadGenesisSpec(path)
		if err != nil {
			return fmt.Errorf("load genesis: %w", err)
		}
		applied, err := node.ApplyGenesis(spec)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis processed",
			logging.MaskField("genesisPath", path),
			slog.Bool("applied", applied),
			slog.Int("allocations", len(spec.Allocations())))
	}

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Secret:   cfg.RPC.AuthSecret,
			Issuer:   cfg.RPC.Issuer,
			Audience: cfg.RPC.Audience,
		},
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		TrustedProxies:    cfg.RPC.TrustedProxies,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}

	logger.Info("payaid starting",
		slog.String("programId", node.ProgramID().String()),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("backend", cfg.DBBackend))
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("payaid stopped")
	return nil
}

func nodeConfig(cfg *config.Config, logger *slog.Logger) (core.NodeConfig, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return core.NodeConfig{}, fmt.Errorf("program id: %w", err)
	}
	out := core.NodeConfig{
		ProgramID:      programID,
		DefaultFeePct:  cfg.DefaultFeePct,
		InstructionTTL: cfg.InstructionTTLDuration(),
		Pauses:         cfg.Pauses,
		Quota:          cfg.Quotas.Quota(),
		Logger:         logger,
	}
	admin := strings.TrimSpace(cfg.BootstrapAdmin)
	if admin == "" {
		return core.NodeConfig{}, fmt.Errorf("bootstrap admin: BootstrapAdmin must be set in the config file")
	}
	if out.BootstrapAdmin, err = solana.PublicKeyFromBase58(admin); err != nil {
		return core.NodeConfig{}, fmt.Errorf("bootstrap admin: %w", err)
	}
	return out, nil
}

// resolveGenesisPath picks the genesis file from the flag, the environment
// and the config, in that order.
func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(configValue)
}

// logEmitter writes committed events to the debug log.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	payload := events.Payload(evt)
	if payload == nil {
		l.logger.Debug("event", slog.String("type", evt.EventType()))
		return
	}
	attrs := make([]any, 0, len(payload.Attributes)+1)
	attrs = append(attrs, slog.String("type", payload.Type))
	for k, v := range payload.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Debug("event", attrs...)
}
