package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dposledger/config"
	"dposledger/core"
	"dposledger/core/events"
	"dposledger/core/genesis"
	"dposledger/core/handlers"
	"dposledger/core/state"
	"dposledger/crypto"
	"dposledger/mempool"
	"dposledger/observability"
	"dposledger/observability/logging"
	telemetry "dposledger/observability/otel"
	"dposledger/rpc"
	"dposledger/storage"
)

const (
	serviceName    = "ledgerd"
	envVar         = "LEDGER_ENV"
	genesisPathEnv = "LEDGER_GENESIS"
	eventBuffer    = 1024
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis wallet JSON file (overrides LEDGER_GENESIS and config GenesisFile)")
	flag.Parse()

	if err := run(*configFile, *genesisFlag); err != nil {
		slog.Error("ledgerd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string) error {
	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service: serviceName,
		Env:     env,
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("configuring telemetry",
		slog.String("endpoint", cfg.Telemetry.Endpoint),
		slog.Bool("traces", cfg.Telemetry.Traces),
		slog.Bool("metrics", cfg.Telemetry.Metrics),
		logging.MaskField("headers", cfg.Telemetry.Headers))
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromTelemetry(serviceName, env, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	milestones, err := loadMilestones(cfg.MilestonesFile)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	verifier := crypto.NewVerifier(crypto.AddressPrefix(cfg.AddressPrefix))
	wallets := state.NewWalletManager(db, verifier)
	if err := wallets.Load(); err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	chain, err := core.NewBlockchain(db)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}

	genesisPath := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err := bootstrapGenesis(genesisPath, chain, wallets, verifier, logger); err != nil {
		return err
	}

	metrics := observability.Ledger()
	recorder := events.NewRecorder(eventBuffer)
	registry := handlers.NewDefaultRegistry(handlers.Deps{
		Verifier:   verifier,
		Milestones: milestones,
		Emitter: events.Fanout{
			recorder,
			events.LogEmitter{Logger: logger.With("component", "events")},
			events.MetricsEmitter{Metrics: metrics},
		},
	})

	processor, err := core.NewBlockProcessor(core.ProcessorConfig{
		Registry:   registry,
		Wallets:    wallets,
		Chain:      chain,
		Verifier:   verifier,
		Milestones: milestones,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	guard, err := mempool.NewGuard(mempool.GuardConfig{
		Pool:       mempool.NewPool(cfg.Global.Mempool),
		Wallets:    wallets,
		Registry:   registry,
		Verifier:   verifier,
		Milestones: milestones,
		Chain:      chain,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	processor.Subscribe(guard)

	api := rpc.NewServer(rpc.Config{
		Wallets:   wallets,
		Guard:     guard,
		Processor: processor,
		Chain:     chain,
		Events:    recorder,
		Limits:    cfg.Global.RPC,
		Logger:    logger,
	})
	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("ledger node running",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.Uint64("height", chain.Height()))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc shutdown: %w", err)
	}
	return nil
}

func loadMilestones(path string) (*config.Milestones, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultMilestones(), nil
	}
	ms, err := config.LoadMilestones(path)
	if err != nil {
		return nil, fmt.Errorf("load milestones %s: %w", path, err)
	}
	return ms, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.DatabaseBackend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "ledger.bolt"), nil)
	case config.BackendLevelDB, "":
		return storage.NewLevelDB(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DatabaseBackend)
	}
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(cfgPath)
}

// bootstrapGenesis seeds the wallet set from the genesis file when the store
// holds neither blocks nor wallets.
func bootstrapGenesis(path string, chain *core.Blockchain, wallets *state.WalletManager, verifier genesis.AddressVerifier, logger *slog.Logger) error {
	if chain.Height() > 0 || len(wallets.All()) > 0 {
		return nil
	}
	if path == "" {
		logger.Warn("starting with an empty wallet set; no genesis file configured")
		return nil
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	seed, err := spec.BuildWallets(verifier)
	if err != nil {
		return fmt.Errorf("build genesis wallets: %w", err)
	}
	if err := wallets.Seed(seed); err != nil {
		return fmt.Errorf("seed wallets: %w", err)
	}
	if err := wallets.Exclusive(wallets.Flush); err != nil {
		return fmt.Errorf("persist genesis wallets: %w", err)
	}
	digest, err := wallets.DigestHex()
	if err != nil {
		return err
	}
	logger.Info("genesis wallets seeded",
		slog.String("network", spec.Network),
		slog.Int("wallets", len(seed)),
		slog.String("supply", genesis.TotalSupply(seed).String()),
		slog.String("digest", digest))
	return nil
}
