package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waLLLnut/lattica-server-sub000/api"
	"github.com/waLLLnut/lattica-server-sub000/api/stream"
	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/chain"
	"github.com/waLLLnut/lattica-server-sub000/events"
	"github.com/waLLLnut/lattica-server-sub000/indexer"
	"github.com/waLLLnut/lattica-server-sub000/internal/config"
	"github.com/waLLLnut/lattica-server-sub000/internal/logger"
	"github.com/waLLLnut/lattica-server-sub000/state"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		rpcEndpoint = flag.String("rpc", "", "Solana RPC endpoint URL")
		programID   = flag.String("program", "", "Program id to monitor")
		dbPath      = flag.String("db", "", "Database path")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (json, console)")

		enableAPI       = flag.Bool("api", false, "Enable API server")
		apiHost         = flag.String("api-host", "", "API server host")
		apiPort         = flag.Int("api-port", 0, "API server port")
		enableWebSocket = flag.Bool("websocket", false, "Enable WebSocket relay")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("lattica-server version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile, func(c *config.Config) {
		applyFlags(c, *rpcEndpoint, *programID, *dbPath, *logLevel, *logFormat)
		applyAPIFlags(c, *enableAPI, *apiHost, *apiPort, *enableWebSocket)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	program, err := solana.PublicKeyFromBase58(cfg.Chain.Program)
	if err != nil {
		log.Fatal("Invalid program id", zap.String("program", cfg.Chain.Program), zap.Error(err))
	}

	log.Info("Starting lattica-server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("rpc_endpoint", cfg.Chain.Endpoint),
		zap.String("program", program.String()),
		zap.String("db_path", cfg.Storage.Path),
		zap.String("bus_type", string(cfg.Bus.Type)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Chain client
	chainClient, err := chain.NewClient(&chain.Config{
		Endpoint: cfg.Chain.Endpoint,
		Timeout:  cfg.Chain.Timeout,
		Logger:   log,
	})
	if err != nil {
		log.Fatal("Failed to create chain client", zap.Error(err))
	}
	defer chainClient.Close()

	log.Info("Connected to RPC endpoint",
		zap.String("endpoint", cfg.Chain.Endpoint),
		zap.String("tier", string(chainClient.Tier())),
	)

	// Storage
	store, err := storage.NewPebbleStore(&cfg.Storage, log)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close storage", zap.Error(err))
		}
	}()

	log.Info("Storage initialized", zap.String("path", cfg.Storage.Path))

	// Report the resume point
	cp, err := store.GetCheckpoint(ctx, program)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("No checkpoint yet, starting from the chain tip")
		} else {
			log.Warn("Failed to read checkpoint", zap.Error(err))
		}
	} else {
		log.Info("Resuming from checkpoint",
			zap.Uint64("slot", cp.Slot),
			zap.String("signature", cp.Signature.String()),
		)
	}

	// Publish bus
	publishBus, err := bus.NewFactory(cfg.Bus, log).Create(ctx)
	if err != nil {
		log.Fatal("Failed to create publish bus", zap.Error(err))
	}
	go publishBus.Run()
	defer publishBus.Stop()

	log.Info("Publish bus initialized",
		zap.String("type", string(publishBus.Type())),
		zap.Int("publish_buffer", cfg.Bus.PublishBufferSize),
	)

	// Optimistic state tracker
	states := state.NewStore(cfg.State.OptimisticTTL, log)
	go states.RunReaper(ctx)

	// Indexer with the publish pipeline as its handler
	normalizer := events.NewNormalizer(log)
	publisher := indexer.NewPublisher(publishBus, store, states, log)

	idxConfig := indexer.Config{
		Program:  program,
		PageSize: cfg.Indexer.PageSize,
	}
	if cfg.Indexer.EnablePush {
		idxConfig.PushEndpoint = cfg.Chain.WSEndpoint
	}

	idx, err := indexer.New(idxConfig, chainClient, normalizer, store, publishBus, log)
	if err != nil {
		log.Fatal("Failed to create indexer", zap.Error(err))
	}
	idx.RegisterHandler(publisher.Handle)

	// Retention sweep
	go runRetentionSweep(ctx, store, cfg.Retention.Period, cfg.Retention.SweepInterval, log)

	// API server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiConfig := api.DefaultConfig()
		apiConfig.Host = cfg.API.Host
		apiConfig.Port = cfg.API.Port
		apiConfig.StreamPath = cfg.API.StreamPath
		apiConfig.EnableWebSocket = cfg.API.EnableWebSocket
		apiConfig.WebSocketPath = cfg.API.WebSocketPath
		apiConfig.EnableCORS = cfg.API.EnableCORS
		apiConfig.AllowedOrigins = cfg.API.AllowedOrigins
		apiConfig.EnableRateLimit = cfg.API.EnableRateLimit
		apiConfig.RateLimitPerSecond = cfg.API.RateLimitPerSecond
		apiConfig.RateLimitBurst = cfg.API.RateLimitBurst

		streamConfig := stream.Config{
			KeepAliveInterval:    cfg.Stream.KeepAliveInterval,
			FallbackPollInterval: cfg.Stream.FallbackPollInterval,
			GapQueryLimit:        cfg.Stream.GapQueryLimit,
			SubscriberBufferSize: cfg.Stream.SubscriberBufferSize,
		}

		apiServer, err = api.NewServer(apiConfig, streamConfig, publishBus, store, log)
		if err != nil {
			log.Fatal("Failed to create API server", zap.Error(err))
		}
	}

	// Run the indexer and API server until a signal or a fatal error.
	// A failure in either one tears down the group context.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return idx.Run(gctx)
	})
	if apiServer != nil {
		srv := apiServer
		g.Go(func() error {
			return srv.Start()
		})
		// Start only returns once the server is shut down, so unblock
		// it when the group context ends
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			return srv.Stop(shutdownCtx)
		})
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- g.Wait()
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Service stopped with error", zap.Error(err))
		}
	}

	log.Info("Shutting down gracefully...")

	if cp, err := store.GetCheckpoint(context.Background(), program); err == nil {
		log.Info("Final checkpoint",
			zap.Uint64("slot", cp.Slot),
			zap.String("signature", cp.Signature.String()),
		)
	}

	log.Info("Indexer stopped")
}

// runRetentionSweep periodically removes history rows older than the
// retention period.
func runRetentionSweep(ctx context.Context, store storage.HistoryStore, period, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Cleanup(ctx, time.Now().Add(-period))
			if err != nil {
				log.Error("Retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Info("Retention sweep removed history rows", zap.Int("removed", removed))
			}
		}
	}
}

// loadConfig loads configuration from .env, file, environment, and flags
func loadConfig(configFile string, applyOverrides func(*config.Config)) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	applyOverrides(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, rpcEndpoint, programID, dbPath, logLevel, logFormat string) {
	if rpcEndpoint != "" {
		cfg.Chain.Endpoint = rpcEndpoint
	}
	if programID != "" {
		cfg.Chain.Program = programID
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
}

// applyAPIFlags applies API-related command-line flags to configuration
func applyAPIFlags(cfg *config.Config, enableAPI bool, apiHost string, apiPort int, enableWebSocket bool) {
	if enableAPI {
		cfg.API.Enabled = true
	}
	if apiHost != "" {
		cfg.API.Host = apiHost
	}
	if apiPort > 0 {
		cfg.API.Port = apiPort
	}
	if enableWebSocket {
		cfg.API.EnableWebSocket = true
	}
}
