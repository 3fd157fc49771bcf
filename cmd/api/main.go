package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainspan/chainspan-backend/internal/api"
	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/chainspan/chainspan-backend/internal/catalog"
	"github.com/chainspan/chainspan-backend/internal/chain"
	"github.com/chainspan/chainspan-backend/internal/chain/evm"
	"github.com/chainspan/chainspan-backend/internal/chain/suichain"
	"github.com/chainspan/chainspan-backend/internal/config"
	"github.com/chainspan/chainspan-backend/internal/guardian"
	"github.com/chainspan/chainspan-backend/internal/jobs"
	"github.com/chainspan/chainspan-backend/internal/log"
	"github.com/chainspan/chainspan-backend/internal/metrics"
	"github.com/chainspan/chainspan-backend/internal/repository"
	"github.com/chainspan/chainspan-backend/internal/store"
	"github.com/chainspan/chainspan-backend/internal/ws"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Chainspan attestation API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"network", cfg.Network,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("chainspan-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Setup Postgres run history
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		logger.Fatalw("Failed to open database", "error", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalw("Database ping failed", "error", err)
	}
	repo := repository.NewRepository(db, logger)
	logger.Infow("Database connection established")

	// Setup Redis cache (falls back to in-memory when unreachable)
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	network, err := bridge.ParseNetwork(cfg.Network)
	if err != nil {
		logger.Fatalw("Invalid network", "error", err)
	}

	// Setup chain clients and signers
	registry := chain.NewRegistry()

	ethClient, err := evm.NewClient(ctx, bridge.ChainEthereum, evm.Config{
		RPCURL:          cfg.Ethereum.RPCURL,
		TokenBridgeAddr: cfg.Ethereum.TokenBridgeAddr,
	}, logger)
	if err != nil {
		logger.Fatalw("Failed to setup Ethereum client", "error", err)
	}
	defer ethClient.Close()
	registry.RegisterClient(network, ethClient)

	if cfg.Ethereum.PrivateKey != "" {
		ethSigner, err := evm.NewSigner(cfg.Ethereum.PrivateKey, big.NewInt(cfg.Ethereum.ChainID), ethClient.Eth())
		if err != nil {
			logger.Fatalw("Failed to setup Ethereum signer", "error", err)
		}
		registry.RegisterSigner(network, bridge.ChainEthereum, ethSigner)
	} else {
		logger.Warnw("No Ethereum private key configured; Ethereum-side attestations disabled")
	}

	suiClient, err := suichain.NewClient(suichain.Config{
		RPCURL:          cfg.Sui.RPCURL,
		BridgePackageID: cfg.Sui.BridgePackageID,
		BridgeStateID:   cfg.Sui.BridgeStateID,
	}, logger)
	if err != nil {
		logger.Fatalw("Failed to setup Sui client", "error", err)
	}
	registry.RegisterClient(network, suiClient)

	if cfg.Sui.Mnemonic != "" {
		suiSigner, err := suichain.NewSigner(cfg.Sui.Mnemonic)
		if err != nil {
			logger.Fatalw("Failed to setup Sui signer", "error", err)
		}
		registry.RegisterSigner(network, bridge.ChainSui, suiSigner)
	} else {
		logger.Warnw("No Sui mnemonic configured; Sui-side attestations disabled")
	}

	// Guardian proof source
	proofs := guardian.NewClient(cfg.Guardian.APIURL, logger)

	// Setup WebSocket hub for live run status
	wsHub := ws.NewHub(cfg.Security.CORSAllowedOrigins, logger)

	// Workflow orchestrator and worker pool
	orch := bridge.NewOrchestrator(registry, registry, proofs, logger,
		bridge.WithMetrics(metricsObj),
		bridge.WithProofTimeout(cfg.Workflow.ProofTimeout),
		bridge.WithProofPollInterval(cfg.Workflow.ProofPollInterval),
		bridge.WithConfirmPolicy(bridge.RetryPolicy{
			MaxAttempts: cfg.Workflow.ConfirmAttempts,
			Interval:    cfg.Workflow.ConfirmInterval,
		}),
	)
	worker := bridge.NewWorker(orch, logger,
		bridge.WithRecorder(repo),
		bridge.WithSink(wsHub),
		bridge.WithLocker(cache),
		bridge.WithRetainer(cache),
		bridge.WithConcurrency(cfg.Workflow.Workers),
	)

	// Create context for background services
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	go wsHub.Run(hubCtx)
	worker.Start(hubCtx)

	// Sweep runs stranded by a previous process
	janitor := jobs.NewRunJanitor(repo, logger, jobs.RunJanitorConfig{})
	go func() {
		if err := janitor.Start(hubCtx); err != nil && err != context.Canceled {
			logger.Errorw("Run janitor error", "error", err)
		}
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(worker, registry, repo, cache, catalog.NewService(), wsHub, cfg, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Run requests block until terminal, bounded by the proof wait, so
	// the write timeout must sit above the configured proof timeout.
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Workflow.ProofTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
