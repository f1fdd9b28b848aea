// Package main is the entry point for the pricewatch server.
// Machines are provisioned externally; this service owns price extraction,
// validation, history, and the approval queue.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/machlab/pricewatch/internal/browser"
	"github.com/machlab/pricewatch/internal/config"
	"github.com/machlab/pricewatch/internal/database"
	"github.com/machlab/pricewatch/internal/extractor"
	"github.com/machlab/pricewatch/internal/fetch"
	"github.com/machlab/pricewatch/internal/http/handlers"
	"github.com/machlab/pricewatch/internal/http/mw"
	"github.com/machlab/pricewatch/internal/llm"
	"github.com/machlab/pricewatch/internal/logging"
	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/service"
	"github.com/machlab/pricewatch/internal/siterules"
	"github.com/machlab/pricewatch/internal/version"
	"github.com/machlab/pricewatch/internal/worker"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting pricewatch",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := database.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	// Batches left running by a crashed server are unrecoverable.
	staleCount, err := repos.Batch.MarkStaleRunningFailed(context.Background(), time.Hour)
	if err != nil {
		logger.Warn("failed to clean up stale batches", "error", err)
	} else if staleCount > 0 {
		logger.Info("marked stale running batches failed", "count", staleCount)
	}

	rules, err := siterules.Load(cfg.SiteRulesPath)
	if err != nil {
		logger.Error("failed to load site rules", "error", err)
		os.Exit(1)
	}
	logger.Info("site rules loaded", "domains", rules.Len(), "path", cfg.SiteRulesPath)

	fetcher := fetch.New(cfg.FetchTimeout, cfg.UserAgent, logger, fetch.WithRetries(cfg.FetchRetries))
	static := extractor.NewStatic(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Browser pool is optional: without it the dynamic tier is skipped and
	// JS-rendered sites fall through to the LLM tier.
	var dynamic extractor.Extractor
	var pool *browser.Pool
	if cfg.BrowserPoolSize > 0 {
		pool = browser.NewPool(browser.Config{
			ControlURL: cfg.BrowserControlURL,
			Headless:   cfg.BrowserHeadless,
			PoolSize:   cfg.BrowserPoolSize,
		}, logger)
		if err := pool.Start(ctx); err != nil {
			logger.Warn("browser pool unavailable, dynamic tier disabled", "error", err)
			pool = nil
		} else {
			dynamic = extractor.NewDynamic(pool, static, logger)
		}
	}

	var llmTier extractor.Extractor
	if cfg.LLMEnabled() {
		client := llm.NewAnthropic(cfg.LLMAPIKey, cfg.LLMModel)
		llmTier = extractor.NewLLM(client, cfg.LLMMaxPayloadChars, logger)
		logger.Info("llm tier enabled", "model", cfg.LLMModel)
	} else {
		logger.Info("llm tier disabled, no api key configured")
	}

	validator := service.NewValidator(cfg.ChangeApprovalThreshold, cfg.ChangeReviewThreshold)
	extraction := service.NewExtractionService(repos, service.ExtractionConfig{
		Rules:          rules,
		Fetcher:        fetcher,
		Static:         static,
		Dynamic:        dynamic,
		LLM:            llmTier,
		Validator:      validator,
		GlobalTimeout:  cfg.GlobalTimeout,
		DynamicTimeout: cfg.DynamicTimeout,
		LLMTimeout:     cfg.LLMTimeout,
	}, logger)
	batch := service.NewBatchService(repos, extraction, cfg.Workers, cfg.PerDomainConcurrency, cfg.PerDomainMinInterval, logger)
	approval := service.NewApprovalService(repos, logger)
	machines := service.NewMachineService(repos, logger)

	batchWorker := worker.New(repos.Batch, batch, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
	}, logger)
	batchWorker.Start(ctx)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	// Synchronous extraction holds the request for the whole tier
	// sequence, so it gets the global extraction budget plus headroom.
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:          30 * time.Second,
		Extended:         cfg.GlobalTimeout + 15*time.Second,
		ExtendedPatterns: []string{"/extract"},
	}))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(100, time.Minute))

	humaConfig := huma.DefaultConfig("Pricewatch API", v.Version)
	humaConfig.Info.Description = "Price monitoring for manufacturer product pages: tiered extraction, validation, and an approval queue for suspicious changes."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	api := humachi.New(router, humaConfig)

	// K8s probes, hidden from docs.
	hiddenConfig := huma.DefaultConfig("Pricewatch API", v.Version)
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	huma.Get(api, "/api/v1/health", handlers.HealthCheck)
	huma.Get(hiddenAPI, "/healthz", handlers.Livez)
	huma.Get(hiddenAPI, "/readyz", handlers.NewReadyzHandler(db).Readyz)

	machineHandler := handlers.NewMachineHandler(machines)
	huma.Post(api, "/api/v1/machines", machineHandler.CreateMachine)
	huma.Get(api, "/api/v1/machines", machineHandler.ListMachines)
	huma.Get(api, "/api/v1/machines/{machine_id}", machineHandler.GetMachine)
	huma.Get(api, "/api/v1/machines/{machine_id}/history", machineHandler.GetMachineHistory)

	huma.Post(api, "/api/v1/extract/{machine_id}", handlers.NewExtractionHandler(extraction).Extract)

	batchHandler := handlers.NewBatchHandler(batch)
	huma.Post(api, "/api/v1/batch", batchHandler.CreateBatch)
	huma.Get(api, "/api/v1/batch/{batch_id}", batchHandler.GetBatch)

	approvalHandler := handlers.NewApprovalHandler(approval)
	huma.Get(api, "/api/v1/approvals", approvalHandler.ListApprovals)
	huma.Post(api, "/api/v1/approval/{history_id}", approvalHandler.Decide)

	huma.Get(api, "/api/v1/stats", handlers.NewStatsHandler(repos).GetStats)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GlobalTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		cancel()
		batchWorker.Stop()
		if pool != nil {
			pool.Shutdown()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
