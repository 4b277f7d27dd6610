package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"talksync/internal/adapter/repo"
	"talksync/internal/comfy"
	"talksync/internal/infra"
	"talksync/internal/media"
	"talksync/internal/orchestrator"
	"talksync/internal/storage"
	"talksync/internal/worker"
	"talksync/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	templates, err := workflow.NewStore(cfg.WorkflowDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to load workflow templates")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	engine := comfy.NewClient(comfy.Options{
		BaseURL:           cfg.EngineBaseURL(),
		WSURL:             cfg.EngineWSURL(),
		Logger:            &logger,
		ReadyPollInterval: cfg.ReadyPollInterval,
		ReadyTimeout:      cfg.ReadyTimeout,
	})
	if err := engine.WaitReady(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: inference engine not ready")
	}

	orch := orchestrator.New(
		templates,
		media.NewResolver(nil, logger),
		orchestrator.NewEngine(engine),
		cfg.TempDir,
		logger,
	)

	w, err := worker.New(worker.Options{
		Queue:        repo.NewTaskRepository(runner),
		Runner:       orch,
		Store:        fileStore,
		Logger:       logger,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.JobPollInterval,
		TaskTimeout:  cfg.TaskTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to start")
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
