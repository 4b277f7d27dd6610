package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"talksync/internal/adapter/repo"
	"talksync/internal/comfy"
	"talksync/internal/http/handlers"
	httpapi "talksync/internal/http/httpapi"
	"talksync/internal/infra"
	"talksync/internal/media"
	"talksync/internal/orchestrator"
	"talksync/internal/storage"
	"talksync/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	templates, err := workflow.NewStore(cfg.WorkflowDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load workflow templates")
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	engine := comfy.NewClient(comfy.Options{
		BaseURL:           cfg.EngineBaseURL(),
		WSURL:             cfg.EngineWSURL(),
		Logger:            &logger,
		ReadyPollInterval: cfg.ReadyPollInterval,
		ReadyTimeout:      cfg.ReadyTimeout,
	})

	// No request is accepted before the engine answers on its control port.
	if err := engine.WaitReady(ctx); err != nil {
		logger.Fatal().Err(err).Msg("inference engine not ready")
	}

	orch := orchestrator.New(
		templates,
		media.NewResolver(nil, logger),
		orchestrator.NewEngine(engine),
		cfg.TempDir,
		logger,
	)

	app := &handlers.App{
		Runner:      orch,
		Tasks:       repo.NewTaskRepository(runner),
		Files:       fileStore,
		DB:          dbpool,
		Logger:      logger,
		SyncTimeout: cfg.SyncTimeout,
	}

	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
