package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindwell-app/mindwell/api"
	"github.com/mindwell-app/mindwell/internal/config"
	"github.com/mindwell-app/mindwell/internal/llm"
	"github.com/mindwell-app/mindwell/internal/log"
	"github.com/mindwell-app/mindwell/internal/orchestrator"
	"github.com/mindwell-app/mindwell/internal/store"
	"github.com/mindwell-app/mindwell/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})
	logger.Info("starting mindwell",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"addr", cfg.Addr)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", "error", err)
		}
	}()
	if err := store.Migrate(db); err != nil {
		return err
	}
	st := store.New(db, logger)

	executor := tools.NewExecutor(logger)
	for _, tool := range []tools.Tool{
		tools.NewReadDocument(st),
		tools.NewFetchURL(),
		tools.NewSearchConversations(st),
	} {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("registering tool: %w", err)
		}
	}

	g, err := llm.NewGenkit(ctx, cfg, logger)
	if err != nil {
		return err
	}
	completer, err := llm.NewClient(g, cfg, logger, executor.Definitions())
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Completer: completer,
		Executor:  executor,
		Logger:    logger,
		MaxTurns:  cfg.MaxTurns,
	})
	if err != nil {
		return err
	}

	return api.NewServer(st, orch, logger).Run(ctx, cfg.Addr)
}
