package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atbridge-dev/atbridge/internal/atproto"
	"github.com/atbridge-dev/atbridge/internal/config"
	"github.com/atbridge-dev/atbridge/internal/firehose"
	"github.com/atbridge-dev/atbridge/internal/inbound"
	"github.com/atbridge-dev/atbridge/internal/outbound"
	"github.com/atbridge-dev/atbridge/internal/render"
	"github.com/atbridge-dev/atbridge/internal/store"
	"github.com/atbridge-dev/atbridge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "atbridge.yaml", "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	logger.Info("store opened", "path", cfg.StorePath)

	client := atproto.NewClient(logger)
	uploader := outbound.NewUploader(client, logger)
	renderer := render.NewRenderer(logger)
	publisher := outbound.NewPublisher(client, uploader, renderer, db, db, cfg.SegmentMaxLen, logger)

	langs := inbound.NewLanguagePolicy(cfg.Languages)
	reconciler := inbound.NewReconciler(client, db, db, langs, cfg.PageSize, logger)

	runner := worker.NewRunner(db, db, db, db, publisher, reconciler, client, worker.Options{
		Interval:        time.Minute,
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		MirrorMaxAge:    cfg.MirrorMaxAge,
		Feeds:           cfg.Feeds,
	}, logger)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.FirehoseURL != "" {
		subscriber := firehose.NewSubscriber(cfg.FirehoseURL, db, db, db, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firehose subscriber exited with error", "error", err)
			}
		}()
	}

	go runner.Start(ctx)

	logger.Info("bridge started",
		"poll_interval", cfg.PollInterval,
		"feeds", len(cfg.Feeds),
	)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	return nil
}
