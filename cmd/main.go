package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sync-profile/internal/analytics"
	"sync-profile/internal/cache"
	"sync-profile/internal/config"
	"sync-profile/internal/exporter"
	"sync-profile/internal/models"
	"sync-profile/internal/publish"
	"sync-profile/internal/pvstore"
	"sync-profile/internal/server"
	"sync-profile/internal/source/opcua"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	fs := flag.NewFlagSet("sync-profile", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML configuration file")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: sync-profile [-config file] [source ...]\n\n")
		fmt.Fprintf(fs.Output(), "Publishes update-frequency and time-difference statistics for the given sources.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Finalize(fs.Args()); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	names := cfg.SourceNames()
	reg := prometheus.DefaultRegisterer
	pipeline := exporter.NewPipelineMetrics(reg)

	table := pvstore.NewTable(analytics.MetricNames(names)...)
	sinks := []publish.Sink{table, exporter.NewPromSink(reg)}

	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cache.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		sinks = append(sinks, redisClient)
	}

	dispatcher, err := publish.NewDispatcher(sinks,
		publish.WithQueueSize(cfg.Publish.QueueSize),
		publish.WithSinkTimeout(cfg.Publish.SinkTimeout),
		publish.WithObserver(pipeline),
		publish.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	dispatcher.Start()
	defer dispatcher.Close()

	engine, err := analytics.NewEngine(names,
		analytics.WithCapacity(cfg.WindowCapacity),
		analytics.WithPublisher(dispatcher),
		analytics.WithObserver(pipeline),
		analytics.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}
	defer engine.Stop()

	logger.Info("engine configured",
		"sources", len(names),
		"pairs", engine.PairCount(),
		"window_capacity", cfg.WindowCapacity)

	if cfg.OPCUA.Enabled() {
		collector, err := opcua.NewCollector(cfg.OPCUA, cfg.Nodes(), logger)
		if err != nil {
			return fmt.Errorf("opcua collector: %w", err)
		}
		events := make(chan models.Event, cfg.Publish.QueueSize)
		if err := collector.Start(events); err != nil {
			return fmt.Errorf("opcua collector: %w", err)
		}
		defer func() {
			if err := collector.Stop(); err != nil {
				logger.Error("opcua collector stop", "error", err)
			}
		}()
		go func() {
			if err := engine.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event loop stopped", "error", err)
			}
		}()
	}

	srv := server.New(engine, table, server.Options{
		Registerer: reg,
		Gatherer:   prometheus.DefaultGatherer,
		Queue:      dispatcher,
		Logger:     logger,
	})
	return srv.Run(ctx, cfg.HTTP.Addr)
}
