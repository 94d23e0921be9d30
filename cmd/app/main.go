package main

import (
	"flag"
	"log"
	"os"

	"OhlcvAPI/internal/di"
	"OhlcvAPI/pkg/config"
	applogger "OhlcvAPI/pkg/logger"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path (empty for defaults and env only)")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	logger = logger.With(applogger.String("service", cfg.Service), applogger.String("env", cfg.Environment))

	for _, w := range cfg.Warnings {
		logger.Warn("config", applogger.String("warning", w))
	}

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg, logger)
	if err != nil {
		logger.Error("app initialization failed", applogger.Error(err))
		os.Exit(1)
	}

	logger.Info("starting",
		applogger.String("addr", cfg.Addr()),
		applogger.String("prefix", cfg.API.Prefix),
		applogger.String("storage", cfg.Storage.Backend),
		applogger.String("cache", cfg.Cache.Backend),
		applogger.Bool("live_kafka", cfg.Live.Kafka.Enabled),
		applogger.Bool("live_redis", cfg.Live.Redis.Enabled),
	)

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		logger.Error("app error", applogger.Error(err))
		os.Exit(1)
	}
}
