// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/asset_tracker/internal/app"
	"github.com/relabs-tech/asset_tracker/internal/config"
	"github.com/relabs-tech/asset_tracker/internal/logging"
)

func main() {
	configPath := flag.String("config", "tracker_config.txt", "KEY=VALUE configuration file, empty for environment only")
	flag.Parse()

	log := logging.New()
	log.Info("starting asset tracker (GPS → cellular link → MQTT)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := logging.Configure(log, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
		MaxAge: cfg.LogMaxAgeDays,
	}); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunTracker(ctx, cfg, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Info("asset tracker stopped")
}
