// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the advisor command service in a container.
//
// Unlike the advisor CLI it never touches a config file: every setting comes
// from the environment on top of the built-in defaults.
//
// # Environment Variables
//
//   - ADVISOR_PORT: HTTP port (default: 12310)
//   - ADVISOR_STORE: workspace backend, memory or sqlite (default: sqlite)
//   - ADVISOR_SQLITE_PATH: SQLite database file
//   - ADVISOR_CONTEXT_DIR: Badger directory for conversation contexts
//   - ADVISOR_AUTH_TOKEN: bearer token required on /v1 routes
//   - ADVISOR_CLASSIFIER: rules or llm; llm needs OPENAI_API_KEY
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address, "stdout" or empty
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	ADVISOR_STORE=memory ./orchestrator
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianAdvisor/pkg/config"
	"github.com/AleutianAI/AleutianAdvisor/pkg/logging"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator"
)

func main() {
	level, err := logging.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Invalid LOG_LEVEL: %v", err)
	}
	logger := logging.New(logging.Config{Level: level, Service: "orchestrator", JSON: true, Output: os.Stdout})
	logger.Install()
	defer logger.Close()

	cfg := config.Default()
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	config.ExpandPaths(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := orchestrator.New(cfg.Config)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting orchestrator",
		"port", cfg.Server.Port,
		"workspace", cfg.Storage.Workspace,
		"classifier", cfg.Classifier.Kind,
	)
	if err := svc.Run(ctx); err != nil {
		slog.Error("Orchestrator stopped with an error", "error", err)
		os.Exit(1)
	}
}
