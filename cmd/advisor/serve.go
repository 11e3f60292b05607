// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the advisor command service",
		Long:  `Starts the HTTP service with the settings from advisor.yaml. Stops cleanly on SIGINT or SIGTERM.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Config
			if port != 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides the config file)")
	return cmd
}

func serve(ctx context.Context, cfg orchestrator.Config) error {
	svc, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}
	slog.Info("Starting advisor service",
		"port", cfg.Server.Port,
		"workspace", cfg.Storage.Workspace,
		"contexts", cfg.Storage.Context,
		"classifier", cfg.Classifier.Kind,
	)
	return svc.Run(ctx)
}
