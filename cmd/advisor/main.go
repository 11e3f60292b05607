// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command advisor is the command-line front end of the advisory command
// service.
//
// # Usage
//
//	advisor serve                       # run the HTTP service
//	advisor ask "show me pending reviews"
//	advisor ask --conversation c-1 yes  # answer a confirmation prompt
//	advisor tools                       # list the tool catalog
//
// Settings come from ~/.aleutian/advisor.yaml, created with defaults on the
// first run, and ADVISOR_* environment variables.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAdvisor/pkg/config"
	"github.com/AleutianAI/AleutianAdvisor/pkg/logging"
	"github.com/AleutianAI/AleutianAdvisor/pkg/ux"
)

// app holds state shared by every subcommand once the root pre-run has
// loaded the configuration.
type app struct {
	configPath  string
	personality string
	logLevel    string

	cfg    config.File
	logger *logging.Logger
}

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ux.IconError.Render()+" "+err.Error())
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "advisor",
		Short:         "Conversational commands for the advisory workspace",
		Long:          `advisor runs the command service and talks to it: ask questions about clients, tasks and opportunities, confirm or undo actions, and inspect the tool catalog.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/advisor.yaml)")
	root.PersistentFlags().StringVar(&a.personality, "personality", "", "output style: full, minimal or machine")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(a), newAskCmd(a), newToolsCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		level, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.Logging.Level = level
	}
	if cfg.Logging.Output == nil {
		cfg.Logging.Output = os.Stderr
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging)
	a.logger.Install()
	return nil
}

// level resolves the output personality. The flag wins, then
// ALEUTIAN_PERSONALITY, then the config file, then terminal detection.
func (a *app) level(out io.Writer) ux.PersonalityLevel {
	if a.personality != "" {
		return ux.ParsePersonalityLevel(a.personality)
	}
	if strings.TrimSpace(os.Getenv(ux.PersonalityEnv)) == "" && a.cfg.Client.Personality != "" {
		return ux.ParsePersonalityLevel(a.cfg.Client.Personality)
	}
	return ux.DetectPersonality(out)
}
