// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ~/.aleutian/advisor.yaml and applies environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAdvisor/pkg/logging"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/routing"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort         = "ADVISOR_PORT"
	EnvStore        = "ADVISOR_STORE"
	EnvSQLitePath   = "ADVISOR_SQLITE_PATH"
	EnvContextDir   = "ADVISOR_CONTEXT_DIR"
	EnvAuthToken    = "ADVISOR_AUTH_TOKEN"
	EnvServerURL    = "ADVISOR_SERVER_URL"
	EnvOTelEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvClassifier   = "ADVISOR_CLASSIFIER"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIModel  = "OPENAI_MODEL"
)

// File is the layout of advisor.yaml. The service settings sit at the top
// level next to the logging and client sections.
type File struct {
	orchestrator.Config `yaml:",inline"`

	Logging logging.Config `yaml:"logging"`
	Client  ClientConfig   `yaml:"client"`
}

// ClientConfig configures the CLI's connection to a running service.
type ClientConfig struct {
	ServerURL   string `yaml:"server_url"`
	Personality string `yaml:"personality,omitempty"`
}

// DefaultPath returns ~/.aleutian/advisor.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "advisor.yaml"), nil
}

// Default returns the configuration written on first run: SQLite workspace,
// Badger conversation contexts and the audit log under ~/.aleutian/advisor.
// Routing thresholds and rate limits are spelled out so a partial file
// keeps them.
func Default() File {
	return File{
		Config: orchestrator.Config{
			Server:   orchestrator.ServerConfig{Port: orchestrator.DefaultPort},
			Routing:  routing.DefaultConfig(),
			Executor: tools.DefaultExecutorConfig(),
			Storage: orchestrator.StorageConfig{
				Workspace:  orchestrator.BackendSQLite,
				SQLitePath: "~/.aleutian/advisor/workspace.db",
				Context:    orchestrator.BackendBadger,
				ContextDir: "~/.aleutian/advisor/contexts",
			},
			Audit:      orchestrator.AuditConfig{LogPath: "~/.aleutian/advisor/audit/confirmations.log"},
			Tracing:    orchestrator.TracingConfig{ServiceName: orchestrator.DefaultServiceName},
			Classifier: orchestrator.ClassifierConfig{Kind: orchestrator.ClassifierRules},
		},
		Logging: logging.Config{Level: logging.LevelInfo, Service: "advisor"},
		Client:  ClientConfig{ServerURL: fmt.Sprintf("http://localhost:%d", orchestrator.DefaultPort)},
	}
}

// Load reads the config at path, creating it with defaults when missing.
// An empty path selects DefaultPath. Environment overrides are applied and
// ~ is expanded in every path.
func Load(path string) (File, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return File{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return File{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return File{}, err
	}
	ExpandPaths(&cfg)
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overlays environment variables on cfg. lookup is os.LookupEnv
// outside tests.
//
// Setting ADVISOR_CONTEXT_DIR also selects the badger context backend.
func ApplyEnv(cfg *File, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be a port number, got %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := get(EnvStore); ok {
		cfg.Storage.Workspace = strings.ToLower(v)
	}
	if v, ok := get(EnvSQLitePath); ok {
		cfg.Storage.SQLitePath = v
	}
	if v, ok := get(EnvContextDir); ok {
		cfg.Storage.ContextDir = v
		cfg.Storage.Context = orchestrator.BackendBadger
	}
	if v, ok := get(EnvAuthToken); ok {
		cfg.Server.AuthToken = v
	}
	if v, ok := get(EnvServerURL); ok {
		cfg.Client.ServerURL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvOTelEndpoint); ok {
		cfg.Tracing.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := get(EnvClassifier); ok {
		cfg.Classifier.Kind = strings.ToLower(v)
	}
	if v, ok := get(EnvOpenAIKey); ok {
		cfg.Classifier.OpenAIAPIKey = v
	}
	if v, ok := get(EnvOpenAIModel); ok {
		cfg.Classifier.Model = v
	}
	return nil
}

// ExpandPaths replaces a leading ~ in every configured path.
func ExpandPaths(cfg *File) {
	for _, p := range []*string{
		&cfg.Storage.SQLitePath,
		&cfg.Storage.ContextDir,
		&cfg.Storage.SeedFile,
		&cfg.Audit.LogPath,
		&cfg.Logging.LogDir,
	} {
		*p = logging.ExpandPath(*p)
	}
}
