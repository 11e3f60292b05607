// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAdvisor/pkg/logging"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/routing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPort, EnvStore, EnvSQLitePath, EnvContextDir, EnvAuthToken, EnvServerURL, EnvOTelEndpoint, EnvClassifier, EnvOpenAIKey, EnvOpenAIModel} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", ".aleutian", "advisor.yaml")

	require.NoError(t, createDefault(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg File
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, orchestrator.BackendSQLite, cfg.Storage.Workspace)
	assert.Equal(t, orchestrator.DefaultPort, cfg.Server.Port)
	assert.Equal(t, logging.LevelInfo, cfg.Logging.Level)
}

func TestLoad_FirstRunCreatesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "advisor.yaml")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, orchestrator.BackendBadger, cfg.Storage.Context)
	assert.NotContains(t, cfg.Storage.SQLitePath, "~", "paths are expanded")
	assert.Equal(t, "http://localhost:12310", cfg.Client.ServerURL)
}

func TestLoad_ReadsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "advisor.yaml")
	content := `
server:
  port: 9000
  heartbeat: 5s
confirmation:
  ttl: 2m
storage:
  workspace: memory
  context: memory
routing:
  clarify_low_confidence: true
logging:
  level: debug
client:
  personality: machine
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.Heartbeat)
	assert.Equal(t, 2*time.Minute, cfg.Confirmation.TTL)
	assert.Equal(t, orchestrator.BackendMemory, cfg.Storage.Workspace)
	assert.True(t, cfg.Routing.ClarifyLowConfidence)
	assert.Equal(t, routing.DefaultConfig().HighConfidence, cfg.Routing.HighConfidence, "other thresholds keep defaults")
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, "machine", cfg.Client.Personality)
	assert.Equal(t, "http://localhost:12310", cfg.Client.ServerURL, "unset keys keep defaults")
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "advisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvPort:         "8088",
		EnvStore:        "MEMORY",
		EnvSQLitePath:   "/data/ws.db",
		EnvContextDir:   "/data/ctx",
		EnvOTelEndpoint: "collector:4317",
		EnvClassifier:   "llm",
		EnvOpenAIKey:    "sk-test",
		EnvOpenAIModel:  "gpt-4o",
		EnvServerURL:    "http://advisor:8088/",
		EnvAuthToken:    "tok",
	}
	cfg := Default()

	require.NoError(t, ApplyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, orchestrator.BackendMemory, cfg.Storage.Workspace)
	assert.Equal(t, "/data/ws.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "/data/ctx", cfg.Storage.ContextDir)
	assert.Equal(t, orchestrator.BackendBadger, cfg.Storage.Context)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, orchestrator.ClassifierLLM, cfg.Classifier.Kind)
	assert.Equal(t, "sk-test", cfg.Classifier.OpenAIAPIKey)
	assert.Equal(t, "gpt-4o", cfg.Classifier.Model)
	assert.Equal(t, "http://advisor:8088", cfg.Client.ServerURL)
	assert.Equal(t, "tok", cfg.Server.AuthToken)
}

func TestApplyEnv_EmptyOTelEndpointDisablesTracing(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Endpoint = "collector:4317"

	require.NoError(t, ApplyEnv(&cfg, func(k string) (string, bool) {
		if k == EnvOTelEndpoint {
			return "", true
		}
		return "", false
	}))
	assert.Empty(t, cfg.Tracing.Endpoint)
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, func(k string) (string, bool) {
		if k == EnvPort {
			return "eighty", true
		}
		return "", false
	})
	assert.Error(t, err)
}
