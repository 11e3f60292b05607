// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type nopTurns struct{}

func (nopTurns) Stream(context.Context, datatypes.CommandRequest, observability.Transport) <-chan datatypes.StreamEvent {
	out := make(chan datatypes.StreamEvent)
	close(out)
	return out
}

func (nopTurns) Execute(_ context.Context, req datatypes.CommandRequest) (datatypes.CommandResponse, error) {
	return datatypes.CommandResponse{ConversationID: req.ConversationID, Content: "ok"}, nil
}

type emptyPending struct{}

func (emptyPending) Pending() []datatypes.PendingConfirmation { return nil }
func (emptyPending) Get(string) (datatypes.PendingConfirmation, bool) {
	return datatypes.PendingConfirmation{}, false
}
func (emptyPending) Cancel(context.Context, string) datatypes.CancelResult {
	return datatypes.CancelResult{}
}

type emptyCatalog struct{}

func (emptyCatalog) Specs() []datatypes.ToolSpec { return nil }

func newTestRouter(auth middleware.AuthProvider) *gin.Engine {
	reg := prometheus.NewRegistry()
	router := gin.New()
	SetupRoutes(router, Deps{
		Commands:      handlers.NewCommandHandler(nopTurns{}, observability.NewMetrics(reg), 0),
		Upgrader:      handlers.NewUpgrader(nil),
		Confirmations: emptyPending{},
		Contexts:      conversation.NewMemoryStore(0),
		Tools:         emptyCatalog{},
		Auth:          auth,
		Gatherer:      reg,
	})
	return router
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersEveryRoute(t *testing.T) {
	router := newTestRouter(nil)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/command"},
		{"GET", "/v1/command/ws"},
		{"GET", "/v1/tools"},
		{"GET", "/v1/confirmations"},
		{"DELETE", "/v1/confirmations/:id"},
		{"GET", "/v1/conversations/:id/context"},
		{"DELETE", "/v1/conversations/:id/context"},
	}

	registered := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range registered {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("route %s %s not registered", want.method, want.path)
		}
	}
	if len(registered) != len(expected) {
		t.Errorf("expected %d routes, got %d", len(expected), len(registered))
	}
}

func TestSetupRoutes_HealthAndMetricsAreOpen(t *testing.T) {
	router := newTestRouter(middleware.StaticTokenProvider{Token: "tok"})

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestSetupRoutes_V1RequiresToken(t *testing.T) {
	router := newTestRouter(middleware.StaticTokenProvider{Token: "tok"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/command", strings.NewReader(`{"message":"hi","stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/confirmations?access_token=tok", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with query token, got %d", w.Code)
	}
}

func TestSetupRoutes_NilAuthIsOpen(t *testing.T) {
	router := newTestRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tools", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
