// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/confirmation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

type staticCatalog []datatypes.ToolSpec

func (s staticCatalog) Specs() []datatypes.ToolSpec { return s }

func newAdminRouter(confirms PendingStore, contexts conversation.Store, catalog ToolCatalog) *gin.Engine {
	r := gin.New()
	r.GET("/health", HealthCheck)
	r.GET("/v1/tools", ListTools(catalog))
	r.GET("/v1/confirmations", ListConfirmations(confirms))
	r.DELETE("/v1/confirmations/:id", CancelConfirmation(confirms))
	r.GET("/v1/conversations/:id/context", GetConversationContext(contexts))
	r.DELETE("/v1/conversations/:id/context", ResetConversationContext(contexts))
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthCheck(t *testing.T) {
	w := do(newAdminRouter(nil, nil, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestConfirmationsAdmin(t *testing.T) {
	clock := ttl.NewManualClock(time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))
	confirms := confirmation.NewManager(clock, audit.NewMemorySink(), nil, confirmation.Config{})
	pc := confirms.Create(datatypes.ExecutionPlan{Tool: "delete_client", Arguments: map[string]any{"client_id": "c-acme"}}, "Delete Acme?", nil)
	r := newAdminRouter(confirms, conversation.NewMemoryStore(0), nil)

	w := do(r, http.MethodGet, "/v1/confirmations")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Confirmations []datatypes.PendingConfirmation `json:"confirmations"`
		Count         int                             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, pc.ID, list.Confirmations[0].ID)

	w = do(r, http.MethodDelete, "/v1/confirmations/"+pc.ID)
	require.Equal(t, http.StatusOK, w.Code)
	got, ok := confirms.Get(pc.ID)
	require.True(t, ok)
	assert.Equal(t, datatypes.ConfirmationCancelled, got.Status)

	w = do(r, http.MethodGet, "/v1/confirmations")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Zero(t, list.Count)
	assert.NotNil(t, list.Confirmations)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/v1/confirmations/pending-1-abcdef12").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/v1/confirmations/not-an-id").Code)
}

func TestConversationContextAdmin(t *testing.T) {
	contexts := conversation.NewMemoryStore(0)
	require.NoError(t, contexts.Save(context.Background(), "conv-1", datatypes.AccumulatedContext{FocusedClientID: "c-acme", LastTool: "get_client"}))
	r := newAdminRouter(nil, contexts, nil)

	w := do(r, http.MethodGet, "/v1/conversations/conv-1/context")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ConversationID string                       `json:"conversation_id"`
		Context        datatypes.AccumulatedContext `json:"context"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "c-acme", body.Context.FocusedClientID)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/v1/conversations/conv-1/context").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/conversations/conv-1/context").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/conversations/-bad/context").Code)
}

func TestListTools(t *testing.T) {
	catalog := staticCatalog{
		{Name: "list_tasks", Description: "List tasks."},
		{Name: "delete_client", Description: "Delete a client.", RequiresConfirmation: true},
	}
	w := do(newAdminRouter(nil, nil, catalog), http.MethodGet, "/v1/tools")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tools []datatypes.ToolSpec `json:"tools"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.True(t, body.Tools[1].RequiresConfirmation)
}
