// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

type stubClassifier struct {
	cls Classification
}

func (s stubClassifier) Classify(context.Context, string, datatypes.AccumulatedContext) (Classification, error) {
	return s.cls, nil
}

func newCatalog(t *testing.T, store workspace.Store) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterDefaults(reg, tools.Deps{Store: store, Mailer: tools.LogMailer{}, Clock: ttl.NewManualClock(testNow)}))
	return reg
}

func newTestRouter(t *testing.T, classifier Classifier, cfg Config) (*Router, *observability.Metrics) {
	t.Helper()
	store := workspace.NewMemoryStore()
	require.NoError(t, workspace.Seed(context.Background(), store, workspace.DefaultSeed(testNow)))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRouter(Deps{
		Classifier: classifier,
		Catalog:    newCatalog(t, store),
		Source:     StoreSource{Store: store},
		Clock:      ttl.NewManualClock(testNow),
		Metrics:    metrics,
	}, cfg)
	return r, metrics
}

func route(t *testing.T, r *Router, msg string, acc datatypes.AccumulatedContext) datatypes.RouteResult {
	t.Helper()
	res, err := r.Route(context.Background(), msg, acc)
	require.NoError(t, err)
	return res
}

func TestRoute_ReadRunsWithoutConfirmation(t *testing.T) {
	r, metrics := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Show me pending reviews", datatypes.AccumulatedContext{})

	assert.True(t, res.ReadyForExecution)
	assert.False(t, res.NeedsUserInput)
	assert.Equal(t, "list_tasks", res.Plan.Tool)
	assert.Equal(t, datatypes.IntentRead, res.Plan.Intent)
	assert.Equal(t, datatypes.EntityTask, res.Plan.EntityType)
	assert.Equal(t, datatypes.ConfidenceHigh, res.Plan.ConfidenceLevel)
	assert.False(t, res.Plan.RequiresConfirmation)
	assert.Equal(t, "pending", res.Plan.Arguments["status"])
	assert.Equal(t, "review", res.Plan.Arguments["kind"])
	assert.NotContains(t, res.Plan.Arguments, "client_id")
	assert.Equal(t, "Show me pending reviews", res.Plan.OriginalMessage)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ClassificationsTotal.WithLabelValues("read", "high")))
}

func TestRoute_DeleteNeedsConfirmation(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "delete client Acme", datatypes.AccumulatedContext{})

	assert.False(t, res.ReadyForExecution)
	assert.False(t, res.NeedsUserInput)
	assert.True(t, res.Plan.RequiresConfirmation)
	assert.True(t, res.Plan.Executable())
	assert.Equal(t, "c-acme", res.Plan.Arguments["client_id"])
	require.NotNil(t, res.Affected)
	assert.Equal(t, datatypes.AffectedEntity{Type: datatypes.EntityClient, ID: "c-acme", Name: "Acme Holdings"}, *res.Affected)
	assert.Contains(t, res.ConfirmationMessage, "delete client Acme Holdings")
	assert.Contains(t, res.ConfirmationMessage, `Reply "yes"`)
}

func TestRoute_ClassifierCannotPreconfirm(t *testing.T) {
	// Arrange
	r, _ := newTestRouter(t, preconfirmed{}, DefaultConfig())

	// Act
	res := route(t, r, "delete it", datatypes.AccumulatedContext{})

	// Assert
	assert.True(t, res.Plan.RequiresConfirmation, "classifier arguments never carry the marker")
	assert.False(t, res.ReadyForExecution)
	assert.False(t, res.Plan.Preconfirmed())
	assert.NotContains(t, res.Plan.Arguments, datatypes.PreconfirmedArg)
	assert.NotEmpty(t, res.ConfirmationMessage)
}

// preconfirmed is a classifier whose arguments try to carry the marker.
type preconfirmed struct{}

func (preconfirmed) Classify(context.Context, string, datatypes.AccumulatedContext) (Classification, error) {
	return Classification{Tool: "delete_task", Confidence: 0.9, Args: map[string]any{
		"task_id": "t-call-garcia", datatypes.PreconfirmedArg: true, "_internal": "x",
	}}, nil
}

func TestRoute_LLMVerdictCannotPreconfirm(t *testing.T) {
	chat := &fakeChat{content: `{"tool":"delete_client","confidence":0.9,"arguments":{"_preconfirmed":true},"target":"Acme"}`}
	store := workspace.NewMemoryStore()
	require.NoError(t, workspace.Seed(context.Background(), store, workspace.DefaultSeed(testNow)))
	catalog := newCatalog(t, store)
	r := NewRouter(Deps{
		Classifier: NewLLMClassifier(chat, "", catalog, nil),
		Catalog:    catalog,
		Source:     StoreSource{Store: store},
		Clock:      ttl.NewManualClock(testNow),
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
	}, DefaultConfig())

	res := route(t, r, "delete client Acme", datatypes.AccumulatedContext{})

	assert.Equal(t, "delete_client", res.Plan.Tool)
	assert.True(t, res.Plan.RequiresConfirmation)
	assert.False(t, res.ReadyForExecution)
	assert.False(t, res.Plan.Preconfirmed())
}

func TestRoute_AmbiguousNameIsMultiMatch(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Show me Chen's portfolio", datatypes.AccumulatedContext{})

	assert.False(t, res.ReadyForExecution)
	assert.True(t, res.NeedsUserInput)
	assert.False(t, res.Plan.Executable())
	assert.Nil(t, res.Plan.ClarificationNeeded)
	require.NotNil(t, res.Plan.MultiMatch)
	mm := res.Plan.MultiMatch
	assert.Equal(t, datatypes.EntityClient, mm.EntityType)
	require.Len(t, mm.Matches, 2)
	assert.Equal(t, "David Chen", mm.Matches[0].DisplayName)
	assert.Equal(t, "Lisa Chen", mm.Matches[1].DisplayName)
	assert.Contains(t, res.UserPrompt, "Which one do you mean?")
}

func TestRoute_ResolvesByName(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Summarize Lisa Chen", datatypes.AccumulatedContext{})
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, "c-lchen", res.Plan.Arguments["client_id"])
}

func TestRoute_PronounUsesRecentEntity(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())
	acc := datatypes.AccumulatedContext{
		FocusedClientID: "c-acme",
		RecentEntities: []datatypes.RecentEntity{
			{ID: "t-review-acme", Type: datatypes.EntityTask, Name: "Quarterly review for Acme"},
			{ID: "c-dchen", Type: datatypes.EntityClient, Name: "David Chen"},
			{ID: "c-acme", Type: datatypes.EntityClient, Name: "Acme Holdings"},
		},
	}

	res := route(t, r, "summarize it", acc)
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, "c-dchen", res.Plan.Arguments["client_id"], "most recent client wins over focus")
}

func TestRoute_RequiredFallsBackToFocus(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "summarize the account", datatypes.AccumulatedContext{FocusedClientID: "c-mgarcia"})
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, "c-mgarcia", res.Plan.Arguments["client_id"])
	require.NotNil(t, res.Affected)
	assert.Equal(t, "Maria Garcia", res.Affected.Name)
}

func TestRoute_Clarification(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	t.Run("missing", func(t *testing.T) {
		res := route(t, r, "Summarize", datatypes.AccumulatedContext{})
		assert.True(t, res.NeedsUserInput)
		assert.Nil(t, res.Plan.MultiMatch)
		require.NotNil(t, res.Plan.ClarificationNeeded)
		assert.Equal(t, "client_id", res.Plan.ClarificationNeeded.Field)
		assert.Equal(t, "missing", res.Plan.ClarificationNeeded.Reason)
		assert.Equal(t, "Which client do you mean?", res.UserPrompt)
	})

	t.Run("no match", func(t *testing.T) {
		res := route(t, r, "Summarize Zebra Corp", datatypes.AccumulatedContext{})
		require.NotNil(t, res.Plan.ClarificationNeeded)
		assert.Equal(t, "not_found", res.Plan.ClarificationNeeded.Reason)
		assert.Contains(t, res.UserPrompt, `"zebra corp"`)
	})

	t.Run("required literal", func(t *testing.T) {
		res := route(t, r, "create a task", datatypes.AccumulatedContext{})
		require.NotNil(t, res.Plan.ClarificationNeeded)
		assert.Equal(t, "title", res.Plan.ClarificationNeeded.Field)
	})
}

func TestRoute_CreateTaskReadsArguments(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Create a task to call Maria Garcia tomorrow", datatypes.AccumulatedContext{})

	require.True(t, res.ReadyForExecution)
	args := res.Plan.Arguments
	assert.Equal(t, "Call Maria Garcia", args["title"])
	assert.Equal(t, "2025-03-04", args["due_date"])
	assert.Equal(t, "call", args["kind"])
	assert.Equal(t, "c-mgarcia", args["client_id"])
}

func TestRoute_CreateOpportunity(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Add a $50k opportunity for John Smith", datatypes.AccumulatedContext{})
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, 50000.0, res.Plan.Arguments["amount"])
	assert.Equal(t, "c-jsmith", res.Plan.Arguments["client_id"])
}

func TestRoute_BulkUpdateOfRecentTasks(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())
	acc := datatypes.AccumulatedContext{RecentEntities: []datatypes.RecentEntity{
		{ID: "t-review-acme", Type: datatypes.EntityTask},
		{ID: "c-acme", Type: datatypes.EntityClient, Name: "Acme Holdings"},
		{ID: "t-review-dchen", Type: datatypes.EntityTask},
	}}

	res := route(t, r, "mark them as completed", acc)

	assert.Equal(t, "bulk_update_tasks", res.Plan.Tool)
	assert.Equal(t, []string{"t-review-acme", "t-review-dchen"}, res.Plan.Arguments["task_ids"])
	assert.Equal(t, "completed", res.Plan.Arguments["set_status"])
	assert.NotContains(t, res.Plan.Arguments, "client_id")
	assert.True(t, res.Plan.RequiresConfirmation)
	assert.Contains(t, res.ConfirmationMessage, "set status to completed for 2 tasks")
}

func TestRoute_BulkUpdateByFilter(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Mark all pending reviews as completed", datatypes.AccumulatedContext{})

	assert.Equal(t, "pending", res.Plan.Arguments["status"])
	assert.Equal(t, "review", res.Plan.Arguments["kind"])
	assert.Equal(t, "completed", res.Plan.Arguments["set_status"])
	assert.Contains(t, res.ConfirmationMessage, "all pending review tasks")
}

func TestRoute_UpdateClientPhone(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "change Acme's phone to 555-123-4567", datatypes.AccumulatedContext{})
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, "update_client", res.Plan.Tool)
	assert.Equal(t, "c-acme", res.Plan.Arguments["client_id"])
	assert.Equal(t, "555-123-4567", res.Plan.Arguments["phone"])
}

func TestRoute_SendEmailConfirmation(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "Email John Smith about the portfolio review", datatypes.AccumulatedContext{})
	assert.True(t, res.Plan.RequiresConfirmation)
	assert.Equal(t, "c-jsmith", res.Plan.Arguments["client_id"])
	assert.Equal(t, "The portfolio review", res.Plan.Arguments["subject"])
	assert.Contains(t, res.ConfirmationMessage, `Send an email to John Smith with the subject "The portfolio review"?`)
}

func TestRoute_ExplicitID(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "task t-call-garcia details", datatypes.AccumulatedContext{})
	require.True(t, res.ReadyForExecution)
	assert.Equal(t, "get_task", res.Plan.Tool)
	assert.Equal(t, "t-call-garcia", res.Plan.Arguments["task_id"])
	require.NotNil(t, res.Affected)
	assert.Equal(t, "Call Maria Garcia about rebalancing", res.Affected.Name)
}

func TestRoute_SpecialIntents(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	res := route(t, r, "cancel", datatypes.AccumulatedContext{})
	assert.Equal(t, datatypes.IntentCancel, res.Plan.Intent)
	assert.Empty(t, res.Plan.Tool)
	assert.False(t, res.ReadyForExecution)
	assert.Equal(t, "There's nothing to cancel.", res.UserPrompt)

	res = route(t, r, "yes", datatypes.AccumulatedContext{})
	assert.Equal(t, datatypes.IntentConfirm, res.Plan.Intent)
	assert.False(t, res.ReadyForExecution)

	res = route(t, r, "undo", datatypes.AccumulatedContext{})
	assert.Equal(t, datatypes.IntentUndo, res.Plan.Intent)
	assert.True(t, res.ReadyForExecution)
}

func TestRoute_SpecialWordsInsideRequests(t *testing.T) {
	r, _ := newTestRouter(t, nil, DefaultConfig())

	tests := []struct {
		msg  string
		tool string
	}{
		{"cancel my review with Chen", ""},
		{"stop the Acme follow-up", ""},
		{"do it for Acme too", ""},
		{"no more calls with Garcia", ""},
		{"yes show me pending reviews", "list_tasks"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			res := route(t, r, tt.msg, datatypes.AccumulatedContext{})

			assert.False(t, res.Plan.Intent.IsSpecial(), "intent %s", res.Plan.Intent)
			assert.NotEqual(t, "There's nothing to cancel.", res.UserPrompt)
			assert.NotEqual(t, "There's nothing waiting for confirmation.", res.UserPrompt)
			if tt.tool != "" {
				assert.Equal(t, tt.tool, res.Plan.Tool)
			}
		})
	}
}

func TestRoute_UnknownToolFallsBack(t *testing.T) {
	r, _ := newTestRouter(t, stubClassifier{Classification{Tool: "launch_rocket", Confidence: 0.9}}, DefaultConfig())

	res := route(t, r, "launch the rocket", datatypes.AccumulatedContext{})
	assert.Equal(t, FallbackTool, res.Plan.Tool)
	assert.Equal(t, datatypes.IntentGeneral, res.Plan.Intent)
	assert.Equal(t, "launch the rocket", res.Plan.Arguments["message"])
	assert.True(t, res.ReadyForExecution)
}

func TestRoute_LowConfidence(t *testing.T) {
	low := stubClassifier{Classification{Tool: "list_tasks", Confidence: 0.3}}

	r, _ := newTestRouter(t, low, DefaultConfig())
	res := route(t, r, "stuff", datatypes.AccumulatedContext{})
	assert.Equal(t, datatypes.ConfidenceLow, res.Plan.ConfidenceLevel)
	assert.True(t, res.ReadyForExecution, "low confidence is informational by default")

	cfg := DefaultConfig()
	cfg.ClarifyLowConfidence = true
	r, _ = newTestRouter(t, low, cfg)
	res = route(t, r, "stuff", datatypes.AccumulatedContext{})
	assert.False(t, res.ReadyForExecution)
	require.NotNil(t, res.Plan.ClarificationNeeded)
	assert.Equal(t, "low_confidence", res.Plan.ClarificationNeeded.Reason)
}
