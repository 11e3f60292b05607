// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

func TestListTasks_PendingReviews(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("list_tasks", map[string]any{
		"status": "pending",
		"kind":   "review",
	}))

	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, datatypes.RenderList, res.RenderAs)
	tasks := res.Data.([]datatypes.Task)
	require.Len(t, tasks, 2)
	assert.Equal(t, "You have 2 pending review tasks.", res.Message)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, datatypes.EntityTask, res.Entities[0].Type)
}

func TestUpdateTask_RequiresAChange(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})
	ctx := context.Background()

	res := f.exec.Execute(ctx, "s1", plan("update_task", map[string]any{"task_id": "t-review-acme"}))
	assert.False(t, res.Success)
	assert.Equal(t, datatypes.ToolErrValidation, res.Error.Code)

	res = f.exec.Execute(ctx, "s1", plan("update_task", map[string]any{
		"task_id":  "t-review-acme",
		"priority": "low",
		"due_date": "2025-03-20",
	}))
	require.True(t, res.Success, res.ErrorMessage())
	task, err := f.store.GetTask(ctx, "t-review-acme")
	require.NoError(t, err)
	assert.Equal(t, "low", task.Priority)
	assert.Equal(t, "2025-03-20", task.DueDate.Format(DateLayout))

	require.True(t, f.exec.Undo(ctx, "s1").Success)
	task, err = f.store.GetTask(ctx, "t-review-acme")
	require.NoError(t, err)
	assert.Equal(t, "high", task.Priority)
}

func TestCompleteTask_AlreadyCompletedIsNotUndoable(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("complete_task", map[string]any{"task_id": "t-review-northwind"}))

	require.True(t, res.Success)
	assert.Contains(t, res.Message, "already completed")
	assert.False(t, res.Undoable)
}

func TestBulkUpdateTasks_ByFilterAndUndo(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})
	ctx := context.Background()

	res := f.exec.Execute(ctx, "s1", plan("bulk_update_tasks", map[string]any{
		"status":     "pending",
		"kind":       "review",
		"set_status": "completed",
	}).WithPreconfirmed())
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, "Updated 2 tasks.", res.Message)

	open, err := f.store.ListTasks(ctx, workspace.TaskFilter{Kind: datatypes.TaskKindReview, Status: datatypes.TaskStatusPending})
	require.NoError(t, err)
	assert.Empty(t, open)

	require.True(t, f.exec.Undo(ctx, "s1").Success)
	open, err = f.store.ListTasks(ctx, workspace.TaskFilter{Kind: datatypes.TaskKindReview, Status: datatypes.TaskStatusPending})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestBulkUpdateTasks_NeedsTargetsAndChange(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})
	ctx := context.Background()

	res := f.exec.Execute(ctx, "s1", plan("bulk_update_tasks", map[string]any{"status": "pending"}).WithPreconfirmed())
	assert.Equal(t, datatypes.ToolErrValidation, res.Error.Code)

	res = f.exec.Execute(ctx, "s1", plan("bulk_update_tasks", map[string]any{"set_status": "completed"}).WithPreconfirmed())
	assert.Equal(t, datatypes.ToolErrValidation, res.Error.Code)

	res = f.exec.Execute(ctx, "s1", plan("bulk_update_tasks", map[string]any{
		"task_ids":   []any{"t-call-garcia", "t-missing"},
		"set_status": "completed",
	}).WithPreconfirmed())
	assert.Equal(t, datatypes.ToolErrNotFound, res.Error.Code)

	task, err := f.store.GetTask(ctx, "t-call-garcia")
	require.NoError(t, err)
	assert.Equal(t, datatypes.TaskStatusPending, task.Status)
}

func TestDeleteClient_CascadesAndUndoRestores(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})
	ctx := context.Background()

	res := f.exec.Execute(ctx, "s1", plan("delete_client", map[string]any{"client_id": "c-acme"}).WithPreconfirmed())
	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, "Deleted Acme Holdings along with 1 task and 1 opportunity.", res.Message)
	require.Len(t, res.Removed, 3)
	assert.Equal(t, datatypes.EntityClient, res.Removed[0].Type)

	_, err := f.store.GetClient(ctx, "c-acme")
	assert.ErrorIs(t, err, workspace.ErrNotFound)
	_, err = f.store.GetTask(ctx, "t-review-acme")
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	undo := f.exec.Undo(ctx, "s1")
	require.True(t, undo.Success, undo.ErrorMessage())
	_, err = f.store.GetClient(ctx, "c-acme")
	assert.NoError(t, err)
	_, err = f.store.GetTask(ctx, "t-review-acme")
	assert.NoError(t, err)
	_, err = f.store.GetOpportunity(ctx, "o-acme-treasury")
	assert.NoError(t, err)
}

func TestUpdateClient_ValidatesEmail(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("update_client", map[string]any{
		"client_id": "c-dchen",
		"email":     "not-an-email",
	}))

	assert.False(t, res.Success)
	assert.Equal(t, datatypes.ToolErrValidation, res.Error.Code)
}

func TestSummarizeClient(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("summarize_client", map[string]any{"client_id": "c-dchen"}))

	require.True(t, res.Success, res.ErrorMessage())
	summary := res.Data.(datatypes.ClientSummary)
	assert.Len(t, summary.OpenTasks, 1)
	assert.Equal(t, 250000.0, summary.PipelineValue)
	assert.Equal(t, "David Chen has 1 open task and $250,000 in the pipeline.", res.Message)
}

func TestExportClients_CSV(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("export_clients", map[string]any{"segment": "private"}))

	require.True(t, res.Success, res.ErrorMessage())
	export := res.Data.(datatypes.Export)
	assert.Equal(t, "csv", export.Format)
	assert.Equal(t, "clients-20250303.csv", export.Filename)
	assert.Equal(t, 3, export.Rows)

	rows, err := csv.NewReader(strings.NewReader(export.Content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "name", rows[0][1])
	assert.Equal(t, "David Chen", rows[1][1])
}

func TestSendClientEmail(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("send_client_email", map[string]any{
		"client_id": "c-lchen",
		"subject":   "Estate planning",
	}).WithPreconfirmed())

	require.True(t, res.Success, res.ErrorMessage())
	assert.False(t, res.Undoable)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "lisa.chen@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "Estate planning", f.mailer.sent[0].Subject)
	assert.Contains(t, f.mailer.sent[0].Body, "Lisa Chen")
}

func TestPipelineReport(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("pipeline_report", nil))

	require.True(t, res.Success, res.ErrorMessage())
	report := res.Data.(datatypes.PipelineReport)
	assert.Equal(t, 3, report.OpenCount)
	assert.Equal(t, 5370000.0, report.OpenValue)
	assert.Equal(t, 8000000.0, report.WonValue)
	require.Len(t, report.Stages, len(datatypes.OpportunityStages))
	assert.Equal(t, "3 opportunities open worth $5,370,000; $8,000,000 won.", res.Message)
}

func TestScheduleFollowUp_DefaultsToNextWeek(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})
	ctx := context.Background()

	res := f.exec.Execute(ctx, "s1", plan("schedule_followup", map[string]any{"client_id": "c-mgarcia"}))

	require.True(t, res.Success, res.ErrorMessage())
	task := res.Data.(datatypes.Task)
	assert.Equal(t, datatypes.TaskKindFollowUp, task.Kind)
	assert.Equal(t, "Follow up with Maria Garcia", task.Title)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, testStart.Add(7*24*time.Hour).Truncate(24*time.Hour), *task.DueDate)
	assert.Equal(t, datatypes.EntityClient, res.Entities[0].Type)

	require.True(t, f.exec.Undo(ctx, "s1").Success)
	_, err := f.store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestHelp(t *testing.T) {
	f := newFixture(t, ExecutorConfig{})

	res := f.exec.Execute(context.Background(), "s1", plan("help", nil))
	require.True(t, res.Success)
	topics := res.Data.([]datatypes.HelpTopic)
	assert.Len(t, topics, len(helpExamples))

	res = f.exec.Execute(context.Background(), "s1", plan("help", map[string]any{"topic": "list_tasks"}))
	require.True(t, res.Success)
	assert.Len(t, res.Data.([]datatypes.HelpTopic), 1)

	res = f.exec.Execute(context.Background(), "s1", plan("help", map[string]any{"topic": "juggling"}))
	assert.False(t, res.Success)
}

func TestFormatMoney(t *testing.T) {
	tests := map[float64]string{
		0:        "$0",
		999:      "$999",
		1000:     "$1,000",
		1234567:  "$1,234,567",
		-2500.4:  "-$2,500",
		12500000: "$12,500,000",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatMoney(in), "%v", in)
	}
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "1 task", plural(1, "task"))
	assert.Equal(t, "0 tasks", plural(0, "task"))
	assert.Equal(t, "3 opportunities", plural(3, "opportunity"))
}
