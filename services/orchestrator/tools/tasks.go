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
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

var (
	taskIDParam = datatypes.ToolParam{
		Name: "task_id", Type: datatypes.ParamString, Required: true,
		Entity: datatypes.EntityTask, Description: "The task to act on.",
	}
	clientRefParam = datatypes.ToolParam{
		Name: "client_id", Type: datatypes.ParamString,
		Entity: datatypes.EntityClient, Description: "Restrict to one client.",
	}
	statusParam = datatypes.ToolParam{
		Name: "status", Type: datatypes.ParamEnum, Enum: datatypes.TaskStatuses,
		Description: "Task status.",
	}
	kindParam = datatypes.ToolParam{
		Name: "kind", Type: datatypes.ParamEnum, Enum: datatypes.TaskKinds,
		Description: "Task kind.",
	}
	priorityParam = datatypes.ToolParam{
		Name: "priority", Type: datatypes.ParamEnum, Enum: datatypes.TaskPriorities,
		Description: "Task priority.",
	}
	dueDateParam = datatypes.ToolParam{
		Name: "due_date", Type: datatypes.ParamDate, Description: "Due date (YYYY-MM-DD).",
	}
)

// =============================================================================
// list_tasks
// =============================================================================

type listTasks struct{ store workspace.Store }

func (listTasks) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by status, kind, priority, client or due date.",
		Intent:      datatypes.IntentRead,
		EntityType:  datatypes.EntityTask,
		Params: []datatypes.ToolParam{
			statusParam, kindParam, priorityParam, clientRefParam,
			{Name: "due_before", Type: datatypes.ParamDate, Description: "Only tasks due before this date."},
			{Name: "limit", Type: datatypes.ParamNumber, Validate: "min=1,max=100", Description: "Maximum rows."},
		},
	}
}

func (t listTasks) Execute(ctx context.Context, call Call) (Outcome, error) {
	filter := workspace.TaskFilter{
		ClientID:  call.Args.String("client_id"),
		Status:    call.Args.String("status"),
		Kind:      call.Args.String("kind"),
		Priority:  call.Args.String("priority"),
		DueBefore: call.Args.Time("due_before"),
	}
	if n, ok := call.Args.Float("limit"); ok {
		filter.Limit = int(n)
	}

	tasks, err := t.store.ListTasks(ctx, filter)
	if err != nil {
		return Outcome{}, fmt.Errorf("list tasks: %w", err)
	}

	var refs []datatypes.EntityRef
	if filter.ClientID != "" {
		if c, err := t.store.GetClient(ctx, filter.ClientID); err == nil {
			refs = append(refs, c.Ref())
		}
	}
	for i, task := range tasks {
		if i == datatypes.MaxRecentEntities {
			break
		}
		refs = append(refs, task.Ref())
	}

	return Outcome{
		Data:     tasks,
		RenderAs: datatypes.RenderList,
		Message:  describeTaskList(len(tasks), filter),
		Entities: refs,
	}, nil
}

func describeTaskList(n int, f workspace.TaskFilter) string {
	var qualifiers []string
	if f.Status != "" {
		qualifiers = append(qualifiers, strings.ReplaceAll(f.Status, "_", " "))
	}
	if f.Priority != "" {
		qualifiers = append(qualifiers, f.Priority+"-priority")
	}
	if f.Kind != "" && f.Kind != datatypes.TaskKindGeneral {
		qualifiers = append(qualifiers, strings.ReplaceAll(f.Kind, "_", "-"))
	}
	noun := "task"
	if len(qualifiers) > 0 {
		noun = strings.Join(qualifiers, " ") + " " + noun
	}
	if n == 0 {
		return fmt.Sprintf("You have no %ss.", noun)
	}
	return fmt.Sprintf("You have %s.", plural(n, noun))
}

// =============================================================================
// get_task
// =============================================================================

type getTask struct{ store workspace.Store }

func (getTask) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "get_task",
		Description: "Show one task.",
		Intent:      datatypes.IntentRead,
		EntityType:  datatypes.EntityTask,
		Params:      []datatypes.ToolParam{taskIDParam},
	}
}

func (t getTask) Execute(ctx context.Context, call Call) (Outcome, error) {
	task, err := t.store.GetTask(ctx, call.Args.String("task_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("get task: %w", err)
	}
	return Outcome{
		Data:     task,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Here's %q.", task.Title),
		Entities: []datatypes.EntityRef{task.Ref()},
	}, nil
}

// =============================================================================
// create_task
// =============================================================================

type createTask struct{ store workspace.Store }

func (createTask) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "create_task",
		Description: "Create a task.",
		Intent:      datatypes.IntentCreate,
		EntityType:  datatypes.EntityTask,
		Params: []datatypes.ToolParam{
			{Name: "title", Type: datatypes.ParamString, Required: true, Validate: "max=200", Description: "What needs doing."},
			clientRefParam,
			withDefault(kindParam, datatypes.TaskKindGeneral),
			withDefault(priorityParam, "normal"),
			dueDateParam,
		},
		Mutating: true,
		Undoable: true,
	}
}

func (t createTask) Execute(ctx context.Context, call Call) (Outcome, error) {
	task := datatypes.Task{
		ID:       newEntityID("t"),
		Title:    call.Args.String("title"),
		ClientID: call.Args.String("client_id"),
		Kind:     call.Args.String("kind"),
		Status:   datatypes.TaskStatusPending,
		Priority: call.Args.String("priority"),
		DueDate:  call.Args.Time("due_date"),
	}
	if task.ClientID != "" {
		if _, err := t.store.GetClient(ctx, task.ClientID); err != nil {
			return Outcome{}, fmt.Errorf("client for new task: %w", err)
		}
	}
	if err := t.store.SaveTask(ctx, task); err != nil {
		return Outcome{}, fmt.Errorf("create task: %w", err)
	}
	saved, err := t.store.GetTask(ctx, task.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload task: %w", err)
	}

	return Outcome{
		Data:     saved,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Created task %q.", saved.Title),
		Entities: []datatypes.EntityRef{saved.Ref()},
		Undo: &Reversal{
			Description: fmt.Sprintf("create task %q", saved.Title),
			Revert: func(ctx context.Context) error {
				return t.store.DeleteTask(ctx, saved.ID)
			},
		},
	}, nil
}

// =============================================================================
// update_task
// =============================================================================

type updateTask struct{ store workspace.Store }

func (updateTask) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "update_task",
		Description: "Change a task's title, status, kind, priority or due date.",
		Intent:      datatypes.IntentUpdate,
		EntityType:  datatypes.EntityTask,
		Params: []datatypes.ToolParam{
			taskIDParam,
			{Name: "title", Type: datatypes.ParamString, Validate: "max=200", Description: "New title."},
			statusParam, kindParam, priorityParam, dueDateParam,
		},
		Mutating: true,
		Undoable: true,
	}
}

func (t updateTask) Execute(ctx context.Context, call Call) (Outcome, error) {
	before, err := t.store.GetTask(ctx, call.Args.String("task_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("update task: %w", err)
	}

	after := before
	changed := false
	for name, dst := range map[string]*string{
		"title":    &after.Title,
		"status":   &after.Status,
		"kind":     &after.Kind,
		"priority": &after.Priority,
	} {
		if v := call.Args.String(name); v != "" && v != *dst {
			*dst, changed = v, true
		}
	}
	if due := call.Args.Time("due_date"); due != nil {
		after.DueDate, changed = due, true
	}
	if !changed {
		return Outcome{}, fmt.Errorf("%w: tell me what to change on %q", ErrInvalidArgument, before.Title)
	}

	if err := t.store.SaveTask(ctx, after); err != nil {
		return Outcome{}, fmt.Errorf("update task: %w", err)
	}
	return Outcome{
		Data:     after,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Updated %q.", after.Title),
		Entities: []datatypes.EntityRef{after.Ref()},
		Undo:     restoreTask(t.store, before, fmt.Sprintf("update task %q", before.Title)),
	}, nil
}

// =============================================================================
// complete_task
// =============================================================================

type completeTask struct{ store workspace.Store }

func (completeTask) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "complete_task",
		Description: "Mark a task as completed.",
		Intent:      datatypes.IntentUpdate,
		EntityType:  datatypes.EntityTask,
		Params:      []datatypes.ToolParam{taskIDParam},
		Mutating:    true,
		Undoable:    true,
	}
}

func (t completeTask) Execute(ctx context.Context, call Call) (Outcome, error) {
	before, err := t.store.GetTask(ctx, call.Args.String("task_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("complete task: %w", err)
	}
	if before.Status == datatypes.TaskStatusCompleted {
		return Outcome{
			Data:     before,
			RenderAs: datatypes.RenderCard,
			Message:  fmt.Sprintf("%q was already completed.", before.Title),
			Entities: []datatypes.EntityRef{before.Ref()},
		}, nil
	}

	after := before
	after.Status = datatypes.TaskStatusCompleted
	if err := t.store.SaveTask(ctx, after); err != nil {
		return Outcome{}, fmt.Errorf("complete task: %w", err)
	}
	return Outcome{
		Data:     after,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Marked %q as completed.", after.Title),
		Entities: []datatypes.EntityRef{after.Ref()},
		Undo:     restoreTask(t.store, before, fmt.Sprintf("complete task %q", before.Title)),
	}, nil
}

// =============================================================================
// delete_task
// =============================================================================

type deleteTask struct{ store workspace.Store }

func (deleteTask) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:                 "delete_task",
		Description:          "Delete a task.",
		Intent:               datatypes.IntentDelete,
		EntityType:           datatypes.EntityTask,
		Params:               []datatypes.ToolParam{taskIDParam},
		Mutating:             true,
		RequiresConfirmation: true,
		Undoable:             true,
	}
}

func (t deleteTask) Execute(ctx context.Context, call Call) (Outcome, error) {
	before, err := t.store.GetTask(ctx, call.Args.String("task_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("delete task: %w", err)
	}
	if err := t.store.DeleteTask(ctx, before.ID); err != nil {
		return Outcome{}, fmt.Errorf("delete task: %w", err)
	}
	return Outcome{
		Data:     before,
		RenderAs: datatypes.RenderText,
		Message:  fmt.Sprintf("Deleted task %q.", before.Title),
		Removed:  []datatypes.EntityRef{before.Ref()},
		Undo:     restoreTask(t.store, before, fmt.Sprintf("delete task %q", before.Title)),
	}, nil
}

// =============================================================================
// bulk_update_tasks
// =============================================================================

type bulkUpdateTasks struct{ store workspace.Store }

func (bulkUpdateTasks) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "bulk_update_tasks",
		Description: "Change the status or priority of several tasks at once.",
		Intent:      datatypes.IntentUpdate,
		EntityType:  datatypes.EntityTask,
		Params: []datatypes.ToolParam{
			{Name: "task_ids", Type: datatypes.ParamList, Validate: "max=100", Description: "Explicit task ids."},
			clientRefParam,
			{Name: "status", Type: datatypes.ParamEnum, Enum: datatypes.TaskStatuses, Description: "Only tasks currently in this status."},
			kindParam,
			{Name: "set_status", Type: datatypes.ParamEnum, Enum: datatypes.TaskStatuses, Description: "New status."},
			{Name: "set_priority", Type: datatypes.ParamEnum, Enum: datatypes.TaskPriorities, Description: "New priority."},
		},
		Mutating:             true,
		RequiresConfirmation: true,
		Undoable:             true,
	}
}

func (t bulkUpdateTasks) Execute(ctx context.Context, call Call) (Outcome, error) {
	setStatus, setPriority := call.Args.String("set_status"), call.Args.String("set_priority")
	if setStatus == "" && setPriority == "" {
		return Outcome{}, fmt.Errorf("%w: tell me the new status or priority", ErrInvalidArgument)
	}

	targets, err := t.targets(ctx, call.Args)
	if err != nil {
		return Outcome{}, err
	}
	if len(targets) == 0 {
		return Outcome{Data: []datatypes.Task{}, RenderAs: datatypes.RenderText, Message: "No tasks matched, so nothing changed."}, nil
	}

	updated := make([]datatypes.Task, 0, len(targets))
	refs := make([]datatypes.EntityRef, 0, len(targets))
	for _, before := range targets {
		after := before
		if setStatus != "" {
			after.Status = setStatus
		}
		if setPriority != "" {
			after.Priority = setPriority
		}
		if err := t.store.SaveTask(ctx, after); err != nil {
			// Roll back what was written so the bulk change is all or nothing.
			_ = restoreTasks(ctx, t.store, targets[:len(updated)])
			return Outcome{}, fmt.Errorf("bulk update task %s: %w", before.ID, err)
		}
		updated = append(updated, after)
		if len(refs) < datatypes.MaxRecentEntities {
			refs = append(refs, after.Ref())
		}
	}

	snapshot := append([]datatypes.Task(nil), targets...)
	return Outcome{
		Data:     updated,
		RenderAs: datatypes.RenderList,
		Message:  fmt.Sprintf("Updated %s.", plural(len(updated), "task")),
		Entities: refs,
		Undo: &Reversal{
			Description: fmt.Sprintf("bulk update of %s", plural(len(snapshot), "task")),
			Revert: func(ctx context.Context) error {
				return restoreTasks(ctx, t.store, snapshot)
			},
		},
	}, nil
}

func (t bulkUpdateTasks) targets(ctx context.Context, args Args) ([]datatypes.Task, error) {
	if ids := args.Strings("task_ids"); len(ids) > 0 {
		out := make([]datatypes.Task, 0, len(ids))
		for _, id := range ids {
			task, err := t.store.GetTask(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("bulk update task %s: %w", id, err)
			}
			out = append(out, task)
		}
		return out, nil
	}

	filter := workspace.TaskFilter{
		ClientID: args.String("client_id"),
		Status:   args.String("status"),
		Kind:     args.String("kind"),
	}
	if filter == (workspace.TaskFilter{}) {
		return nil, fmt.Errorf("%w: tell me which tasks to update", ErrInvalidArgument)
	}
	tasks, err := t.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("bulk update: %w", err)
	}
	return tasks, nil
}

// =============================================================================
// Helpers
// =============================================================================

func restoreTask(store workspace.Store, snapshot datatypes.Task, description string) *Reversal {
	return &Reversal{
		Description: description,
		Revert: func(ctx context.Context) error {
			return store.SaveTask(ctx, snapshot)
		},
	}
}

func restoreTasks(ctx context.Context, store workspace.Store, snapshot []datatypes.Task) error {
	for _, task := range snapshot {
		if err := store.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("restore task %s: %w", task.ID, err)
		}
	}
	return nil
}

func withDefault(p datatypes.ToolParam, def any) datatypes.ToolParam {
	p.Default = def
	return p
}

func newEntityID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		return fmt.Sprintf("%d %sies", n, strings.TrimSuffix(noun, "y"))
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
