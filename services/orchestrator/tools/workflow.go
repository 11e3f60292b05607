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
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

// DefaultFollowUpDelay is used when schedule_followup gets no date.
const DefaultFollowUpDelay = 7 * 24 * time.Hour

// =============================================================================
// Mailer
// =============================================================================

// Email is an outbound client message.
type Email struct {
	ClientID string `json:"clientId"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// Mailer delivers client email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer records outbound email in the service log instead of sending it.
type LogMailer struct{}

// Send logs the envelope. The body is only logged at debug level.
func (LogMailer) Send(_ context.Context, email Email) error {
	slog.Info("client email queued", "client_id", email.ClientID, "subject", email.Subject)
	slog.Debug("client email body", "client_id", email.ClientID, "body", email.Body)
	return nil
}

// =============================================================================
// schedule_followup
// =============================================================================

type scheduleFollowUp struct {
	store workspace.Store
	clock ttl.Clock
}

func (scheduleFollowUp) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "schedule_followup",
		Description: "Schedule a follow-up task for a client.",
		Intent:      datatypes.IntentAutomation,
		EntityType:  datatypes.EntityClient,
		Params: []datatypes.ToolParam{
			clientIDParam,
			{Name: "due_date", Type: datatypes.ParamDate, Description: "When to follow up. Defaults to one week out."},
			{Name: "title", Type: datatypes.ParamString, Validate: "max=200", Description: "Task title."},
		},
		Mutating: true,
		Undoable: true,
	}
}

func (t scheduleFollowUp) Execute(ctx context.Context, call Call) (Outcome, error) {
	client, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("schedule follow-up: %w", err)
	}

	due := call.Args.Time("due_date")
	if due == nil {
		d := t.clock.Now().Add(DefaultFollowUpDelay).Truncate(24 * time.Hour)
		due = &d
	}
	title := call.Args.String("title")
	if title == "" {
		title = "Follow up with " + client.Name
	}

	task := datatypes.Task{
		ID:       newEntityID("t"),
		Title:    title,
		ClientID: client.ID,
		Kind:     datatypes.TaskKindFollowUp,
		Status:   datatypes.TaskStatusPending,
		Priority: "normal",
		DueDate:  due,
	}
	if err := t.store.SaveTask(ctx, task); err != nil {
		return Outcome{}, fmt.Errorf("schedule follow-up: %w", err)
	}

	return Outcome{
		Data:     task,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Scheduled a follow-up with %s for %s.", client.Name, due.Format("Mon Jan 2")),
		Entities: []datatypes.EntityRef{client.Ref(), task.Ref()},
		Undo: &Reversal{
			Description: fmt.Sprintf("follow-up with %s", client.Name),
			Revert: func(ctx context.Context) error {
				return t.store.DeleteTask(ctx, task.ID)
			},
		},
	}, nil
}

// =============================================================================
// help and general
// =============================================================================

var helpExamples = map[string]string{
	"list_tasks":         "Show me pending reviews",
	"get_task":           "Open the Acme review task",
	"create_task":        "Create a task to call Maria Garcia tomorrow",
	"update_task":        "Set the Acme review to high priority",
	"complete_task":      "Mark the Garcia call as done",
	"delete_task":        "Delete the follow up with John Smith",
	"bulk_update_tasks":  "Mark all pending review tasks as completed",
	"search_clients":     "Find clients named Chen",
	"get_client":         "Show Lisa Chen's profile",
	"update_client":      "Update Acme's phone to 555-0100",
	"delete_client":      "Delete client Acme",
	"summarize_client":   "Summarize Northwind",
	"list_opportunities": "Show opportunities in negotiation",
	"create_opportunity": "Add a $50k opportunity for John Smith",
	"pipeline_report":    "How does my pipeline look?",
	"export_clients":     "Export my clients as csv",
	"send_client_email":  "Email David Chen about his review",
	"schedule_followup":  "Schedule a follow up with Maria Garcia next week",
}

type help struct{ registry *Registry }

func (help) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "help",
		Description: "Explain what I can do.",
		Intent:      datatypes.IntentHelp,
		Params: []datatypes.ToolParam{
			{Name: "topic", Type: datatypes.ParamString, Description: "A tool name to explain."},
		},
	}
}

func (t help) Execute(_ context.Context, call Call) (Outcome, error) {
	topic := call.Args.String("topic")
	var topics []datatypes.HelpTopic
	for _, spec := range t.registry.Specs() {
		example, ok := helpExamples[spec.Name]
		if !ok {
			continue
		}
		if topic != "" && topic != spec.Name {
			continue
		}
		topics = append(topics, datatypes.HelpTopic{Tool: spec.Name, Description: spec.Description, Example: example})
	}
	if topic != "" && len(topics) == 0 {
		return Outcome{}, fmt.Errorf("%w: no help for %q", ErrInvalidArgument, topic)
	}
	return Outcome{
		Data:     topics,
		RenderAs: datatypes.RenderList,
		Message:  "I can work with your tasks, clients and opportunities. Here are some things to try.",
	}, nil
}

type general struct{}

func (general) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "general",
		Description: "Answer messages that don't map to a tool.",
		Intent:      datatypes.IntentGeneral,
		Params: []datatypes.ToolParam{
			{Name: "message", Type: datatypes.ParamString, Description: "The original message."},
		},
	}
}

func (general) Execute(_ context.Context, _ Call) (Outcome, error) {
	return Outcome{
		RenderAs: datatypes.RenderText,
		Message:  "I'm not sure how to help with that yet. Try \"show my pending tasks\" or ask for help.",
	}, nil
}

// =============================================================================
// Registration
// =============================================================================

// Deps are the collaborators the built-in tools need.
type Deps struct {
	Store  workspace.Store
	Mailer Mailer
	Clock  ttl.Clock
}

// RegisterDefaults registers every built-in tool in reg.
func RegisterDefaults(reg *Registry, deps Deps) error {
	if deps.Store == nil {
		return fmt.Errorf("register tools: store is required")
	}
	if deps.Mailer == nil {
		deps.Mailer = LogMailer{}
	}
	if deps.Clock == nil {
		deps.Clock = ttl.NewSystemClock()
	}

	s := deps.Store
	handlers := []Handler{
		listTasks{s}, getTask{s}, createTask{s}, updateTask{s},
		completeTask{s}, deleteTask{s}, bulkUpdateTasks{s},
		searchClients{s}, getClient{s}, updateClient{s}, deleteClient{s},
		summarizeClient{s}, exportClients{store: s, clock: deps.Clock},
		sendClientEmail{store: s, mailer: deps.Mailer},
		listOpportunities{s}, createOpportunity{s},
		pipelineReport{store: s, clock: deps.Clock},
		scheduleFollowUp{store: s, clock: deps.Clock},
		help{registry: reg}, general{},
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
