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
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

var clientIDParam = datatypes.ToolParam{
	Name: "client_id", Type: datatypes.ParamString, Required: true,
	Entity: datatypes.EntityClient, Description: "The client to act on.",
}

// =============================================================================
// search_clients
// =============================================================================

type searchClients struct{ store workspace.Store }

func (searchClients) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "search_clients",
		Description: "Search clients by name, company or email.",
		Intent:      datatypes.IntentSearch,
		EntityType:  datatypes.EntityClient,
		Params: []datatypes.ToolParam{
			{Name: "query", Type: datatypes.ParamString, Description: "Text to look for."},
			{Name: "segment", Type: datatypes.ParamString, Description: "Client segment."},
			{Name: "status", Type: datatypes.ParamString, Description: "Client status."},
		},
	}
}

func (t searchClients) Execute(ctx context.Context, call Call) (Outcome, error) {
	clients, err := t.store.ListClients(ctx, workspace.ClientFilter{
		Query:   call.Args.String("query"),
		Segment: call.Args.String("segment"),
		Status:  call.Args.String("status"),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("search clients: %w", err)
	}

	refs := make([]datatypes.EntityRef, 0, min(len(clients), datatypes.MaxRecentEntities))
	for i, c := range clients {
		if i == datatypes.MaxRecentEntities {
			break
		}
		refs = append(refs, c.Ref())
	}
	msg := fmt.Sprintf("Found %s.", plural(len(clients), "client"))
	if len(clients) == 0 {
		msg = "No clients matched."
	}
	return Outcome{Data: clients, RenderAs: datatypes.RenderList, Message: msg, Entities: refs}, nil
}

// =============================================================================
// get_client
// =============================================================================

type getClient struct{ store workspace.Store }

func (getClient) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "get_client",
		Description: "Show a client's profile.",
		Intent:      datatypes.IntentRead,
		EntityType:  datatypes.EntityClient,
		Params:      []datatypes.ToolParam{clientIDParam},
	}
}

func (t getClient) Execute(ctx context.Context, call Call) (Outcome, error) {
	c, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("get client: %w", err)
	}
	return Outcome{
		Data:     c,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Here's %s.", c.Name),
		Entities: []datatypes.EntityRef{c.Ref()},
	}, nil
}

// =============================================================================
// update_client
// =============================================================================

type updateClient struct{ store workspace.Store }

func (updateClient) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "update_client",
		Description: "Change a client's contact details, segment, status or notes.",
		Intent:      datatypes.IntentUpdate,
		EntityType:  datatypes.EntityClient,
		Params: []datatypes.ToolParam{
			clientIDParam,
			{Name: "email", Type: datatypes.ParamString, Validate: "email", Description: "New email address."},
			{Name: "phone", Type: datatypes.ParamString, Validate: "max=32", Description: "New phone number."},
			{Name: "segment", Type: datatypes.ParamString, Description: "New segment."},
			{Name: "status", Type: datatypes.ParamString, Description: "New status."},
			{Name: "notes", Type: datatypes.ParamString, Validate: "max=2000", Description: "Replacement notes."},
		},
		Mutating: true,
		Undoable: true,
	}
}

func (t updateClient) Execute(ctx context.Context, call Call) (Outcome, error) {
	before, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("update client: %w", err)
	}

	after := before
	changed := false
	for name, dst := range map[string]*string{
		"email":   &after.Email,
		"phone":   &after.Phone,
		"segment": &after.Segment,
		"status":  &after.Status,
		"notes":   &after.Notes,
	} {
		if v := call.Args.String(name); v != "" && v != *dst {
			*dst, changed = v, true
		}
	}
	if !changed {
		return Outcome{}, fmt.Errorf("%w: tell me what to change for %s", ErrInvalidArgument, before.Name)
	}

	if err := t.store.SaveClient(ctx, after); err != nil {
		return Outcome{}, fmt.Errorf("update client: %w", err)
	}
	return Outcome{
		Data:     after,
		RenderAs: datatypes.RenderCard,
		Message:  fmt.Sprintf("Updated %s.", after.Name),
		Entities: []datatypes.EntityRef{after.Ref()},
		Undo: &Reversal{
			Description: fmt.Sprintf("update client %s", before.Name),
			Revert: func(ctx context.Context) error {
				return t.store.SaveClient(ctx, before)
			},
		},
	}, nil
}

// =============================================================================
// delete_client
// =============================================================================

type deleteClient struct{ store workspace.Store }

func (deleteClient) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:                 "delete_client",
		Description:          "Delete a client together with their tasks and opportunities.",
		Intent:               datatypes.IntentDelete,
		EntityType:           datatypes.EntityClient,
		Params:               []datatypes.ToolParam{clientIDParam},
		Mutating:             true,
		RequiresConfirmation: true,
		Undoable:             true,
	}
}

func (t deleteClient) Execute(ctx context.Context, call Call) (Outcome, error) {
	client, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("delete client: %w", err)
	}
	tasks, err := t.store.ListTasks(ctx, workspace.TaskFilter{ClientID: client.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("delete client tasks: %w", err)
	}
	opps, err := t.store.ListOpportunities(ctx, workspace.OpportunityFilter{ClientID: client.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("delete client opportunities: %w", err)
	}

	removed := []datatypes.EntityRef{client.Ref()}
	for _, task := range tasks {
		if err := t.store.DeleteTask(ctx, task.ID); err != nil {
			return Outcome{}, fmt.Errorf("delete client task %s: %w", task.ID, err)
		}
		removed = append(removed, task.Ref())
	}
	for _, o := range opps {
		if err := t.store.DeleteOpportunity(ctx, o.ID); err != nil {
			return Outcome{}, fmt.Errorf("delete client opportunity %s: %w", o.ID, err)
		}
		removed = append(removed, o.Ref())
	}
	if err := t.store.DeleteClient(ctx, client.ID); err != nil {
		return Outcome{}, fmt.Errorf("delete client: %w", err)
	}

	msg := fmt.Sprintf("Deleted %s.", client.Name)
	if n := len(tasks) + len(opps); n > 0 {
		msg = fmt.Sprintf("Deleted %s along with %s and %s.",
			client.Name, plural(len(tasks), "task"), plural(len(opps), "opportunity"))
	}
	return Outcome{
		Data:     client,
		RenderAs: datatypes.RenderText,
		Message:  msg,
		Removed:  removed,
		Undo: &Reversal{
			Description: fmt.Sprintf("delete client %s", client.Name),
			Revert: func(ctx context.Context) error {
				if err := t.store.SaveClient(ctx, client); err != nil {
					return fmt.Errorf("restore client: %w", err)
				}
				if err := restoreTasks(ctx, t.store, tasks); err != nil {
					return err
				}
				for _, o := range opps {
					if err := t.store.SaveOpportunity(ctx, o); err != nil {
						return fmt.Errorf("restore opportunity %s: %w", o.ID, err)
					}
				}
				return nil
			},
		},
	}, nil
}

// =============================================================================
// summarize_client
// =============================================================================

type summarizeClient struct{ store workspace.Store }

func (summarizeClient) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "summarize_client",
		Description: "Summarize a client's open work and pipeline.",
		Intent:      datatypes.IntentSummarize,
		EntityType:  datatypes.EntityClient,
		Params:      []datatypes.ToolParam{clientIDParam},
	}
}

func (t summarizeClient) Execute(ctx context.Context, call Call) (Outcome, error) {
	client, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("summarize client: %w", err)
	}
	tasks, err := t.store.ListTasks(ctx, workspace.TaskFilter{ClientID: client.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("summarize client tasks: %w", err)
	}
	opps, err := t.store.ListOpportunities(ctx, workspace.OpportunityFilter{ClientID: client.ID})
	if err != nil {
		return Outcome{}, fmt.Errorf("summarize client opportunities: %w", err)
	}

	summary := datatypes.ClientSummary{Client: client, OpenTasks: []datatypes.Task{}, Opportunities: opps}
	for _, task := range tasks {
		if task.Status != datatypes.TaskStatusCompleted {
			summary.OpenTasks = append(summary.OpenTasks, task)
		}
	}
	for _, o := range opps {
		if isOpenStage(o.Stage) {
			summary.PipelineValue += o.Amount
		}
	}

	return Outcome{
		Data:     summary,
		RenderAs: datatypes.RenderReport,
		Message: fmt.Sprintf("%s has %s and %s in the pipeline.",
			client.Name, plural(len(summary.OpenTasks), "open task"), FormatMoney(summary.PipelineValue)),
		Entities: []datatypes.EntityRef{client.Ref()},
	}, nil
}

// =============================================================================
// export_clients
// =============================================================================

type exportClients struct {
	store workspace.Store
	clock ttl.Clock
}

func (exportClients) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "export_clients",
		Description: "Export the client list as CSV or JSON.",
		Intent:      datatypes.IntentExport,
		EntityType:  datatypes.EntityClient,
		Params: []datatypes.ToolParam{
			{Name: "format", Type: datatypes.ParamEnum, Enum: []string{"csv", "json"}, Default: "csv", Description: "Output format."},
			{Name: "segment", Type: datatypes.ParamString, Description: "Only this segment."},
		},
	}
}

func (t exportClients) Execute(ctx context.Context, call Call) (Outcome, error) {
	clients, err := t.store.ListClients(ctx, workspace.ClientFilter{Segment: call.Args.String("segment")})
	if err != nil {
		return Outcome{}, fmt.Errorf("export clients: %w", err)
	}

	format := call.Args.String("format")
	var content []byte
	switch format {
	case "json":
		content, err = json.MarshalIndent(clients, "", "  ")
	default:
		content, err = clientsCSV(clients)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("export clients as %s: %w", format, err)
	}

	export := datatypes.Export{
		Format:   format,
		Filename: fmt.Sprintf("clients-%s.%s", t.clock.Now().Format("20060102"), format),
		Rows:     len(clients),
		Content:  string(content),
	}
	return Outcome{
		Data:     export,
		RenderAs: datatypes.RenderText,
		Message:  fmt.Sprintf("Exported %s to %s.", plural(len(clients), "client"), export.Filename),
	}, nil
}

func clientsCSV(clients []datatypes.Client) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "name", "email", "phone", "company", "segment", "status", "aum"})
	for _, c := range clients {
		_ = w.Write([]string{
			c.ID, c.Name, c.Email, c.Phone, c.Company, c.Segment, c.Status,
			strconv.FormatFloat(c.AUM, 'f', 2, 64),
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// =============================================================================
// send_client_email
// =============================================================================

type sendClientEmail struct {
	store  workspace.Store
	mailer Mailer
}

func (sendClientEmail) Spec() datatypes.ToolSpec {
	return datatypes.ToolSpec{
		Name:        "send_client_email",
		Description: "Send an email to a client.",
		Intent:      datatypes.IntentWorkflow,
		EntityType:  datatypes.EntityClient,
		Params: []datatypes.ToolParam{
			clientIDParam,
			{Name: "subject", Type: datatypes.ParamString, Default: "Checking in", Validate: "max=200", Description: "Subject line."},
			{Name: "body", Type: datatypes.ParamString, Validate: "max=10000", Description: "Message body."},
		},
		Mutating:             true,
		RequiresConfirmation: true,
	}
}

func (t sendClientEmail) Execute(ctx context.Context, call Call) (Outcome, error) {
	client, err := t.store.GetClient(ctx, call.Args.String("client_id"))
	if err != nil {
		return Outcome{}, fmt.Errorf("send email: %w", err)
	}
	if client.Email == "" {
		return Outcome{}, fmt.Errorf("%w: %s has no email address on file", ErrInvalidArgument, client.Name)
	}

	email := Email{
		ClientID: client.ID,
		To:       client.Email,
		Subject:  call.Args.String("subject"),
		Body:     call.Args.String("body"),
	}
	if email.Body == "" {
		email.Body = fmt.Sprintf("Hi %s,\n\nI wanted to check in. Let me know a good time to talk.", client.Name)
	}
	if err := t.mailer.Send(ctx, email); err != nil {
		return Outcome{}, fmt.Errorf("send email: %w", err)
	}
	return Outcome{
		Data:     email,
		RenderAs: datatypes.RenderText,
		Message:  fmt.Sprintf("Sent %q to %s.", email.Subject, client.Name),
		Entities: []datatypes.EntityRef{client.Ref()},
	}, nil
}
