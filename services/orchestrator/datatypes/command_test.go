// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// CommandRequest Validation Tests
// =============================================================================

func TestCommandRequest_Validate_Success(t *testing.T) {
	req := &CommandRequest{Message: "show me pending reviews", ConversationID: "conv-1"}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestCommandRequest_Validate_EmptyMessage(t *testing.T) {
	req := &CommandRequest{}

	if err := req.Validate(); err == nil {
		t.Error("expected error for empty message, got nil")
	}
}

func TestCommandRequest_Validate_BlankMessage(t *testing.T) {
	req := &CommandRequest{Message: "   \t\n"}

	if err := req.Validate(); err == nil {
		t.Error("expected error for whitespace-only message, got nil")
	}
}

func TestCommandRequest_Validate_MessageTooLarge(t *testing.T) {
	req := &CommandRequest{Message: strings.Repeat("a", MaxMessageBytes+1)}

	if err := req.Validate(); err == nil {
		t.Error("expected error for oversized message, got nil")
	}
}

func TestCommandRequest_Validate_MessageAtLimit(t *testing.T) {
	req := &CommandRequest{Message: strings.Repeat("a", MaxMessageBytes)}

	if err := req.Validate(); err != nil {
		t.Errorf("expected message at limit to be valid, got: %v", err)
	}
}

func TestCommandRequest_Validate_ConversationIDTooLong(t *testing.T) {
	req := &CommandRequest{
		Message:        "hello",
		ConversationID: strings.Repeat("c", MaxConversationIDLength+1),
	}

	if err := req.Validate(); err == nil {
		t.Error("expected error for long conversation id, got nil")
	}
}

func TestCommandRequest_WantsStream_DefaultsTrue(t *testing.T) {
	req := &CommandRequest{Message: "hi"}
	if !req.WantsStream() {
		t.Error("expected stream to default to true")
	}

	off := false
	req.Stream = &off
	if req.WantsStream() {
		t.Error("expected stream=false to be honored")
	}
}

func TestCommandRequest_EnsureDefaults_NormalizesLegacyPendingAction(t *testing.T) {
	req := &CommandRequest{
		Message: "  yes  ",
		Context: &AccumulatedContext{PendingAction: "pending-1"},
	}

	req.EnsureDefaults()

	if req.Message != "yes" {
		t.Errorf("expected trimmed message, got %q", req.Message)
	}
	if req.Context.PendingConfirmationID != "pending-1" {
		t.Errorf("expected pending id to be folded, got %q", req.Context.PendingConfirmationID)
	}
	if req.Context.PendingAction != "" {
		t.Errorf("expected legacy field cleared, got %q", req.Context.PendingAction)
	}
}

func TestCommandRequest_DecodesPendingConfirmation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"id string", `{"message":"yes","context":{"pendingConfirmation":"pending-1-ab12cd34"}}`, "pending-1-ab12cd34"},
		{"echoed object", `{"message":"yes","context":{"pendingConfirmation":{"id":"pending-2-ab12cd34","message":"Delete Acme?"}}}`, "pending-2-ab12cd34"},
		{"null", `{"message":"yes","context":{"pendingConfirmation":null}}`, ""},
		{"explicit id wins", `{"message":"yes","context":{"pendingConfirmationId":"pending-3-a","pendingConfirmation":"pending-4-b"}}`, "pending-3-a"},
		{"alias beats legacy", `{"message":"yes","context":{"pendingConfirmation":"pending-5-a","pendingAction":"pending-6-b"}}`, "pending-5-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req CommandRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("decode: %v", err)
			}

			req.EnsureDefaults()

			if req.Context.PendingConfirmationID != tt.want {
				t.Errorf("expected pending id %q, got %q", tt.want, req.Context.PendingConfirmationID)
			}
			if req.Context.PendingConfirmation != "" {
				t.Errorf("expected alias cleared, got %q", req.Context.PendingConfirmation)
			}
		})
	}
}

func TestCommandRequest_RejectsMalformedPendingConfirmation(t *testing.T) {
	var req CommandRequest
	if err := json.Unmarshal([]byte(`{"message":"yes","context":{"pendingConfirmation":42}}`), &req); err == nil {
		t.Error("expected error for numeric pendingConfirmation, got nil")
	}
}

// =============================================================================
// ExecutionPlan Tests
// =============================================================================

func TestExecutionPlan_Executable(t *testing.T) {
	plan := ExecutionPlan{Tool: "list_tasks"}
	if !plan.Executable() {
		t.Error("plain plan should be executable")
	}

	plan.ClarificationNeeded = &Clarification{Field: "task_id"}
	if plan.Executable() {
		t.Error("plan with clarification must not be executable")
	}

	plan.ClarificationNeeded = nil
	plan.MultiMatch = &MultiMatch{EntityType: EntityClient}
	if plan.Executable() {
		t.Error("plan with multi match must not be executable")
	}
}

func TestExecutionPlan_WithPreconfirmed_DoesNotMutateOriginal(t *testing.T) {
	plan := ExecutionPlan{Tool: "delete_client", Arguments: map[string]any{"client_id": "c1"}}

	confirmed := plan.WithPreconfirmed()

	if !confirmed.Preconfirmed() {
		t.Error("expected clone to be preconfirmed")
	}
	if plan.Preconfirmed() {
		t.Error("original plan must not be modified")
	}
	if _, ok := plan.Arguments[PreconfirmedArg]; ok {
		t.Error("original argument map must not be modified")
	}
}

func TestStreamEventType_Rank(t *testing.T) {
	order := []StreamEventType{EventThinking, EventText, EventBlocks, EventContext, EventDone}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank after %s", order[i], order[i-1])
		}
	}
	if EventError.Rank() != EventDone.Rank() {
		t.Error("error and done must share the terminal rank")
	}
	if !EventError.IsTerminal() || !EventDone.IsTerminal() || EventText.IsTerminal() {
		t.Error("terminal classification is wrong")
	}
}
