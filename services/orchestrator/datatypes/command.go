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
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageBytes is the maximum size of a single command message.
	MaxMessageBytes = 8 * 1024

	// MaxConversationIDLength bounds client supplied conversation ids.
	MaxConversationIDLength = 128
)

// =============================================================================
// Validation
// =============================================================================

// commandValidate is the validator instance for command datatypes.
// Initialized in init() with custom validators.
var commandValidate *validator.Validate

func init() {
	commandValidate = validator.New()

	_ = commandValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = commandValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes checks byte length rather than rune count so that
// multi-byte input cannot exceed MaxMessageBytes on the wire.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Request
// =============================================================================

// CommandRequest is the inbound body of POST /v1/command and of each
// WebSocket frame.
//
// # Description
//
// Message is the user's free text. ConversationID ties turns together; when
// empty the server assigns one and returns it in the done event. Context is
// optional client-held context and overrides server-held fields it sets.
// Stream defaults to true; false selects the JSON fallback response.
//
// # Examples
//
//	{"message": "show me pending reviews", "conversation_id": "c-1"}
//
// # Limitations
//
//   - Message must be non-blank and at most MaxMessageBytes
type CommandRequest struct {
	Message        string              `json:"message" validate:"required,notblank,maxbytes"`
	ConversationID string              `json:"conversation_id,omitempty" validate:"omitempty,max=128,printascii"`
	Context        *AccumulatedContext `json:"context,omitempty"`
	Stream         *bool               `json:"stream,omitempty"`
}

// Validate performs struct-tag validation.
//
//	if err := req.Validate(); err != nil {
//	    return fmt.Errorf("invalid request: %w", err)
//	}
func (r *CommandRequest) Validate() error {
	return commandValidate.Struct(r)
}

// WantsStream reports whether the client asked for a streamed response.
func (r *CommandRequest) WantsStream() bool {
	return r.Stream == nil || *r.Stream
}

// EnsureDefaults trims the message and normalizes inbound context.
func (r *CommandRequest) EnsureDefaults() {
	r.Message = strings.TrimSpace(r.Message)
	if r.Context != nil {
		normalized := r.Context.Normalize()
		r.Context = &normalized
	}
}

// =============================================================================
// Non-streaming Response
// =============================================================================

// CommandResponse is the stream=false fallback body.
//
// # Description
//
// Exactly one shape is populated: an executed turn fills Content, Blocks,
// Cards and Context; a gated turn sets one of NeedsSelection,
// NeedsClarification or NeedsConfirmation with its payload.
type CommandResponse struct {
	ConversationID string              `json:"conversation_id"`
	Content        string              `json:"content,omitempty"`
	Blocks         []Block             `json:"blocks,omitempty"`
	Cards          []Block             `json:"cards,omitempty"`
	Context        *AccumulatedContext `json:"context,omitempty"`

	UndoAvailable   bool   `json:"undoAvailable"`
	UndoDescription string `json:"undoDescription,omitempty"`

	NeedsSelection   bool             `json:"needsSelection,omitempty"`
	SelectionOptions []MatchCandidate `json:"selectionOptions,omitempty"`

	NeedsClarification bool           `json:"needsClarification,omitempty"`
	Clarification      *Clarification `json:"clarification,omitempty"`

	NeedsConfirmation bool                 `json:"needsConfirmation,omitempty"`
	PendingAction     *PendingConfirmation `json:"pendingAction,omitempty"`

	Error string `json:"error,omitempty"`
}
