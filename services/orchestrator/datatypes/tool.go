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

import "time"

// RenderAs hints how a tool result should be presented.
type RenderAs string

const (
	RenderText   RenderAs = "text"
	RenderList   RenderAs = "list"
	RenderTable  RenderAs = "table"
	RenderCard   RenderAs = "card"
	RenderReport RenderAs = "report"
	RenderNone   RenderAs = "none"
)

// ToolErrorCode classifies a failed execution.
type ToolErrorCode string

const (
	ToolErrValidation    ToolErrorCode = "validation"
	ToolErrNotFound      ToolErrorCode = "not_found"
	ToolErrDownstream    ToolErrorCode = "downstream"
	ToolErrRateLimited   ToolErrorCode = "rate_limited"
	ToolErrUnknownTool   ToolErrorCode = "unknown_tool"
	ToolErrNothingToUndo ToolErrorCode = "nothing_to_undo"
)

// ToolError is the user-presentable failure carried by a ToolResult.
type ToolError struct {
	Code    ToolErrorCode `json:"code"`
	Message string        `json:"message"`
}

// UndoAction describes the reversible step recorded for the most recent
// undoable mutation of a session.
type UndoAction struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ToolResult is the immutable outcome of one tool execution.
//
// # Description
//
// Failures are reported here rather than as Go errors so the pipeline can
// render them conversationally and still end the turn with done.
type ToolResult struct {
	Success              bool           `json:"success"`
	Data                 any            `json:"data,omitempty"`
	Error                *ToolError     `json:"error,omitempty"`
	ToolName             string         `json:"toolName"`
	Arguments            map[string]any `json:"arguments"`
	RenderAs             RenderAs       `json:"renderAs"`
	Message              string         `json:"message,omitempty"`
	Undoable             bool           `json:"undoable,omitempty"`
	UndoAction           *UndoAction    `json:"undoAction,omitempty"`
	RateLimited          bool           `json:"rateLimited,omitempty"`
	ResetAt              *time.Time     `json:"resetAt,omitempty"`
	ConfirmationRequired bool           `json:"confirmationRequired,omitempty"`
	Entities             []EntityRef    `json:"entities,omitempty"`
	Removed              []EntityRef    `json:"removed,omitempty"`
}

// ErrorMessage returns the failure message, or "" for successful results.
func (r ToolResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamDate   ParamType = "date"
	ParamEnum   ParamType = "enum"
	ParamList   ParamType = "list"
)

// ToolParam is one entry in a tool's parameter schema.
type ToolParam struct {
	Name        string     `json:"name"`
	Type        ParamType  `json:"type"`
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Enum        []string   `json:"enum,omitempty"`
	Default     any        `json:"default,omitempty"`
	Entity      EntityType `json:"entity,omitempty"`
	Validate    string     `json:"validate,omitempty"`
}

// ToolSpec is the catalog entry for a registered tool.
type ToolSpec struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Intent               Intent      `json:"intent"`
	EntityType           EntityType  `json:"entityType,omitempty"`
	Params               []ToolParam `json:"params"`
	Mutating             bool        `json:"mutating"`
	RequiresConfirmation bool        `json:"requiresConfirmation"`
	Undoable             bool        `json:"undoable"`
}

// Param returns the named parameter.
func (s ToolSpec) Param(name string) (ToolParam, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParam{}, false
}
