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

// =============================================================================
// Intent
// =============================================================================

// Intent is the coarse classification of a user message.
type Intent string

const (
	IntentRead       Intent = "read"
	IntentSearch     Intent = "search"
	IntentCreate     Intent = "create"
	IntentUpdate     Intent = "update"
	IntentDelete     Intent = "delete"
	IntentSummarize  Intent = "summarize"
	IntentReport     Intent = "report"
	IntentExport     Intent = "export"
	IntentWorkflow   Intent = "workflow"
	IntentAutomation Intent = "automation"
	IntentConfirm    Intent = "confirm"
	IntentCancel     Intent = "cancel"
	IntentUndo       Intent = "undo"
	IntentHelp       Intent = "help"
	IntentGeneral    Intent = "general"
)

// IsSpecial reports whether the intent bypasses tool selection and is
// handled by a dedicated branch of the pipeline.
func (i Intent) IsSpecial() bool {
	switch i {
	case IntentConfirm, IntentCancel, IntentUndo:
		return true
	}
	return false
}

// ConfidenceLevel buckets a numeric classification confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// EntityType names the business entity a plan operates on.
type EntityType string

const (
	EntityClient      EntityType = "client"
	EntityTask        EntityType = "task"
	EntityOpportunity EntityType = "opportunity"
)

// =============================================================================
// Execution Plan
// =============================================================================

// PreconfirmedArg is the argument marker that suppresses the confirmation
// gate. It is set by the pipeline when re-running an approved plan.
const PreconfirmedArg = "_preconfirmed"

// Clarification describes a required parameter the router could not fill.
type Clarification struct {
	Field    string   `json:"field"`
	Reason   string   `json:"reason"`
	Options  []string `json:"options,omitempty"`
	Question string   `json:"question"`
}

// MatchCandidate is one entity offered to the user during disambiguation.
type MatchCandidate struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Summary     string  `json:"summary,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// MultiMatch is set on a plan when more than one entity matched the user's
// phrase. Matches are ordered by score descending, display name ascending.
type MultiMatch struct {
	EntityType EntityType       `json:"entityType"`
	Matches    []MatchCandidate `json:"matches"`
	Reason     string           `json:"reason"`
}

// ExecutionPlan is the structured, not-yet-run interpretation of a message.
//
// # Description
//
// Produced by the intent router and consumed by the tool executor. At most
// one of ClarificationNeeded and MultiMatch is set, and when either is set
// the plan must not be executed.
//
// # Thread Safety
//
// Not safe for concurrent mutation. Plans are passed by value between
// pipeline stages; Clone before handing a plan to another goroutine.
type ExecutionPlan struct {
	Intent               Intent          `json:"intent"`
	EntityType           EntityType      `json:"entityType,omitempty"`
	Tool                 string          `json:"tool"`
	Arguments            map[string]any  `json:"arguments"`
	Confidence           float64         `json:"confidence"`
	ConfidenceLevel      ConfidenceLevel `json:"confidenceLevel"`
	RequiresConfirmation bool            `json:"requiresConfirmation"`
	ClarificationNeeded  *Clarification  `json:"clarificationNeeded,omitempty"`
	MultiMatch           *MultiMatch     `json:"multiMatch,omitempty"`
	OriginalMessage      string          `json:"originalMessage"`
}

// Executable reports whether the plan can be handed to the executor.
func (p ExecutionPlan) Executable() bool {
	return p.ClarificationNeeded == nil && p.MultiMatch == nil
}

// Preconfirmed reports whether the arguments carry the pre-confirmed marker.
func (p ExecutionPlan) Preconfirmed() bool {
	v, ok := p.Arguments[PreconfirmedArg].(bool)
	return ok && v
}

// Clone returns a copy whose argument map can be mutated independently.
func (p ExecutionPlan) Clone() ExecutionPlan {
	out := p
	out.Arguments = make(map[string]any, len(p.Arguments))
	for k, v := range p.Arguments {
		out.Arguments[k] = v
	}
	if p.ClarificationNeeded != nil {
		c := *p.ClarificationNeeded
		out.ClarificationNeeded = &c
	}
	if p.MultiMatch != nil {
		m := *p.MultiMatch
		m.Matches = append([]MatchCandidate(nil), p.MultiMatch.Matches...)
		out.MultiMatch = &m
	}
	return out
}

// WithPreconfirmed returns a clone carrying the pre-confirmed marker.
func (p ExecutionPlan) WithPreconfirmed() ExecutionPlan {
	out := p.Clone()
	out.Arguments[PreconfirmedArg] = true
	return out
}

// ArgString returns a string argument, or "" when absent or not a string.
func (p ExecutionPlan) ArgString(name string) string {
	s, _ := p.Arguments[name].(string)
	return s
}

// RouteResult is the router's answer for one message.
type RouteResult struct {
	Plan                ExecutionPlan `json:"plan"`
	ReadyForExecution   bool          `json:"readyForExecution"`
	ConfirmationMessage string        `json:"confirmationMessage,omitempty"`
	NeedsUserInput      bool          `json:"needsUserInput,omitempty"`
	UserPrompt          string        `json:"userPrompt,omitempty"`

	// Affected is the primary entity the plan acts on, when resolved.
	Affected *AffectedEntity `json:"affected,omitempty"`
}
