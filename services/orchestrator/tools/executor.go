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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

// UndoToolName is the ToolName reported on undo results.
const UndoToolName = "undo"

// ExecutorConfig configures rate limiting of mutating tools.
type ExecutorConfig struct {
	// RateLimit is the sustained number of mutating calls per second allowed
	// per session. Zero or negative disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the token bucket size.
	Burst int `yaml:"burst"`
}

// DefaultExecutorConfig allows bursts of ten changes refilling at one per
// second.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{RateLimit: 1, Burst: 10}
}

type undoSlot struct {
	action datatypes.UndoAction
	revert func(ctx context.Context) error
}

// Executor runs tools from a Registry.
//
// # Description
//
// Execute never panics or returns an error across its boundary: every
// failure becomes a ToolResult with Success=false and a coded ToolError.
// Tools flagged RequiresConfirmation only run when the plan carries the
// preconfirmed flag.
//
// # Thread Safety
//
// Safe for concurrent use. Rate limiters and undo slots are per session
// and guarded by a mutex that is never held while a handler runs.
type Executor struct {
	registry *Registry
	validate *validator.Validate
	clock    ttl.Clock
	metrics  *observability.Metrics
	cfg      ExecutorConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	undo     map[string]undoSlot
}

// NewExecutor creates an executor. The registry is sealed.
func NewExecutor(registry *Registry, clock ttl.Clock, metrics *observability.Metrics, cfg ExecutorConfig) *Executor {
	if registry == nil {
		panic("NewExecutor: registry must not be nil")
	}
	if clock == nil {
		clock = ttl.NewSystemClock()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	registry.Seal()

	return &Executor{
		registry: registry,
		validate: validator.New(),
		clock:    clock,
		metrics:  metrics,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		undo:     make(map[string]undoSlot),
	}
}

// Registry returns the executor's tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute validates and runs plan.Tool for session.
func (e *Executor) Execute(ctx context.Context, session string, plan datatypes.ExecutionPlan) datatypes.ToolResult {
	start := time.Now()
	result := datatypes.ToolResult{
		ToolName:  plan.Tool,
		Arguments: plan.Arguments,
		RenderAs:  datatypes.RenderText,
	}

	h, err := e.registry.Get(plan.Tool)
	if err != nil {
		return e.finish(result, start, fail(datatypes.ToolErrUnknownTool,
			fmt.Sprintf("I don't have a tool called %q.", plan.Tool)))
	}
	spec := h.Spec()

	if spec.RequiresConfirmation && !plan.Preconfirmed() {
		result.ConfirmationRequired = true
		return e.finish(result, start, fail(datatypes.ToolErrValidation,
			"This action needs to be confirmed before it can run."))
	}

	args, err := validateArgs(e.validate, spec, plan.Arguments)
	if err != nil {
		return e.finish(result, start, fail(datatypes.ToolErrValidation, userMessage(err)))
	}
	result.Arguments = args

	if spec.Mutating {
		if resetAt, limited := e.reserve(session); limited {
			result.RateLimited = true
			result.ResetAt = &resetAt
			wait := int(math.Ceil(resetAt.Sub(e.clock.Now()).Seconds()))
			return e.finish(result, start, fail(datatypes.ToolErrRateLimited,
				fmt.Sprintf("You're making changes too quickly. Try again in %ds.", max(wait, 1))))
		}
	}

	outcome, err := h.Execute(ctx, Call{Session: session, Args: args})
	if err != nil {
		slog.Warn("tool execution failed", "tool", spec.Name, "session", session, "error", err)
		return e.finish(result, start, e.mapError(spec, err))
	}

	result.Success = true
	result.Data = outcome.Data
	result.Message = outcome.Message
	result.Entities = outcome.Entities
	result.Removed = outcome.Removed
	if outcome.RenderAs != "" {
		result.RenderAs = outcome.RenderAs
	}

	if spec.Undoable && outcome.Undo != nil && outcome.Undo.Revert != nil {
		action := datatypes.UndoAction{
			ID:          uuid.NewString(),
			Tool:        spec.Name,
			Description: outcome.Undo.Description,
			CreatedAt:   e.clock.Now(),
		}
		e.mu.Lock()
		e.undo[session] = undoSlot{action: action, revert: outcome.Undo.Revert}
		e.mu.Unlock()
		result.Undoable = true
		result.UndoAction = &action
	}
	return e.finish(result, start, nil)
}

// Undo reverts the most recent undoable action of session and consumes it.
func (e *Executor) Undo(ctx context.Context, session string) datatypes.ToolResult {
	start := time.Now()
	result := datatypes.ToolResult{
		ToolName:  UndoToolName,
		Arguments: map[string]any{},
		RenderAs:  datatypes.RenderText,
	}

	e.mu.Lock()
	slot, ok := e.undo[session]
	delete(e.undo, session)
	e.mu.Unlock()

	if !ok {
		return e.finish(result, start, fail(datatypes.ToolErrNothingToUndo, "There's nothing to undo."))
	}
	if err := slot.revert(ctx); err != nil {
		slog.Warn("undo failed", "tool", slot.action.Tool, "session", session, "error", err)
		return e.finish(result, start, fail(datatypes.ToolErrDownstream,
			fmt.Sprintf("I couldn't undo that: %s.", slot.action.Description)))
	}

	result.Success = true
	result.Message = "Undone: " + slot.action.Description + "."
	result.Data = slot.action
	return e.finish(result, start, nil)
}

// LastUndo returns the pending undo action of session, if any.
func (e *Executor) LastUndo(session string) *datatypes.UndoAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.undo[session]
	if !ok {
		return nil
	}
	action := slot.action
	return &action
}

// Forget drops the undo slot and rate limiter of session.
func (e *Executor) Forget(session string) {
	e.mu.Lock()
	delete(e.undo, session)
	delete(e.limiters, session)
	e.mu.Unlock()
}

// =============================================================================
// Helpers
// =============================================================================

// reserve takes one token from the session's bucket. When none is
// available it reports the time the next token arrives.
func (e *Executor) reserve(session string) (time.Time, bool) {
	if e.cfg.RateLimit <= 0 {
		return time.Time{}, false
	}
	now := e.clock.Now()

	e.mu.Lock()
	lim, ok := e.limiters[session]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.Burst)
		e.limiters[session] = lim
	}
	e.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return now, true
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return time.Time{}, false
	}
	r.CancelAt(now)
	return now.Add(delay), true
}

func (e *Executor) mapError(spec datatypes.ToolSpec, err error) *datatypes.ToolError {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		what := string(spec.EntityType)
		if what == "" {
			what = "record"
		}
		return fail(datatypes.ToolErrNotFound, fmt.Sprintf("I couldn't find that %s.", what))
	case errors.Is(err, ErrInvalidArgument):
		return fail(datatypes.ToolErrValidation, userMessage(err))
	default:
		return fail(datatypes.ToolErrDownstream,
			fmt.Sprintf("Something went wrong while running %s. Please try again.", spec.Name))
	}
}

func (e *Executor) finish(result datatypes.ToolResult, start time.Time, toolErr *datatypes.ToolError) datatypes.ToolResult {
	status := "success"
	if toolErr != nil {
		result.Success = false
		result.Error = toolErr
		status = string(toolErr.Code)
	}
	e.metrics.RecordToolExecution(result.ToolName, status, time.Since(start).Seconds())
	slog.Debug("tool executed", "tool", result.ToolName, "status", status)
	return result
}

func fail(code datatypes.ToolErrorCode, msg string) *datatypes.ToolError {
	return &datatypes.ToolError{Code: code, Message: msg}
}

// userMessage strips the sentinel prefix from argument errors.
func userMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ErrInvalidArgument.Error()+": "); i >= 0 {
		msg = msg[i+len(ErrInvalidArgument.Error())+2:]
	}
	if msg == "" {
		return "The request was missing something I need."
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
