// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the command tools and the executor that runs them.
//
// # Description
//
// Every tool is a Handler registered by name in a Registry at startup. The
// Executor validates a plan's arguments against the handler's ToolSpec,
// applies rate limits to mutating tools, runs the handler and keeps the
// single most recent undo action per session.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

var (
	// ErrUnknownTool is returned when no handler is registered under a name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrInvalidArgument marks handler-side argument problems that schema
	// validation cannot catch, such as an update with nothing to change.
	ErrInvalidArgument = errors.New("invalid argument")
)

// =============================================================================
// Handler contract
// =============================================================================

// Call is the validated input to a handler.
type Call struct {
	// Session is the conversation the call belongs to.
	Session string

	// Args holds validated and coerced arguments keyed by parameter name.
	Args Args
}

// Outcome is what a handler produces on success.
type Outcome struct {
	Data     any
	RenderAs datatypes.RenderAs
	Message  string

	// Entities are mentioned or touched by the call, most relevant first.
	Entities []datatypes.EntityRef

	// Removed are entities that no longer exist after the call.
	Removed []datatypes.EntityRef

	// Undo is set by undoable mutations.
	Undo *Reversal
}

// Reversal restores the state a mutation replaced.
type Reversal struct {
	Description string
	Revert      func(ctx context.Context) error
}

// Handler executes one named tool.
//
// # Description
//
// Spec describes the tool's parameters and flags and must be constant.
// Execute receives arguments that already passed schema validation. A
// returned error is mapped to a failed ToolResult by the Executor;
// workspace.ErrNotFound maps to not_found and ErrInvalidArgument to
// validation.
type Handler interface {
	Spec() datatypes.ToolSpec
	Execute(ctx context.Context, call Call) (Outcome, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps tool names to handlers.
//
// # Thread Safety
//
// Safe for concurrent use. Registration is expected at startup, after which
// Seal freezes the set.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	handlers map[string]Handler
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its spec name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return errors.New("handler must not be nil")
	}
	name := h.Spec().Name
	if name == "" {
		return errors.New("handler spec has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", name, ErrRegistrySealed)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(handlers ...Handler) {
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			panic(err)
		}
	}
}

// Seal prevents further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get returns the handler for name or ErrUnknownTool.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return h, nil
}

// Spec returns the spec registered under name.
func (r *Registry) Spec(name string) (datatypes.ToolSpec, bool) {
	h, err := r.Get(name)
	if err != nil {
		return datatypes.ToolSpec{}, false
	}
	return h.Spec(), true
}

// Specs returns every registered spec ordered by name.
func (r *Registry) Specs() []datatypes.ToolSpec {
	r.mu.RLock()
	out := make([]datatypes.ToolSpec, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Spec())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
