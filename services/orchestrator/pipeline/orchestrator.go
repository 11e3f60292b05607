// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives one conversational turn from message to events.
//
// A turn either answers a pending confirmation or is routed to a plan, which
// is clarified, disambiguated, gated behind a confirmation, or executed. The
// result is streamed as thinking, text, blocks, context and one terminal
// event, in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/confirmation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/responder"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

var tracer = otel.Tracer("aleutian.advisor.pipeline")

const (
	// DefaultBufferSize bounds the event channel of a streamed turn.
	DefaultBufferSize = 16

	// ThinkingStatus is the status of the opening thinking event.
	ThinkingStatus = "Working on it"

	// ErrorMessage is the only error text users see for internal failures.
	ErrorMessage = "Something went wrong while handling that request. Please try again."

	errorCodeInternal = "internal"
)

// =============================================================================
// Collaborators
// =============================================================================

// Router builds a plan for a message. *routing.Router satisfies it.
type Router interface {
	Route(ctx context.Context, message string, acc datatypes.AccumulatedContext) (datatypes.RouteResult, error)
}

// Executor runs plans and undoes them. *tools.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, session string, plan datatypes.ExecutionPlan) datatypes.ToolResult
	Undo(ctx context.Context, session string) datatypes.ToolResult
	LastUndo(session string) *datatypes.UndoAction
}

// Confirmations is the pending confirmation store.
// *confirmation.Manager satisfies it.
type Confirmations interface {
	Create(plan datatypes.ExecutionPlan, message string, affected *datatypes.AffectedEntity) datatypes.PendingConfirmation
	Confirm(ctx context.Context, id string) datatypes.ConfirmResult
	Cancel(ctx context.Context, id string) datatypes.CancelResult
}

// Deps are the orchestrator's collaborators. Router, Executor,
// Confirmations and Contexts are required.
type Deps struct {
	Router        Router
	Executor      Executor
	Confirmations Confirmations
	Contexts      conversation.Store
	Detector      confirmation.PhraseDetector
	Responder     *responder.Builder
	Clock         ttl.Clock
	Metrics       *observability.Metrics
}

// Config tunes turn delivery.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int `yaml:"buffer_size"`

	// Pacing is awaited before the terminal event. Cosmetic; zero disables.
	Pacing time.Duration `yaml:"pacing"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs turns.
//
// # Thread Safety
//
// Safe for concurrent use; each turn runs on its own goroutine and shares
// only the collaborators. Turns on the same conversation id run one at a
// time so context updates are never lost.
type Orchestrator struct {
	router        Router
	executor      Executor
	confirmations Confirmations
	contexts      conversation.Store
	detector      confirmation.PhraseDetector
	responder     *responder.Builder
	clock         ttl.Clock
	metrics       *observability.Metrics
	cfg           Config
	locks         *turnLocks
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	switch {
	case deps.Router == nil:
		panic("pipeline.New: router must not be nil")
	case deps.Executor == nil:
		panic("pipeline.New: executor must not be nil")
	case deps.Confirmations == nil:
		panic("pipeline.New: confirmations must not be nil")
	case deps.Contexts == nil:
		panic("pipeline.New: context store must not be nil")
	}
	if deps.Clock == nil {
		deps.Clock = ttl.NewSystemClock()
	}
	if deps.Detector == nil {
		deps.Detector = confirmation.NewRegexDetector()
	}
	if deps.Responder == nil {
		deps.Responder = responder.New(deps.Clock)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Orchestrator{
		router:        deps.Router,
		executor:      deps.Executor,
		confirmations: deps.Confirmations,
		contexts:      deps.Contexts,
		detector:      deps.Detector,
		responder:     deps.Responder,
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		cfg:           cfg,
		locks:         newTurnLocks(),
	}
}

// Stream runs one turn and returns its events.
//
// # Description
//
// The channel is closed after the terminal event, or without one when ctx
// is cancelled. Consumers must drain it or cancel ctx. The request must
// already be validated.
func (o *Orchestrator) Stream(ctx context.Context, req datatypes.CommandRequest, transport observability.Transport) <-chan datatypes.StreamEvent {
	out := make(chan datatypes.StreamEvent, o.cfg.BufferSize)
	convID := conversationID(req)
	go func() {
		defer close(out)
		o.run(ctx, req, convID, transport, NewEmitter(out, o.clock, convID, o.metrics))
	}()
	return out
}

// Execute runs one turn without streaming and folds it into a single
// response. The same stages run as for Stream.
func (o *Orchestrator) Execute(ctx context.Context, req datatypes.CommandRequest) (datatypes.CommandResponse, error) {
	convID := conversationID(req)
	em := NewEmitter(nil, o.clock, convID, o.metrics)
	t := o.run(ctx, req, convID, observability.TransportJSON, em)
	if err := ctx.Err(); err != nil && !em.Terminated() {
		return datatypes.CommandResponse{}, err
	}
	return t.response(convID), nil
}

func conversationID(req datatypes.CommandRequest) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	return uuid.NewString()
}

// =============================================================================
// Turn
// =============================================================================

// turn is what one run produced, for the non-streaming response.
type turn struct {
	outcome       observability.Outcome
	resp          responder.Response
	acc           *datatypes.AccumulatedContext
	clarification *datatypes.Clarification
	multi         *datatypes.MultiMatch
	pending       *datatypes.PendingConfirmation
	undo          *datatypes.UndoAction
	err           string
}

func (t *turn) response(convID string) datatypes.CommandResponse {
	out := datatypes.CommandResponse{
		ConversationID: convID,
		Content:        t.resp.Text,
		Context:        t.acc,
		Error:          t.err,
	}
	for _, b := range t.resp.Blocks {
		if b.Kind == datatypes.BlockCard {
			out.Cards = append(out.Cards, b)
		} else if b.Kind != datatypes.BlockSelection {
			out.Blocks = append(out.Blocks, b)
		}
	}
	if t.undo != nil {
		out.UndoAvailable = true
		out.UndoDescription = t.undo.Description
	}
	if t.multi != nil {
		out.NeedsSelection = true
		out.SelectionOptions = t.multi.Matches
	}
	if t.clarification != nil {
		out.NeedsClarification = true
		out.Clarification = t.clarification
	}
	if t.pending != nil {
		out.NeedsConfirmation = true
		out.PendingAction = t.pending
	}
	return out
}

// run executes the turn and guarantees a terminal event unless ctx was
// cancelled.
func (o *Orchestrator) run(ctx context.Context, req datatypes.CommandRequest, convID string, transport observability.Transport, em *Emitter) (t *turn) {
	start := o.clock.Now()
	t = &turn{}

	ctx, span := tracer.Start(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("conversation.id", convID),
		attribute.String("transport", string(transport)),
	))
	o.metrics.StreamStarted(transport)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Turn panicked", "conversation_id", convID, "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			t.outcome = observability.OutcomeError
			o.fail(ctx, em, t)
		}
		span.SetAttributes(attribute.String("turn.outcome", string(t.outcome)))
		span.End()
		o.metrics.StreamEnded(transport)
		o.metrics.RecordTurn(transport, t.outcome, o.clock.Now().Sub(start).Seconds())
	}()

	err := o.turn(ctx, req, convID, em, t)
	switch {
	case err == nil:
		return t
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		t.outcome = observability.OutcomeAborted
		o.metrics.RecordClientDisconnect(transport)
		slog.Info("Turn cancelled by client", "conversation_id", convID)
		return t
	default:
		t.outcome = observability.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		slog.Error("Turn failed", "conversation_id", convID, "error", err)
		o.fail(ctx, em, t)
		return t
	}
}

// fail emits the single error event unless the turn already ended.
func (o *Orchestrator) fail(ctx context.Context, em *Emitter, t *turn) {
	t.err = ErrorMessage
	if em.Terminated() || ctx.Err() != nil {
		return
	}
	if err := em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventError, Error: ErrorMessage, ErrorCode: errorCodeInternal}); err != nil {
		slog.Warn("Could not emit error event", "error", err)
	}
}

func (o *Orchestrator) turn(ctx context.Context, req datatypes.CommandRequest, convID string, em *Emitter, t *turn) error {
	release, err := o.locks.acquire(ctx, convID)
	if err != nil {
		return err
	}
	defer release()

	acc, err := o.loadContext(ctx, convID, req.Context)
	if err != nil {
		return err
	}
	slog.Debug("Turn started", "conversation_id", convID, "message", req.Message)

	if err := em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventThinking, Status: ThinkingStatus}); err != nil {
		return err
	}

	sig := o.detector.Detect(req.Message)
	if sig.Kind != confirmation.SignalNone {
		id := sig.ID
		if id == "" {
			id = acc.PendingConfirmationID
		}
		if id != "" {
			return o.answerConfirmation(ctx, convID, sig.Kind, id, acc, em, t)
		}
	}

	rctx, rspan := tracer.Start(ctx, "pipeline.route")
	rr, err := o.router.Route(rctx, req.Message, acc)
	if err != nil {
		rspan.RecordError(err)
		rspan.End()
		return fmt.Errorf("route: %w", err)
	}
	rspan.SetAttributes(
		attribute.String("plan.tool", rr.Plan.Tool),
		attribute.String("plan.intent", string(rr.Plan.Intent)),
		attribute.String("plan.confidence_level", string(rr.Plan.ConfidenceLevel)),
	)
	rspan.End()

	plan := rr.Plan
	switch {
	case plan.Intent == datatypes.IntentUndo:
		result := o.executor.Undo(ctx, convID)
		return o.respond(ctx, convID, plan, result, acc, em, t)

	case plan.ClarificationNeeded != nil:
		t.outcome = observability.OutcomeClarify
		t.clarification = plan.ClarificationNeeded
		t.resp = o.responder.Clarification(plan.ClarificationNeeded)
		return o.finish(ctx, em, t, nil)

	case plan.MultiMatch != nil:
		t.outcome = observability.OutcomeDisambiguate
		t.multi = plan.MultiMatch
		t.resp = o.responder.Selection(plan.MultiMatch)
		return o.finish(ctx, em, t, nil)

	case plan.RequiresConfirmation:
		pc := o.confirmations.Create(plan, rr.ConfirmationMessage, rr.Affected)
		slog.Info("Confirmation requested", "conversation_id", convID, "confirmation_id", pc.ID, "tool", plan.Tool)
		acc.PendingConfirmationID = pc.ID
		t.outcome = observability.OutcomeConfirmPrompt
		t.pending = &pc
		t.resp = o.responder.Confirmation(pc)
		if err := o.saveContext(ctx, convID, acc); err != nil {
			return err
		}
		t.acc = &acc
		return o.finish(ctx, em, t, &datatypes.ContextUpdate{Context: acc, PendingConfirmation: &pc})

	case !rr.ReadyForExecution:
		// Confirm or cancel with nothing pending.
		t.outcome = observability.OutcomeConfirmMiss
		t.resp = o.responder.Text(rr.UserPrompt)
		return o.finish(ctx, em, t, nil)
	}

	result := o.executor.Execute(ctx, convID, plan)
	return o.respond(ctx, convID, plan, result, acc, em, t)
}

// answerConfirmation handles a confirm or cancel reply. The message is
// never routed.
func (o *Orchestrator) answerConfirmation(ctx context.Context, convID string, kind confirmation.SignalKind, id string, acc datatypes.AccumulatedContext, em *Emitter, t *turn) error {
	ctx, span := tracer.Start(ctx, "pipeline.confirmation", trace.WithAttributes(
		attribute.String("confirmation.id", id),
		attribute.String("confirmation.signal", kind.String()),
	))
	defer span.End()

	if acc.PendingConfirmationID == id {
		acc = conversation.ClearPending(acc)
	}

	if kind == confirmation.SignalCancel {
		res := o.confirmations.Cancel(ctx, id)
		t.outcome = observability.OutcomeCancelled
		t.resp = o.responder.Text(res.Message)
		if err := o.saveContext(ctx, convID, acc); err != nil {
			return err
		}
		t.acc = &acc
		return o.finish(ctx, em, t, &datatypes.ContextUpdate{Context: acc})
	}

	res := o.confirmations.Confirm(ctx, id)
	if !res.ShouldExecute {
		t.outcome = observability.OutcomeConfirmMiss
		t.resp = o.responder.Text(res.Message)
		if err := o.saveContext(ctx, convID, acc); err != nil {
			return err
		}
		t.acc = &acc
		return o.finish(ctx, em, t, &datatypes.ContextUpdate{Context: acc})
	}

	plan := res.Confirmation.Plan.WithPreconfirmed()
	slog.Info("Executing confirmed plan", "conversation_id", convID, "confirmation_id", id, "tool", plan.Tool)
	result := o.executor.Execute(ctx, convID, plan)
	return o.respond(ctx, convID, plan, result, acc, em, t)
}

// respond renders a tool result, merges the entities it touched into the
// context and ends the turn.
func (o *Orchestrator) respond(ctx context.Context, convID string, plan datatypes.ExecutionPlan, result datatypes.ToolResult, acc datatypes.AccumulatedContext, em *Emitter, t *turn) error {
	t.outcome = observability.OutcomeExecuted
	t.resp = o.responder.Result(result)

	if result.Success {
		tool := plan.Tool
		if tool == "" {
			tool = result.ToolName
		}
		acc = conversation.Merge(acc, conversation.UpdateFor(plan.Intent, tool, result.Entities, o.clock.Now()))
		for _, ref := range result.Removed {
			acc = conversation.Forget(acc, ref)
		}
	}
	if err := o.saveContext(ctx, convID, acc); err != nil {
		return err
	}

	update := &datatypes.ContextUpdate{Context: acc}
	if undo := o.executor.LastUndo(convID); undo != nil {
		update.UndoAvailable = true
		update.UndoDescription = undo.Description
		t.undo = undo
	}
	t.acc = &acc
	return o.finish(ctx, em, t, update)
}

// finish emits text, blocks and context when present, then done.
func (o *Orchestrator) finish(ctx context.Context, em *Emitter, t *turn, update *datatypes.ContextUpdate) error {
	if t.resp.Text != "" {
		if err := em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventText, Content: t.resp.Text}); err != nil {
			return err
		}
	}
	if len(t.resp.Blocks) > 0 {
		if err := em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventBlocks, Blocks: t.resp.Blocks}); err != nil {
			return err
		}
	}
	if update != nil {
		if err := em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventContext, Context: update}); err != nil {
			return err
		}
	}

	if o.cfg.Pacing > 0 {
		timer := time.NewTimer(o.cfg.Pacing)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return em.Emit(ctx, datatypes.StreamEvent{Type: datatypes.EventDone})
}

// loadContext returns the stored context merged with what the client sent.
func (o *Orchestrator) loadContext(ctx context.Context, convID string, inbound *datatypes.AccumulatedContext) (datatypes.AccumulatedContext, error) {
	stored, err := o.contexts.Load(ctx, convID)
	if err != nil && !errors.Is(err, conversation.ErrNotFound) {
		return datatypes.AccumulatedContext{}, fmt.Errorf("load context: %w", err)
	}
	if inbound != nil {
		return conversation.Merge(stored, *inbound), nil
	}
	return stored, nil
}

func (o *Orchestrator) saveContext(ctx context.Context, convID string, acc datatypes.AccumulatedContext) error {
	if err := o.contexts.Save(ctx, convID, acc); err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}
