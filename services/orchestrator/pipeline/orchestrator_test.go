// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/confirmation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/routing"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

var testNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type harness struct {
	orch     *Orchestrator
	store    *workspace.MemoryStore
	confirms *confirmation.Manager
	contexts *conversation.MemoryStore
	clock    *ttl.ManualClock
	metrics  *observability.Metrics
	sink     *audit.MemorySink
}

func newHarness(t *testing.T, override func(*Deps)) *harness {
	t.Helper()
	return newHarnessWithClassifier(t, nil, override)
}

// newHarnessWithClassifier builds a harness whose router uses classifier.
// A nil classifier selects the rule classifier.
func newHarnessWithClassifier(t *testing.T, classifier routing.Classifier, override func(*Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	clock := ttl.NewManualClock(testNow)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store := workspace.NewMemoryStore()
	require.NoError(t, workspace.Seed(ctx, store, workspace.DefaultSeed(testNow)))

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterDefaults(reg, tools.Deps{Store: store, Mailer: tools.LogMailer{}, Clock: clock}))

	router := routing.NewRouter(routing.Deps{
		Classifier: classifier,
		Catalog:    reg,
		Source:     routing.StoreSource{Store: store},
		Clock:      clock,
		Metrics:    metrics,
	}, routing.DefaultConfig())

	sink := audit.NewMemorySink()
	confirms := confirmation.NewManager(clock, sink, metrics, confirmation.Config{TTL: 5 * time.Minute})
	contexts := conversation.NewMemoryStore(time.Hour)

	deps := Deps{
		Router:        router,
		Executor:      tools.NewExecutor(reg, clock, metrics, tools.DefaultExecutorConfig()),
		Confirmations: confirms,
		Contexts:      contexts,
		Clock:         clock,
		Metrics:       metrics,
	}
	if override != nil {
		override(&deps)
	}
	return &harness{
		orch:     New(deps, Config{}),
		store:    store,
		confirms: confirms,
		contexts: contexts,
		clock:    clock,
		metrics:  metrics,
		sink:     sink,
	}
}

func (h *harness) stream(t *testing.T, convID, message string) []datatypes.StreamEvent {
	t.Helper()
	req := datatypes.CommandRequest{Message: message, ConversationID: convID}
	var events []datatypes.StreamEvent
	for ev := range h.orch.Stream(context.Background(), req, observability.TransportSSE) {
		events = append(events, ev)
	}
	require.NoError(t, VerifyChain(events))
	return events
}

func types(events []datatypes.StreamEvent) []datatypes.StreamEventType {
	out := make([]datatypes.StreamEventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func find(events []datatypes.StreamEvent, typ datatypes.StreamEventType) datatypes.StreamEvent {
	for _, ev := range events {
		if ev.Type == typ {
			return ev
		}
	}
	return datatypes.StreamEvent{}
}

func TestStream_ReadRequest(t *testing.T) {
	h := newHarness(t, nil)

	events := h.stream(t, "conv-read", "Show me pending reviews")

	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventBlocks, datatypes.EventContext, datatypes.EventDone,
	}, types(events))

	blocks := find(events, datatypes.EventBlocks).Blocks
	require.Len(t, blocks, 1)
	ids := []string{}
	for _, item := range blocks[0].Items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{"t-review-acme", "t-review-dchen"}, ids)

	update := find(events, datatypes.EventContext).Context
	require.NotNil(t, update)
	assert.Nil(t, update.PendingConfirmation)
	assert.Equal(t, "list_tasks", update.Context.LastTool)
	assert.Zero(t, h.confirms.Len())

	stored, err := h.contexts.Load(context.Background(), "conv-read")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.RecentEntities)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues(string(observability.TransportSSE), string(observability.OutcomeExecuted))))
}

func TestStream_DeleteThenConfirm(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	events := h.stream(t, "conv-del", "delete client Acme")
	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventContext, datatypes.EventDone,
	}, types(events))
	assert.Contains(t, find(events, datatypes.EventText).Content, "Acme Holdings")

	update := find(events, datatypes.EventContext).Context
	require.NotNil(t, update.PendingConfirmation)
	pendingID := update.PendingConfirmation.ID
	assert.Equal(t, pendingID, update.Context.PendingConfirmationID)

	_, err := h.store.GetClient(ctx, "c-acme")
	require.NoError(t, err, "nothing runs before confirmation")

	events = h.stream(t, "conv-del", "yes")
	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventContext, datatypes.EventDone,
	}, types(events))

	_, err = h.store.GetClient(ctx, "c-acme")
	assert.ErrorIs(t, err, workspace.ErrNotFound)

	update = find(events, datatypes.EventContext).Context
	assert.Empty(t, update.Context.PendingConfirmationID)
	assert.True(t, update.UndoAvailable)
	assert.Contains(t, update.UndoDescription, "Acme Holdings")

	pc, ok := h.confirms.Get(pendingID)
	require.True(t, ok)
	assert.Equal(t, datatypes.ConfirmationConfirmed, pc.Status)

	events = h.stream(t, "conv-del", "undo")
	assert.Equal(t, datatypes.EventDone, events[len(events)-1].Type)
	_, err = h.store.GetClient(ctx, "c-acme")
	assert.NoError(t, err)
}

// markerClassifier returns a destructive verdict whose arguments try to
// carry the pre-confirmed marker.
type markerClassifier struct{}

func (markerClassifier) Classify(context.Context, string, datatypes.AccumulatedContext) (routing.Classification, error) {
	return routing.Classification{
		Tool:       "delete_client",
		Confidence: 0.9,
		Target:     "Acme",
		Args:       map[string]any{datatypes.PreconfirmedArg: true},
		Source:     "llm",
	}, nil
}

func TestStream_ClassifierMarkerStillNeedsConfirmation(t *testing.T) {
	// Arrange
	h := newHarnessWithClassifier(t, markerClassifier{}, nil)

	// Act
	events := h.stream(t, "conv-marker", "delete client Acme")

	// Assert
	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventContext, datatypes.EventDone,
	}, types(events))
	update := find(events, datatypes.EventContext).Context
	require.NotNil(t, update)
	require.NotNil(t, update.PendingConfirmation)
	assert.False(t, update.UndoAvailable)
	assert.Len(t, h.confirms.Pending(), 1)

	_, err := h.store.GetClient(context.Background(), "c-acme")
	assert.NoError(t, err, "nothing runs before confirmation")
}

func TestStream_CancelPending(t *testing.T) {
	h := newHarness(t, nil)

	events := h.stream(t, "conv-cancel", "delete client Acme")
	pendingID := find(events, datatypes.EventContext).Context.PendingConfirmation.ID

	events = h.stream(t, "conv-cancel", "no")
	assert.Equal(t, confirmation.MsgCancelled, find(events, datatypes.EventText).Content)
	assert.Empty(t, find(events, datatypes.EventContext).Context.Context.PendingConfirmationID)

	pc, ok := h.confirms.Get(pendingID)
	require.True(t, ok)
	assert.Equal(t, datatypes.ConfirmationCancelled, pc.Status)

	_, err := h.store.GetClient(context.Background(), "c-acme")
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues(string(observability.TransportSSE), string(observability.OutcomeCancelled))))
}

func TestStream_CancelWithNothingPendingIsRouted(t *testing.T) {
	h := newHarness(t, nil)

	events := h.stream(t, "conv-empty", "cancel")

	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventDone,
	}, types(events))
	assert.Equal(t, "There's nothing to cancel.", find(events, datatypes.EventText).Content)
	assert.Empty(t, h.sink.Records())
}

func TestStream_MultiMatchDoesNotExecute(t *testing.T) {
	h := newHarness(t, nil)

	events := h.stream(t, "conv-chen", "Show me Chen's portfolio")

	assert.Equal(t, []datatypes.StreamEventType{
		datatypes.EventThinking, datatypes.EventText, datatypes.EventBlocks, datatypes.EventDone,
	}, types(events))
	blocks := find(events, datatypes.EventBlocks).Blocks
	require.Len(t, blocks, 1)
	assert.Equal(t, datatypes.BlockSelection, blocks[0].Kind)
	require.Len(t, blocks[0].Items, 2)
	assert.Equal(t, "c-dchen", blocks[0].Items[0].ID)
	assert.Equal(t, "c-lchen", blocks[0].Items[1].ID)

	_, err := h.contexts.Load(context.Background(), "conv-chen")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestStream_SecondConfirmDoesNotReexecute(t *testing.T) {
	h := newHarness(t, nil)

	events := h.stream(t, "conv-twice", "delete client Acme")
	pendingID := find(events, datatypes.EventContext).Context.PendingConfirmation.ID

	h.clock.Advance(4*time.Minute + 59*time.Second)
	events = h.stream(t, "conv-twice", "confirm "+pendingID)
	assert.True(t, find(events, datatypes.EventContext).Context.UndoAvailable)

	// Restore the client so a second execution would be observable.
	require.NoError(t, h.store.SaveClient(context.Background(), datatypes.Client{ID: "c-acme", Name: "Acme Holdings"}))

	events = h.stream(t, "conv-twice", "confirm "+pendingID)
	assert.Equal(t, confirmation.MsgAlreadyDecided, find(events, datatypes.EventText).Content)
	_, err := h.store.GetClient(context.Background(), "c-acme")
	assert.NoError(t, err)
}

func TestStream_ExpiredConfirmation(t *testing.T) {
	h := newHarness(t, nil)

	h.stream(t, "conv-exp", "delete client Acme")
	h.clock.Advance(5 * time.Minute)

	events := h.stream(t, "conv-exp", "yes")
	assert.Equal(t, confirmation.MsgExpired, find(events, datatypes.EventText).Content)
	_, err := h.store.GetClient(context.Background(), "c-acme")
	assert.NoError(t, err)
}

func TestStream_InboundContextIsMerged(t *testing.T) {
	h := newHarness(t, nil)

	req := datatypes.CommandRequest{
		Message:        "summarize the account",
		ConversationID: "conv-focus",
		Context:        &datatypes.AccumulatedContext{FocusedClientID: "c-northwind"},
	}
	var events []datatypes.StreamEvent
	for ev := range h.orch.Stream(context.Background(), req, observability.TransportWebSocket) {
		events = append(events, ev)
	}
	update := find(events, datatypes.EventContext).Context
	require.NotNil(t, update)
	assert.Equal(t, "c-northwind", update.Context.FocusedClientID)
	assert.Equal(t, "summarize_client", update.Context.LastTool)
}

type panickingRouter struct{}

func (panickingRouter) Route(context.Context, string, datatypes.AccumulatedContext) (datatypes.RouteResult, error) {
	panic("classifier exploded")
}

type failingRouter struct{ err error }

func (f failingRouter) Route(context.Context, string, datatypes.AccumulatedContext) (datatypes.RouteResult, error) {
	return datatypes.RouteResult{}, f.err
}

func TestStream_PanicBecomesSingleError(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Router = panickingRouter{} })

	events := h.stream(t, "conv-panic", "anything")

	assert.Equal(t, []datatypes.StreamEventType{datatypes.EventThinking, datatypes.EventError}, types(events))
	last := events[len(events)-1]
	assert.Equal(t, ErrorMessage, last.Error)
	assert.Equal(t, "internal", last.ErrorCode)
	assert.NotContains(t, last.Error, "exploded")
}

func TestStream_FailureBecomesSingleError(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Router = failingRouter{err: errors.New("db down")} })

	events := h.stream(t, "conv-fail", "anything")

	assert.Equal(t, []datatypes.StreamEventType{datatypes.EventThinking, datatypes.EventError}, types(events))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues(string(observability.TransportSSE), string(observability.OutcomeError))))
}

type cancellingRouter struct{ cancel context.CancelFunc }

func (c cancellingRouter) Route(ctx context.Context, _ string, _ datatypes.AccumulatedContext) (datatypes.RouteResult, error) {
	c.cancel()
	<-ctx.Done()
	return datatypes.RouteResult{}, ctx.Err()
}

func TestStream_CancellationEmitsNoTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, func(d *Deps) { d.Router = cancellingRouter{cancel: cancel} })

	var events []datatypes.StreamEvent
	for ev := range h.orch.Stream(ctx, datatypes.CommandRequest{Message: "list my tasks", ConversationID: "conv-abort"}, observability.TransportSSE) {
		events = append(events, ev)
	}

	for _, ev := range events {
		assert.False(t, ev.Type.IsTerminal(), "cancelled turn must not terminate with %s", ev.Type)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues(string(observability.TransportSSE), string(observability.OutcomeAborted))))
}

func TestStream_PacingRespectsCancellation(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.cfg.Pacing = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var last datatypes.StreamEvent
	for ev := range h.orch.Stream(ctx, datatypes.CommandRequest{Message: "Show me pending reviews", ConversationID: "conv-pace"}, observability.TransportSSE) {
		last = ev
	}
	assert.Equal(t, datatypes.EventContext, last.Type)
}

// gatedRouter holds its first Route call until open is closed and counts
// calls that overlap.
type gatedRouter struct {
	inner   Router
	entered chan struct{}
	open    chan struct{}
	mu      sync.Mutex
	calls   int
	active  int
	overlap bool
}

func (g *gatedRouter) Route(ctx context.Context, message string, acc datatypes.AccumulatedContext) (datatypes.RouteResult, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.active++
	if g.active > 1 {
		g.overlap = true
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	if first {
		close(g.entered)
		<-g.open
	}
	return g.inner.Route(ctx, message, acc)
}

func (g *gatedRouter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestExecute_SameConversationTurnsKeepBothUpdates(t *testing.T) {
	// Arrange
	gate := &gatedRouter{entered: make(chan struct{}), open: make(chan struct{})}
	h := newHarness(t, func(d *Deps) {
		gate.inner = d.Router
		d.Router = gate
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	run := func(msg string) {
		defer wg.Done()
		_, err := h.orch.Execute(ctx, datatypes.CommandRequest{Message: msg, ConversationID: "conv-race"})
		errs <- err
	}

	// Act
	wg.Add(2)
	go run("Summarize Acme")
	<-gate.entered
	go run("Summarize Northwind")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, gate.callCount(), "second turn waits for the first")
	close(gate.open)
	wg.Wait()
	close(errs)

	// Assert
	for err := range errs {
		require.NoError(t, err)
	}
	assert.False(t, gate.overlap)

	stored, err := h.contexts.Load(ctx, "conv-race")
	require.NoError(t, err)
	ids := []string{}
	for _, e := range stored.RecentEntities {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, "c-acme")
	assert.Contains(t, ids, "c-northwind")
}

func TestExecute_FoldsTurnIntoResponse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp, err := h.orch.Execute(ctx, datatypes.CommandRequest{Message: "Show me Chen's portfolio", ConversationID: "conv-json"})
	require.NoError(t, err)
	assert.True(t, resp.NeedsSelection)
	assert.Len(t, resp.SelectionOptions, 2)
	assert.Empty(t, resp.Blocks)

	resp, err = h.orch.Execute(ctx, datatypes.CommandRequest{Message: "delete client Acme", ConversationID: "conv-json"})
	require.NoError(t, err)
	assert.True(t, resp.NeedsConfirmation)
	require.NotNil(t, resp.PendingAction)
	assert.Equal(t, resp.PendingAction.Message, resp.Content)

	resp, err = h.orch.Execute(ctx, datatypes.CommandRequest{Message: "yes", ConversationID: "conv-json"})
	require.NoError(t, err)
	assert.False(t, resp.NeedsConfirmation)
	assert.True(t, resp.UndoAvailable)
	require.NotNil(t, resp.Context)
	assert.Empty(t, resp.Context.PendingConfirmationID)

	resp, err = h.orch.Execute(ctx, datatypes.CommandRequest{Message: "show me Lisa Chen's profile"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Len(t, resp.Cards, 1)
}

func TestExecute_Clarification(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.orch.Execute(context.Background(), datatypes.CommandRequest{Message: "Summarize Zebra Corp", ConversationID: "conv-clar"})
	require.NoError(t, err)
	assert.True(t, resp.NeedsClarification)
	require.NotNil(t, resp.Clarification)
	assert.Equal(t, resp.Clarification.Question, resp.Content)
}
