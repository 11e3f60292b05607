// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics creates Metrics on an isolated registry so tests do not
// collide with the global one.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_RecordTurn(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTurn(TransportSSE, OutcomeExecuted, 0.2)
	m.RecordTurn(TransportSSE, OutcomeExecuted, 0.3)
	m.RecordTurn(TransportJSON, OutcomeClarify, 0.1)

	if val := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("sse", "executed")); val != 2 {
		t.Errorf("TurnsTotal[sse,executed] = %f, want 2", val)
	}
	if val := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("json", "clarify")); val != 1 {
		t.Errorf("TurnsTotal[json,clarify] = %f, want 1", val)
	}
}

func TestMetrics_RecordDecisionAndPending(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDecision("approved", "confirmed")
	m.SetPending(3)

	if val := testutil.ToFloat64(m.ConfirmationDecisionsTotal.WithLabelValues("approved", "confirmed")); val != 1 {
		t.Errorf("decisions = %f, want 1", val)
	}
	if val := testutil.ToFloat64(m.PendingConfirmations); val != 3 {
		t.Errorf("pending = %f, want 3", val)
	}
}

func TestMetrics_RecordSweep_IgnoresZero(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSweep("confirmations", 0)
	m.RecordSweep("confirmations", 2)

	if val := testutil.ToFloat64(m.SweepRemovedTotal.WithLabelValues("confirmations")); val != 2 {
		t.Errorf("sweep removed = %f, want 2", val)
	}
}

func TestMetrics_StreamLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.StreamStarted(TransportWebSocket)
	m.StreamStarted(TransportWebSocket)
	m.StreamEnded(TransportWebSocket)

	if val := testutil.ToFloat64(m.ActiveStreams.WithLabelValues("websocket")); val != 1 {
		t.Errorf("active = %f, want 1", val)
	}
}

// TestMetrics_NilSafe verifies every helper is a no-op on a nil receiver.
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.RecordTurn(TransportSSE, OutcomeError, 1)
	m.RecordEvent("done")
	m.RecordClassification("read", "high")
	m.RecordDecision("approved", "confirmed")
	m.SetPending(1)
	m.RecordToolExecution("list_tasks", "success", 0.01)
	m.RecordSweep("confirmations", 1)
	m.StreamStarted(TransportSSE)
	m.StreamEnded(TransportSSE)
	m.RecordKeepAlive(TransportSSE)
	m.RecordClientDisconnect(TransportSSE)
}

func TestMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordEvent("text")
			m.RecordToolExecution("list_tasks", "success", 0.001)
		}()
	}
	wg.Wait()

	if val := testutil.ToFloat64(m.EventsTotal.WithLabelValues("text")); val != 100 {
		t.Errorf("events = %f, want 100", val)
	}
}
