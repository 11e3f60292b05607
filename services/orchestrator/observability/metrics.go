// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the command pipeline.
//
// # Description
//
// Metrics cover turns, stream events, confirmation decisions, tool
// executions and expiry sweeps. Every Record method is safe to call on a nil
// *Metrics so components can run without metrics in tests.
//
// # Thread Safety
//
// All metrics are safe for concurrent use (Prometheus guarantees).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Constants
// =============================================================================

const metricsNamespace = "advisor"

const (
	pipelineSubsystem     = "pipeline"
	confirmationSubsystem = "confirmation"
	toolSubsystem         = "tool"
	streamSubsystem       = "stream"
)

// Transport labels which surface served a turn.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
	TransportJSON      Transport = "json"
)

// Outcome labels how a turn ended.
type Outcome string

const (
	OutcomeExecuted      Outcome = "executed"
	OutcomeClarify       Outcome = "clarify"
	OutcomeDisambiguate  Outcome = "disambiguate"
	OutcomeConfirmPrompt Outcome = "confirm_prompt"
	OutcomeConfirmMiss   Outcome = "confirm_miss"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeError         Outcome = "error"
	OutcomeAborted       Outcome = "aborted"
)

// =============================================================================
// Metrics
// =============================================================================

// Metrics holds all pipeline metrics.
type Metrics struct {
	// TurnsTotal counts turns by transport and outcome.
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds tracks wall time per turn.
	TurnDurationSeconds *prometheus.HistogramVec

	// EventsTotal counts emitted stream events by type.
	EventsTotal *prometheus.CounterVec

	// ClassificationsTotal counts router decisions by intent and confidence level.
	ClassificationsTotal *prometheus.CounterVec

	// ConfirmationDecisionsTotal counts approve/reject decisions.
	ConfirmationDecisionsTotal *prometheus.CounterVec

	// PendingConfirmations is the number of live pending confirmations.
	PendingConfirmations prometheus.Gauge

	// ToolExecutionsTotal counts executions by tool and status.
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolDurationSeconds tracks execution latency per tool.
	ToolDurationSeconds *prometheus.HistogramVec

	// SweepRemovedTotal counts entries removed by expiry sweeps.
	SweepRemovedTotal *prometheus.CounterVec

	// ActiveStreams is the number of open streaming connections.
	ActiveStreams *prometheus.GaugeVec

	// KeepAlivesTotal counts SSE keepalive comments.
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients that left mid-turn.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the instance registered on the default registry by
// InitMetrics. Nil until InitMetrics is called.
var DefaultMetrics *Metrics

// InitMetrics registers metrics on the default Prometheus registry.
// Must be called once at startup.
func InitMetrics() *Metrics {
	DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewMetrics registers metrics on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turns_total",
				Help:      "Total conversational turns by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Turn duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"transport", "outcome"},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "events_total",
				Help:      "Total stream events emitted by type",
			},
			[]string{"type"},
		),

		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "classifications_total",
				Help:      "Total routed messages by intent and confidence level",
			},
			[]string{"intent", "level"},
		),

		ConfirmationDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: confirmationSubsystem,
				Name:      "decisions_total",
				Help:      "Total confirmation decisions by decision and reason",
			},
			[]string{"decision", "reason"},
		),

		PendingConfirmations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: confirmationSubsystem,
				Name:      "pending",
				Help:      "Number of confirmations awaiting a decision",
			},
		),

		ToolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: toolSubsystem,
				Name:      "executions_total",
				Help:      "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: toolSubsystem,
				Name:      "duration_seconds",
				Help:      "Tool execution latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"tool"},
		),

		SweepRemovedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: confirmationSubsystem,
				Name:      "sweep_removed_total",
				Help:      "Total entries removed by expiry sweeps",
			},
			[]string{"sweeper"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "active",
				Help:      "Number of currently open streaming connections",
			},
			[]string{"transport"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive pings sent",
			},
			[]string{"transport"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during a turn",
			},
			[]string{"transport"},
		),
	}
}

// =============================================================================
// Recording helpers
// =============================================================================

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(transport Transport, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(string(transport), string(outcome)).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(transport), string(outcome)).Observe(seconds)
}

// RecordEvent records one emitted stream event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordClassification records a routing decision.
func (m *Metrics) RecordClassification(intent, level string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(intent, level).Inc()
}

// RecordDecision records a confirmation decision.
func (m *Metrics) RecordDecision(decision, reason string) {
	if m == nil {
		return
	}
	m.ConfirmationDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// SetPending sets the pending confirmation gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingConfirmations.Set(float64(n))
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDurationSeconds.WithLabelValues(tool).Observe(seconds)
}

// RecordSweep records entries removed by a sweep pass.
func (m *Metrics) RecordSweep(sweeper string, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.SweepRemovedTotal.WithLabelValues(sweeper).Add(float64(removed))
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted(transport Transport) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(transport)).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded(transport Transport) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(transport)).Dec()
}

// RecordKeepAlive records a keepalive ping.
func (m *Metrics) RecordKeepAlive(transport Transport) {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.WithLabelValues(string(transport)).Inc()
}

// RecordClientDisconnect records a client leaving mid-turn.
func (m *Metrics) RecordClientDisconnect(transport Transport) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(transport)).Inc()
}
