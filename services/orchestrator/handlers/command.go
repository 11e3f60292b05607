// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the command pipeline over HTTP: an SSE or JSON
// endpoint, a WebSocket endpoint and a few administrative routes.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
)

// DefaultHeartbeatInterval keeps idle load balancers (60s on ALB and nginx)
// from closing a stream while a turn waits on a slow stage.
const DefaultHeartbeatInterval = 15 * time.Second

var tracer = otel.Tracer("aleutian.advisor.handlers")

// Turns runs conversational turns. *pipeline.Orchestrator satisfies it.
type Turns interface {
	Stream(ctx context.Context, req datatypes.CommandRequest, transport observability.Transport) <-chan datatypes.StreamEvent
	Execute(ctx context.Context, req datatypes.CommandRequest) (datatypes.CommandResponse, error)
}

// CommandHandler serves POST /v1/command and GET /v1/command/ws.
//
// # Thread Safety
//
// Safe for concurrent use. Each request runs its own turn.
type CommandHandler struct {
	turns     Turns
	metrics   *observability.Metrics
	heartbeat time.Duration
}

// NewCommandHandler creates a CommandHandler. A non-positive heartbeat
// selects DefaultHeartbeatInterval.
func NewCommandHandler(turns Turns, metrics *observability.Metrics, heartbeat time.Duration) *CommandHandler {
	if turns == nil {
		panic("NewCommandHandler: turns must not be nil")
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &CommandHandler{turns: turns, metrics: metrics, heartbeat: heartbeat}
}

// bindCommand parses and validates the request body. On failure it has
// already written a 400.
func bindCommand(c *gin.Context) (datatypes.CommandRequest, bool) {
	var req datatypes.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid command body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		slog.Warn("Command validation failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return req, false
	}
	return req, true
}

// HandleCommand runs one turn. The response is an event stream unless the
// request sets "stream": false.
func (h *CommandHandler) HandleCommand(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "HandleCommand")
	defer span.End()

	req, ok := bindCommand(c)
	if !ok {
		span.SetStatus(codes.Error, "invalid request")
		return
	}
	span.SetAttributes(
		attribute.String("conversation.id", req.ConversationID),
		attribute.Bool("request.stream", req.WantsStream()),
	)

	if !req.WantsStream() {
		h.respondJSON(ctx, c, req)
		return
	}
	h.respondSSE(ctx, c, req)
}

func (h *CommandHandler) respondJSON(ctx context.Context, c *gin.Context, req datatypes.CommandRequest) {
	resp, err := h.turns.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("Client went away before the turn finished", "conversation_id", req.ConversationID)
			h.metrics.RecordClientDisconnect(observability.TransportJSON)
			return
		}
		slog.Error("Turn failed", "conversation_id", req.ConversationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "command processing failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CommandHandler) respondSSE(ctx context.Context, c *gin.Context, req datatypes.CommandRequest) {
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("Failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	// A failed write cancels the turn so the pipeline stops emitting.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runHeartbeat(ctx, writer, heartbeatDone)
	}()
	defer func() {
		close(heartbeatDone)
		wg.Wait()
	}()

	broken := false
	for ev := range h.turns.Stream(ctx, req, observability.TransportSSE) {
		if broken {
			continue
		}
		if err := writer.WriteEvent(ev); err != nil {
			slog.Info("SSE client disconnected", "conversation_id", ev.ConversationID, "error", err)
			broken = true
			cancel()
		}
	}
}

// runHeartbeat writes keepalive comments until done or ctx ends. A failed
// write stops it; the event loop notices the broken connection itself.
func (h *CommandHandler) runHeartbeat(ctx context.Context, writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(observability.TransportSSE)
		}
	}
}
