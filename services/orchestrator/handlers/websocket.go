// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
)

// ErrorCodeInvalidRequest marks an error frame for a frame that failed
// validation. The connection stays open.
const ErrorCodeInvalidRequest = "invalid_request"

// NewUpgrader returns a WebSocket upgrader. An empty allowedOrigins accepts
// any origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// HandleCommandWebSocket serves GET /v1/command/ws.
//
// # Description
//
// Each inbound text frame is a CommandRequest; each outbound frame is one
// stream event. Turns on a connection run one at a time. Frames without a
// conversation_id join the connection's conversation, whose id is
// announced first in a "session_created" frame.
//
// # Limitations
//
//   - The stream field is ignored; WebSocket turns always stream
func (h *CommandHandler) HandleCommandWebSocket(upgrader websocket.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		conversationID := uuid.NewString()
		slog.Info("Websocket client connected", "conversation_id", conversationID)

		if err := ws.WriteJSON(gin.H{"action": "session_created", "conversation_id": conversationID}); err != nil {
			slog.Warn("Failed to write WebSocket JSON", "error", err)
			return
		}

		for {
			var req datatypes.CommandRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "conversation_id", conversationID, "error", err.Error())
				return
			}
			req.EnsureDefaults()
			if err := req.Validate(); err != nil {
				if err := ws.WriteJSON(datatypes.StreamEvent{
					Type:      datatypes.EventError,
					Error:     "invalid request: validation failed",
					ErrorCode: ErrorCodeInvalidRequest,
				}); err != nil {
					return
				}
				continue
			}
			if req.ConversationID == "" {
				req.ConversationID = conversationID
			}
			if !h.streamTurn(c.Request.Context(), ws, req) {
				return
			}
		}
	}
}

// streamTurn relays one turn. It reports false when the connection broke.
func (h *CommandHandler) streamTurn(parent context.Context, ws *websocket.Conn, req datatypes.CommandRequest) bool {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	alive := true
	for ev := range h.turns.Stream(ctx, req, observability.TransportWebSocket) {
		if !alive {
			continue
		}
		if err := ws.WriteJSON(ev); err != nil {
			slog.Info("Websocket write failed; cancelling turn", "conversation_id", req.ConversationID, "error", err)
			alive = false
			cancel()
		}
	}
	return alive
}
