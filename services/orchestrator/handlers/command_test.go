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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/pipeline"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeTurns replays a fixed turn.
type fakeTurns struct {
	events []datatypes.StreamEvent
	delay  time.Duration
	resp   datatypes.CommandResponse
	err    error

	mu         sync.Mutex
	requests   []datatypes.CommandRequest
	transports []observability.Transport
}

func (f *fakeTurns) Stream(ctx context.Context, req datatypes.CommandRequest, transport observability.Transport) <-chan datatypes.StreamEvent {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.transports = append(f.transports, transport)
	f.mu.Unlock()

	out := make(chan datatypes.StreamEvent)
	go func() {
		defer close(out)
		em := pipeline.NewEmitter(out, nil, req.ConversationID, nil)
		for i, ev := range f.events {
			if i == len(f.events)-1 && f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			if err := em.Emit(ctx, ev); err != nil {
				return
			}
		}
	}()
	return out
}

func (f *fakeTurns) Execute(_ context.Context, req datatypes.CommandRequest) (datatypes.CommandResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.resp, f.err
}

func simpleTurn() *fakeTurns {
	return &fakeTurns{events: []datatypes.StreamEvent{
		{Type: datatypes.EventThinking, Status: "Working on it"},
		{Type: datatypes.EventText, Content: "You have 2 tasks."},
		{Type: datatypes.EventDone},
	}}
}

type sseFrame struct {
	event string
	data  datatypes.StreamEvent
}

func parseSSE(t *testing.T, body string) ([]sseFrame, int) {
	t.Helper()
	var frames []sseFrame
	pings := 0
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		if chunk == ": ping" {
			pings++
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.data))
			}
		}
		frames = append(frames, f)
	}
	return frames, pings
}

func newCommandRouter(turns Turns, heartbeat time.Duration) *gin.Engine {
	h := NewCommandHandler(turns, nil, heartbeat)
	r := gin.New()
	r.POST("/v1/command", h.HandleCommand)
	r.GET("/v1/command/ws", h.HandleCommandWebSocket(NewUpgrader(nil)))
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// POST /v1/command
// =============================================================================

func TestHandleCommand_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing message", `{}`},
		{"blank message", `{"message": "   "}`},
		{"oversized message", `{"message": "` + strings.Repeat("a", datatypes.MaxMessageBytes+1) + `"}`},
		{"bad conversation id", `{"message": "hi", "conversation_id": "line\nbreak"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := simpleTurn()
			w := post(newCommandRouter(turns, 0), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid request")
			assert.Empty(t, turns.requests, "no stage runs for an invalid request")
		})
	}
}

func TestHandleCommand_StreamsEvents(t *testing.T) {
	turns := simpleTurn()
	w := post(newCommandRouter(turns, 0), `{"message": "  show my tasks  ", "conversation_id": "conv-1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

	frames, _ := parseSSE(t, w.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "thinking", frames[0].event)
	assert.Equal(t, "text", frames[1].event)
	assert.Equal(t, "You have 2 tasks.", frames[1].data.Content)
	assert.Equal(t, "done", frames[2].event)
	assert.Equal(t, "conv-1", frames[2].data.ConversationID)
	assert.Equal(t, frames[1].data.Hash, frames[2].data.PrevHash)

	require.Len(t, turns.requests, 1)
	assert.Equal(t, "show my tasks", turns.requests[0].Message)
	assert.Equal(t, observability.TransportSSE, turns.transports[0])
}

func TestHandleCommand_Heartbeat(t *testing.T) {
	turns := simpleTurn()
	turns.delay = 80 * time.Millisecond

	w := post(newCommandRouter(turns, 10*time.Millisecond), `{"message": "slow one"}`)

	frames, pings := parseSSE(t, w.Body.String())
	assert.GreaterOrEqual(t, pings, 1)
	require.Len(t, frames, 3)
	assert.Equal(t, "done", frames[2].event)
}

func TestHandleCommand_JSONFallback(t *testing.T) {
	turns := simpleTurn()
	turns.resp = datatypes.CommandResponse{
		ConversationID:    "conv-9",
		Content:           "Are you sure?",
		NeedsConfirmation: true,
		PendingAction:     &datatypes.PendingConfirmation{ID: "pending-1-abc"},
	}

	w := post(newCommandRouter(turns, 0), `{"message": "delete client Acme", "stream": false}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.NeedsConfirmation)
	assert.Equal(t, "pending-1-abc", resp.PendingAction.ID)
	assert.Empty(t, turns.transports, "JSON turns do not stream")
}

func TestHandleCommand_JSONFailure(t *testing.T) {
	turns := simpleTurn()
	turns.err = assert.AnError

	w := post(newCommandRouter(turns, 0), `{"message": "hi", "stream": false}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

// =============================================================================
// GET /v1/command/ws
// =============================================================================

func TestHandleCommandWebSocket(t *testing.T) {
	turns := simpleTurn()
	srv := httptest.NewServer(newCommandRouter(turns, 0))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/command/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var hello map[string]string
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "session_created", hello["action"])
	conversationID := hello["conversation_id"]
	require.NotEmpty(t, conversationID)

	require.NoError(t, ws.WriteJSON(datatypes.CommandRequest{Message: "show my tasks"}))
	var got []datatypes.StreamEvent
	for {
		var ev datatypes.StreamEvent
		require.NoError(t, ws.ReadJSON(&ev))
		got = append(got, ev)
		if ev.Type.IsTerminal() {
			break
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, conversationID, got[2].ConversationID)

	require.NoError(t, ws.WriteJSON(map[string]string{"message": " "}))
	var invalid datatypes.StreamEvent
	require.NoError(t, ws.ReadJSON(&invalid))
	assert.Equal(t, datatypes.EventError, invalid.Type)
	assert.Equal(t, ErrorCodeInvalidRequest, invalid.ErrorCode)

	turns.mu.Lock()
	defer turns.mu.Unlock()
	require.Len(t, turns.requests, 1)
	assert.Equal(t, conversationID, turns.requests[0].ConversationID)
	assert.Equal(t, observability.TransportWebSocket, turns.transports[0])
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader([]string{"https://advisor.example"})

	req := httptest.NewRequest(http.MethodGet, "/v1/command/ws", nil)
	req.Header.Set("Origin", "https://advisor.example")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))

	assert.True(t, NewUpgrader(nil).CheckOrigin(req))
}

// =============================================================================
// SSE writer
// =============================================================================

type noFlushWriter struct{ http.ResponseWriter }

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{})
	assert.Error(t, err)
}

func TestSSEWriter_Framing(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventText, Content: "hi"}))
	require.NoError(t, writer.WriteKeepAlive())

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: text\ndata: {"))
	assert.True(t, strings.HasSuffix(body, "\n\n: ping\n\n"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
}
