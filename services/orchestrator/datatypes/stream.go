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
// Stream Event Types
// =============================================================================

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	EventThinking StreamEventType = "thinking"
	EventText     StreamEventType = "text"
	EventBlocks   StreamEventType = "blocks"
	EventContext  StreamEventType = "context"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// Rank orders event types within a turn. A turn emits events with strictly
// increasing rank; done and error share the terminal rank.
func (t StreamEventType) Rank() int {
	switch t {
	case EventThinking:
		return 1
	case EventText:
		return 2
	case EventBlocks:
		return 3
	case EventContext:
		return 4
	case EventDone, EventError:
		return 5
	}
	return 0
}

// IsTerminal reports whether t ends a turn.
func (t StreamEventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// =============================================================================
// Blocks
// =============================================================================

// BlockKind tags a Block.
type BlockKind string

const (
	BlockList      BlockKind = "list"
	BlockTable     BlockKind = "table"
	BlockCard      BlockKind = "card"
	BlockSelection BlockKind = "selection"
	BlockReport    BlockKind = "report"
)

// BlockItem is one row of a list or selection block.
type BlockItem struct {
	ID     string  `json:"id,omitempty"`
	Label  string  `json:"label"`
	Detail string  `json:"detail,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// BlockField is one label/value pair of a card or report block.
type BlockField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Block is a structured UI element. Which fields are populated depends on
// Kind: list and selection use Items, table uses Columns and Rows, card and
// report use Fields.
type Block struct {
	Kind    BlockKind    `json:"kind"`
	Title   string       `json:"title,omitempty"`
	Items   []BlockItem  `json:"items,omitempty"`
	Columns []string     `json:"columns,omitempty"`
	Rows    [][]string   `json:"rows,omitempty"`
	Fields  []BlockField `json:"fields,omitempty"`
}

// ContextUpdate is the payload of a context event.
type ContextUpdate struct {
	Context             AccumulatedContext   `json:"context"`
	PendingConfirmation *PendingConfirmation `json:"pendingConfirmation,omitempty"`
	UndoAvailable       bool                 `json:"undoAvailable,omitempty"`
	UndoDescription     string               `json:"undoDescription,omitempty"`
}

// =============================================================================
// Stream Event
// =============================================================================

// StreamEvent is one unit of the ordered output protocol for a turn.
//
// # Description
//
// A tagged variant; the populated payload field depends on Type:
//
//   - thinking: Status
//   - text: Content
//   - blocks: Blocks
//   - context: Context
//   - done: ConversationID
//   - error: Error, ErrorCode
//
// Id, Seq, CreatedAt, Hash and PrevHash are assigned by the emitter. Hash is
// the SHA-256 of the event content chained to the previous event's hash.
type StreamEvent struct {
	Id        string          `json:"id"`
	Seq       int             `json:"seq"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Hash      string          `json:"hash"`
	PrevHash  string          `json:"prev_hash,omitempty"`

	Status         string         `json:"status,omitempty"`
	Content        string         `json:"content,omitempty"`
	Blocks         []Block        `json:"blocks,omitempty"`
	Context        *ContextUpdate `json:"context,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
}
