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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

var (
	// ErrOutOfOrder is returned when an event would break the turn's
	// thinking, text, blocks, context, terminal order.
	ErrOutOfOrder = errors.New("stream event out of order")

	// ErrTerminated is returned for any event after done or error.
	ErrTerminated = errors.New("stream already terminated")

	// ErrBrokenChain is returned by VerifyChain.
	ErrBrokenChain = errors.New("stream hash chain broken")
)

// Emitter stamps and delivers the events of one turn.
//
// # Description
//
// Every event gets an id, a 1-based sequence number, a creation time and a
// SHA-256 hash chained to the previous event. Each non-terminal type may be
// sent at most once and only after lower-ranked types; exactly one terminal
// event may follow.
//
// With a channel the emitter blocks until the consumer takes the event or
// ctx is cancelled. Without one it collects events in memory.
//
// # Thread Safety
//
// Not safe for concurrent use. A turn is a single goroutine.
type Emitter struct {
	out            chan<- datatypes.StreamEvent
	collected      []datatypes.StreamEvent
	clock          ttl.Clock
	conversationID string
	metrics        *observability.Metrics

	seq      int
	prevHash string
	lastRank int
	terminal bool
}

// NewEmitter creates an emitter that sends on out. A nil out collects.
func NewEmitter(out chan<- datatypes.StreamEvent, clock ttl.Clock, conversationID string, metrics *observability.Metrics) *Emitter {
	if clock == nil {
		clock = ttl.NewSystemClock()
	}
	return &Emitter{out: out, clock: clock, conversationID: conversationID, metrics: metrics}
}

// Emit validates, stamps and delivers ev.
func (e *Emitter) Emit(ctx context.Context, ev datatypes.StreamEvent) error {
	if e.terminal {
		return ErrTerminated
	}
	rank := ev.Type.Rank()
	if rank == 0 {
		return fmt.Errorf("%w: unknown event type %q", ErrOutOfOrder, ev.Type)
	}
	if rank <= e.lastRank {
		return fmt.Errorf("%w: %s after rank %d", ErrOutOfOrder, ev.Type, e.lastRank)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev.Id = uuid.NewString()
	ev.Seq = e.seq + 1
	ev.CreatedAt = e.clock.Now().UnixMilli()
	ev.ConversationID = e.conversationID
	ev.PrevHash = e.prevHash
	ev.Hash = HashEvent(ev)

	if e.out != nil {
		select {
		case e.out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		e.collected = append(e.collected, ev)
	}

	e.seq = ev.Seq
	e.prevHash = ev.Hash
	e.lastRank = rank
	e.terminal = ev.Type.IsTerminal()
	e.metrics.RecordEvent(string(ev.Type))
	return nil
}

// Terminated reports whether done or error was emitted.
func (e *Emitter) Terminated() bool {
	return e.terminal
}

// Events returns the collected events.
func (e *Emitter) Events() []datatypes.StreamEvent {
	return e.collected
}

// HashEvent computes the chain hash of ev from its identity, position,
// predecessor and payload.
func HashEvent(ev datatypes.StreamEvent) string {
	var blocks, ctxJSON string
	if len(ev.Blocks) > 0 {
		if data, err := json.Marshal(ev.Blocks); err == nil {
			blocks = string(data)
		}
	}
	if ev.Context != nil {
		if data, err := json.Marshal(ev.Context); err == nil {
			ctxJSON = string(data)
		}
	}
	input := fmt.Sprintf("%s|%d|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s",
		ev.Id, ev.Seq, ev.Type, ev.CreatedAt, ev.PrevHash,
		ev.Status, ev.Content, blocks, ctxJSON,
		ev.Error, ev.ErrorCode, ev.ConversationID,
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks sequence numbers, hashes and links of one turn's
// events.
func VerifyChain(events []datatypes.StreamEvent) error {
	prev := ""
	for i, ev := range events {
		if ev.Seq != i+1 {
			return fmt.Errorf("%w: event %d has seq %d", ErrBrokenChain, i+1, ev.Seq)
		}
		if ev.PrevHash != prev {
			return fmt.Errorf("%w: event %d does not link to its predecessor", ErrBrokenChain, ev.Seq)
		}
		if HashEvent(ev) != ev.Hash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrBrokenChain, ev.Seq)
		}
		prev = ev.Hash
	}
	return nil
}
