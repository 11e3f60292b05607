// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records confirmation decisions in an append-only log.
//
// # Description
//
// Every approve or reject decision on a pending confirmation produces one
// record. The file-backed sink writes JSON lines with a SHA-256 hash chain
// (each record carries the previous record's hash), so truncation or
// editing is detectable with VerifyChain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Decision is the outcome recorded for a confirmation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Reasons recorded with a decision.
const (
	ReasonConfirmed = "confirmed"
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
)

// Entry is what a caller supplies; the sink assigns sequence and hashes.
type Entry struct {
	ConfirmationID string
	Decision       Decision
	Reason         string
	Tool           string
	EntityType     string
	EntityID       string
	EntityName     string
	Timestamp      time.Time
}

// Record is one persisted audit line.
type Record struct {
	Sequence       int64    `json:"sequence"`
	Timestamp      string   `json:"timestamp"`
	ConfirmationID string   `json:"confirmation_id"`
	Decision       Decision `json:"decision"`
	Reason         string   `json:"reason"`
	Tool           string   `json:"tool,omitempty"`
	EntityType     string   `json:"entity_type,omitempty"`
	EntityID       string   `json:"entity_id,omitempty"`
	EntityName     string   `json:"entity_name,omitempty"`
	PrevHash       string   `json:"prev_hash"`
	EntryHash      string   `json:"entry_hash"`
}

// Sink is the write side of the audit log.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, entry Entry) (Record, error)
	Close() error
}

// chain tracks sequence and previous hash. Callers hold the sink's lock.
type chain struct {
	sequence int64
	prevHash string
}

func newChain() chain {
	return chain{prevHash: GenesisHash}
}

func (c *chain) next(entry Entry) Record {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	record := Record{
		Sequence:       c.sequence + 1,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
		ConfirmationID: entry.ConfirmationID,
		Decision:       entry.Decision,
		Reason:         entry.Reason,
		Tool:           entry.Tool,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		EntityName:     entry.EntityName,
		PrevHash:       c.prevHash,
	}
	record.EntryHash = computeRecordHash(record)
	return record
}

func (c *chain) commit(record Record) {
	c.sequence = record.Sequence
	c.prevHash = record.EntryHash
}

func computeRecordHash(record Record) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		record.Sequence,
		record.Timestamp,
		record.ConfirmationID,
		record.Decision,
		record.Reason,
		record.Tool,
		record.EntityType,
		record.EntityID,
		record.EntityName,
		record.PrevHash,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// verifyRecords checks a sequence of records. Returns the index of the first
// broken record, or -1.
func verifyRecords(records []Record) (bool, int64) {
	prev := GenesisHash
	for i, r := range records {
		if r.PrevHash != prev || computeRecordHash(r) != r.EntryHash {
			return false, int64(i)
		}
		prev = r.EntryHash
	}
	return true, -1
}

// =============================================================================
// Memory sink
// =============================================================================

// MemorySink keeps records in memory. Used by tests and when no audit path
// is configured.
type MemorySink struct {
	mu      sync.Mutex
	chain   chain
	records []Record
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{chain: newChain()}
}

func (s *MemorySink) Append(_ context.Context, entry Entry) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.chain.next(entry)
	s.records = append(s.records, record)
	s.chain.commit(record)
	return record, nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// VerifyChain checks the in-memory chain.
func (s *MemorySink) VerifyChain() (bool, int64) {
	return verifyRecords(s.Records())
}

func (s *MemorySink) Close() error { return nil }

var _ Sink = (*MemorySink)(nil)
