// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confirmation gates destructive plans behind single-use,
// time-boxed approvals.
//
// # Description
//
// The Manager owns every pending confirmation. Each one moves from pending
// to exactly one of confirmed, cancelled or expired. Confirm performs the
// lookup, status check, expiry check and transition in one critical
// section, so concurrent confirmations of the same id execute the plan at
// most once.
//
// Decided entries are kept as tombstones until the next sweep so a repeated
// confirm is answered with a precise message rather than "unknown".
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. No lock is held while
// writing the audit log.
package confirmation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/audit"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/ttl"
)

// DefaultTTL is how long a confirmation stays valid after creation.
const DefaultTTL = 5 * time.Minute

// IDPrefix starts every confirmation id.
const IDPrefix = "pending-"

// User-facing messages.
const (
	MsgNoMatch        = "There's no matching action waiting for confirmation."
	MsgExpired        = "That action expired before it was confirmed. Please ask again."
	MsgAlreadyDecided = "That action was already handled."
	MsgCancelled      = "Okay, I cancelled that. Nothing was changed."
	MsgNothingPending = "There's nothing waiting to be cancelled."
)

// Config configures a Manager.
type Config struct {
	// TTL is the validity window. Zero selects DefaultTTL.
	TTL time.Duration
}

// Manager is the confirmation store and state machine.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*datatypes.PendingConfirmation

	ttl     time.Duration
	clock   ttl.Clock
	sink    audit.Sink
	metrics *observability.Metrics
}

// NewManager creates a Manager.
//
// # Inputs
//
//   - clock: Time source for creation and expiry checks. Must not be nil.
//   - sink: Audit log for decisions. Nil selects an in-memory sink.
//   - metrics: Optional; nil disables metrics.
//   - cfg: TTL configuration.
func NewManager(clock ttl.Clock, sink audit.Sink, metrics *observability.Metrics, cfg Config) *Manager {
	if clock == nil {
		panic("NewManager: clock must not be nil")
	}
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{
		entries: make(map[string]*datatypes.PendingConfirmation),
		ttl:     cfg.TTL,
		clock:   clock,
		sink:    sink,
		metrics: metrics,
	}
}

// TTL returns the configured validity window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create registers a new pending confirmation for plan.
//
// # Description
//
// Always issues a fresh id of the form pending-{unixMillis}-{8 hex}. The
// stored plan is a clone, so later changes by the caller do not leak in.
//
// # Inputs
//
//   - plan: The gated plan.
//   - message: The prompt shown to the user.
//   - affected: Optional entity the plan would change.
func (m *Manager) Create(plan datatypes.ExecutionPlan, message string, affected *datatypes.AffectedEntity) datatypes.PendingConfirmation {
	now := m.clock.Now()
	pc := &datatypes.PendingConfirmation{
		ID:             newID(now),
		Plan:           plan.Clone(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.ttl),
		Message:        message,
		AffectedEntity: affected,
		Status:         datatypes.ConfirmationPending,
	}

	m.mu.Lock()
	m.entries[pc.ID] = pc
	pending := m.countPendingLocked()
	snapshot := copyConfirmation(pc)
	m.mu.Unlock()

	m.metrics.SetPending(pending)
	slog.Info("confirmation created",
		"confirmation_id", pc.ID,
		"tool", plan.Tool,
		"expires_at", pc.ExpiresAt.Format(time.RFC3339),
	)
	return snapshot
}

// Confirm approves the confirmation with the given id.
//
// # Description
//
// ShouldExecute is true only when the id exists, is still pending and the
// current time is strictly before ExpiresAt. The transition to confirmed
// happens under the same lock as the check, so exactly one of any number
// of concurrent calls can succeed. An expired entry found here is moved to
// expired and rejected.
//
// # Outputs
//
//   - ConfirmResult: On success carries a copy of the confirmation with the
//     plan to run; otherwise a user-facing Message.
func (m *Manager) Confirm(ctx context.Context, id string) datatypes.ConfirmResult {
	now := m.clock.Now()

	m.mu.Lock()
	pc, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return datatypes.ConfirmResult{Message: MsgNoMatch}
	}
	if pc.Status.Terminal() {
		status := pc.Status
		m.mu.Unlock()
		if status == datatypes.ConfirmationExpired {
			return datatypes.ConfirmResult{Message: MsgExpired}
		}
		return datatypes.ConfirmResult{Message: MsgAlreadyDecided}
	}
	if !now.Before(pc.ExpiresAt) {
		pc.Status = datatypes.ConfirmationExpired
		snapshot := copyConfirmation(pc)
		pending := m.countPendingLocked()
		m.mu.Unlock()

		m.metrics.SetPending(pending)
		m.record(ctx, snapshot, audit.DecisionRejected, audit.ReasonExpired, now)
		return datatypes.ConfirmResult{Message: MsgExpired}
	}
	pc.Status = datatypes.ConfirmationConfirmed
	snapshot := copyConfirmation(pc)
	pending := m.countPendingLocked()
	m.mu.Unlock()

	m.metrics.SetPending(pending)
	m.record(ctx, snapshot, audit.DecisionApproved, audit.ReasonConfirmed, now)
	return datatypes.ConfirmResult{ShouldExecute: true, Confirmation: &snapshot}
}

// Cancel rejects the confirmation with the given id.
//
// # Description
//
// Moves a pending entry to cancelled. Unknown and already decided ids are
// a no-op that still returns a user-facing message. Never executes anything.
func (m *Manager) Cancel(ctx context.Context, id string) datatypes.CancelResult {
	now := m.clock.Now()

	m.mu.Lock()
	pc, ok := m.entries[id]
	if !ok || pc.Status.Terminal() {
		m.mu.Unlock()
		return datatypes.CancelResult{Message: MsgNothingPending}
	}
	pc.Status = datatypes.ConfirmationCancelled
	snapshot := copyConfirmation(pc)
	pending := m.countPendingLocked()
	m.mu.Unlock()

	m.metrics.SetPending(pending)
	m.record(ctx, snapshot, audit.DecisionRejected, audit.ReasonCancelled, now)
	return datatypes.CancelResult{Cancelled: true, Message: MsgCancelled}
}

// Get returns a copy of the confirmation with the given id.
func (m *Manager) Get(id string) (datatypes.PendingConfirmation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.entries[id]
	if !ok {
		return datatypes.PendingConfirmation{}, false
	}
	return copyConfirmation(pc), true
}

// Pending lists confirmations that can still be confirmed, oldest first.
func (m *Manager) Pending() []datatypes.PendingConfirmation {
	now := m.clock.Now()

	m.mu.Lock()
	out := make([]datatypes.PendingConfirmation, 0, len(m.entries))
	for _, pc := range m.entries {
		if pc.Status == datatypes.ConfirmationPending && now.Before(pc.ExpiresAt) {
			out = append(out, copyConfirmation(pc))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep removes expired pending entries and decided tombstones.
//
// # Description
//
// Pending entries at or past ExpiresAt are recorded as rejected (expired)
// and removed. Entries already decided are removed without a new record.
// Correctness does not depend on Sweep: Confirm re-checks expiry itself.
func (m *Manager) Sweep(ctx context.Context) (ttl.SweepResult, error) {
	result := ttl.SweepResult{StartTime: time.Now()}
	now := m.clock.Now()

	var expired []datatypes.PendingConfirmation
	m.mu.Lock()
	for id, pc := range m.entries {
		switch {
		case pc.Status == datatypes.ConfirmationPending && !now.Before(pc.ExpiresAt):
			pc.Status = datatypes.ConfirmationExpired
			expired = append(expired, copyConfirmation(pc))
			delete(m.entries, id)
		case pc.Status.Terminal():
			delete(m.entries, id)
		default:
			continue
		}
		result.Removed++
	}
	pending := m.countPendingLocked()
	m.mu.Unlock()

	for _, pc := range expired {
		m.record(ctx, pc, audit.DecisionRejected, audit.ReasonExpired, now)
	}

	result.Expired = len(expired)
	result.EndTime = time.Now()
	m.metrics.SetPending(pending)
	m.metrics.RecordSweep("confirmations", result.Removed)
	return result, nil
}

// Len returns the number of stored entries, including tombstones.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) countPendingLocked() int {
	n := 0
	for _, pc := range m.entries {
		if pc.Status == datatypes.ConfirmationPending {
			n++
		}
	}
	return n
}

func (m *Manager) record(ctx context.Context, pc datatypes.PendingConfirmation, decision audit.Decision, reason string, at time.Time) {
	entry := audit.Entry{
		ConfirmationID: pc.ID,
		Decision:       decision,
		Reason:         reason,
		Tool:           pc.Plan.Tool,
		Timestamp:      at,
	}
	if pc.AffectedEntity != nil {
		entry.EntityType = string(pc.AffectedEntity.Type)
		entry.EntityID = pc.AffectedEntity.ID
		entry.EntityName = pc.AffectedEntity.Name
	}
	if _, err := m.sink.Append(ctx, entry); err != nil {
		slog.Error("failed to append confirmation audit record",
			"confirmation_id", pc.ID,
			"decision", decision,
			"error", err,
		)
	}
	m.metrics.RecordDecision(string(decision), reason)
	slog.Info("confirmation decided",
		"confirmation_id", pc.ID,
		"decision", decision,
		"reason", reason,
	)
}

func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d-%s", IDPrefix, now.UnixMilli(), suffix)
}

func copyConfirmation(pc *datatypes.PendingConfirmation) datatypes.PendingConfirmation {
	out := *pc
	out.Plan = pc.Plan.Clone()
	if pc.AffectedEntity != nil {
		a := *pc.AffectedEntity
		out.AffectedEntity = &a
	}
	return out
}

var _ ttl.Sweeper = (*Manager)(nil)
