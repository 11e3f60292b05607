// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// ErrNotFound is returned by Load when no context exists for the id.
var ErrNotFound = errors.New("conversation context not found")

// DefaultLifetime is how long an idle conversation's context is kept.
const DefaultLifetime = 24 * time.Hour

// Store persists accumulated context per conversation id.
//
// # Description
//
// Load returns ErrNotFound for unknown or expired conversations. Save
// replaces the stored context and refreshes its lifetime. Reset removes it
// and is idempotent.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, conversationID string) (datatypes.AccumulatedContext, error)
	Save(ctx context.Context, conversationID string, c datatypes.AccumulatedContext) error
	Reset(ctx context.Context, conversationID string) error
	Close() error
}

// =============================================================================
// In-memory implementation
// =============================================================================

type memoryEntry struct {
	context   datatypes.AccumulatedContext
	expiresAt time.Time
}

// MemoryStore keeps contexts in a map guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	lifetime time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive lifetime selects
// DefaultLifetime.
func NewMemoryStore(lifetime time.Duration) *MemoryStore {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (s *MemoryStore) Load(_ context.Context, conversationID string) (datatypes.AccumulatedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[conversationID]
	if !ok {
		return datatypes.AccumulatedContext{}, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, conversationID)
		return datatypes.AccumulatedContext{}, ErrNotFound
	}
	return copyContext(entry.context), nil
}

func (s *MemoryStore) Save(_ context.Context, conversationID string, c datatypes.AccumulatedContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[conversationID] = memoryEntry{
		context:   copyContext(c),
		expiresAt: s.now().Add(s.lifetime),
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, conversationID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyContext(c datatypes.AccumulatedContext) datatypes.AccumulatedContext {
	if c.RecentEntities != nil {
		c.RecentEntities = append([]datatypes.RecentEntity(nil), c.RecentEntities...)
	}
	return c
}

var _ Store = (*MemoryStore)(nil)
