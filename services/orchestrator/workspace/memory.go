// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// MemoryStore keeps entities in maps guarded by a RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	clients       map[string]datatypes.Client
	tasks         map[string]datatypes.Task
	opportunities map[string]datatypes.Opportunity
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]datatypes.Client),
		tasks:         make(map[string]datatypes.Task),
		opportunities: make(map[string]datatypes.Opportunity),
		now:           time.Now,
	}
}

func (s *MemoryStore) ListClients(ctx context.Context, filter ClientFilter) ([]datatypes.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datatypes.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if filter.matches(c) {
			out = append(out, c)
		}
	}
	sortClients(out)
	return out, nil
}

func (s *MemoryStore) GetClient(_ context.Context, id string) (datatypes.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return datatypes.Client{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) SaveClient(_ context.Context, client datatypes.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client.UpdatedAt = s.now()
	s.clients[client.ID] = client
	return nil
}

func (s *MemoryStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return ErrNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]datatypes.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datatypes.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.matches(t) {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (datatypes.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return datatypes.Task{}, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task datatypes.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]datatypes.Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datatypes.Opportunity, 0, len(s.opportunities))
	for _, o := range s.opportunities {
		if filter.matches(o) {
			out = append(out, o)
		}
	}
	sortOpportunities(out)
	return out, nil
}

func (s *MemoryStore) GetOpportunity(_ context.Context, id string) (datatypes.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.opportunities[id]
	if !ok {
		return datatypes.Opportunity{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) SaveOpportunity(_ context.Context, opp datatypes.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now
	s.opportunities[opp.ID] = opp
	return nil
}

func (s *MemoryStore) DeleteOpportunity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.opportunities[id]; !ok {
		return ErrNotFound
	}
	delete(s.opportunities, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyTask(t datatypes.Task) datatypes.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

var _ Store = (*MemoryStore)(nil)
