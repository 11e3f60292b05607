// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace is the data collaborator behind the command tools:
// clients, tasks and opportunities.
//
// # Description
//
// The pipeline only needs plain query and mutation operations, so the
// Store interface is deliberately narrow. MemoryStore backs tests and demo
// deployments; SQLiteStore persists to a single SQLite file.
//
// # Thread Safety
//
// Store implementations must be safe for concurrent use.
package workspace

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// ErrNotFound is returned when an entity id does not exist.
var ErrNotFound = errors.New("entity not found")

// ClientFilter narrows ListClients. Empty fields match everything.
type ClientFilter struct {
	// Query matches name, company or email case-insensitively.
	Query   string
	Segment string
	Status  string
}

// TaskFilter narrows ListTasks. Empty fields match everything.
type TaskFilter struct {
	ClientID  string
	Status    string
	Kind      string
	Priority  string
	DueBefore *time.Time
	Limit     int
}

// OpportunityFilter narrows ListOpportunities.
type OpportunityFilter struct {
	ClientID string
	Stage    string
}

// Store is the query/mutation surface for business entities.
//
// # Description
//
// Save* upserts by ID and stamps UpdatedAt. Delete* returns ErrNotFound
// for unknown ids. List results are ordered deterministically: clients by
// name, tasks by due date (undated last) then title, opportunities by name.
type Store interface {
	ListClients(ctx context.Context, filter ClientFilter) ([]datatypes.Client, error)
	GetClient(ctx context.Context, id string) (datatypes.Client, error)
	SaveClient(ctx context.Context, client datatypes.Client) error
	DeleteClient(ctx context.Context, id string) error

	ListTasks(ctx context.Context, filter TaskFilter) ([]datatypes.Task, error)
	GetTask(ctx context.Context, id string) (datatypes.Task, error)
	SaveTask(ctx context.Context, task datatypes.Task) error
	DeleteTask(ctx context.Context, id string) error

	ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]datatypes.Opportunity, error)
	GetOpportunity(ctx context.Context, id string) (datatypes.Opportunity, error)
	SaveOpportunity(ctx context.Context, opp datatypes.Opportunity) error
	DeleteOpportunity(ctx context.Context, id string) error

	Close() error
}

// =============================================================================
// Shared filtering and ordering
// =============================================================================

func (f ClientFilter) matches(c datatypes.Client) bool {
	if f.Segment != "" && !strings.EqualFold(f.Segment, c.Segment) {
		return false
	}
	if f.Status != "" && !strings.EqualFold(f.Status, c.Status) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		hay := strings.ToLower(c.Name + " " + c.Company + " " + c.Email)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func (f TaskFilter) matches(t datatypes.Task) bool {
	if f.ClientID != "" && f.ClientID != t.ClientID {
		return false
	}
	if f.Status != "" && f.Status != t.Status {
		return false
	}
	if f.Kind != "" && f.Kind != t.Kind {
		return false
	}
	if f.Priority != "" && f.Priority != t.Priority {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*f.DueBefore)) {
		return false
	}
	return true
}

func (f OpportunityFilter) matches(o datatypes.Opportunity) bool {
	if f.ClientID != "" && f.ClientID != o.ClientID {
		return false
	}
	if f.Stage != "" && f.Stage != o.Stage {
		return false
	}
	return true
}

func sortClients(cs []datatypes.Client) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Name == cs[j].Name {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].Name < cs[j].Name
	})
}

func sortTasks(ts []datatypes.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		if a.Title == b.Title {
			return a.ID < b.ID
		}
		return a.Title < b.Title
	})
}

func sortOpportunities(opps []datatypes.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Name == opps[j].Name {
			return opps[i].ID < opps[j].ID
		}
		return opps[i].Name < opps[j].Name
	})
}
