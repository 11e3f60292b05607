// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

// EntitySource lists the candidates of one entity type.
type EntitySource interface {
	Candidates(ctx context.Context, entity datatypes.EntityType) ([]Candidate, error)
}

// StoreSource reads candidates from a workspace store.
type StoreSource struct {
	Store workspace.Store
}

// Candidates implements EntitySource.
func (s StoreSource) Candidates(ctx context.Context, entity datatypes.EntityType) ([]Candidate, error) {
	switch entity {
	case datatypes.EntityClient:
		clients, err := s.Store.ListClients(ctx, workspace.ClientFilter{})
		if err != nil {
			return nil, fmt.Errorf("client candidates: %w", err)
		}
		out := make([]Candidate, 0, len(clients))
		for _, c := range clients {
			out = append(out, Candidate{ID: c.ID, Name: c.Name, Summary: joinNonEmpty(" · ", c.Company, c.Segment, c.Email)})
		}
		return out, nil

	case datatypes.EntityTask:
		tasks, err := s.Store.ListTasks(ctx, workspace.TaskFilter{})
		if err != nil {
			return nil, fmt.Errorf("task candidates: %w", err)
		}
		out := make([]Candidate, 0, len(tasks))
		for _, t := range tasks {
			due := ""
			if t.DueDate != nil {
				due = "due " + t.DueDate.Format("Jan 2")
			}
			out = append(out, Candidate{ID: t.ID, Name: t.Title, Summary: joinNonEmpty(" · ", strings.ReplaceAll(t.Status, "_", " "), due)})
		}
		return out, nil

	case datatypes.EntityOpportunity:
		opps, err := s.Store.ListOpportunities(ctx, workspace.OpportunityFilter{})
		if err != nil {
			return nil, fmt.Errorf("opportunity candidates: %w", err)
		}
		out := make([]Candidate, 0, len(opps))
		for _, o := range opps {
			out = append(out, Candidate{ID: o.ID, Name: o.Name, Summary: o.Stage})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entity)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

var _ EntitySource = StoreSource{}
