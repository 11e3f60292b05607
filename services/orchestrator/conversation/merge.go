// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds the cross-turn memory of a conversation.
//
// # Description
//
// The accumulated context records which entities the user is focused on,
// what was done last and which entities were mentioned recently. Each
// completed turn merges an update into the prior context; merging never
// erases a field the update leaves unset.
//
// # Thread Safety
//
// The merge functions are pure. Store implementations are safe for
// concurrent use.
package conversation

import (
	"time"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// Merge applies update on top of existing and returns the result.
//
// # Description
//
// Scalar fields are overwritten only when set (non-empty) in update. Recent
// entities in update are treated as new mentions: they are prepended in
// order (update's first entry becomes the most recent), an existing entry
// with the same id and type is moved to the front, and the list is capped
// at MaxRecentEntities. Neither argument is modified.
//
// Clearing the pending confirmation is not expressible as a merge; use
// ClearPending.
//
// # Examples
//
//	merged := Merge(ctx, datatypes.AccumulatedContext{FocusedClientID: "c-7"})
//	// every field except FocusedClientID is unchanged
func Merge(existing, update datatypes.AccumulatedContext) datatypes.AccumulatedContext {
	existing = existing.Normalize()
	update = update.Normalize()

	out := existing
	out.RecentEntities = append([]datatypes.RecentEntity(nil), existing.RecentEntities...)

	if update.FocusedClientID != "" {
		out.FocusedClientID = update.FocusedClientID
	}
	if update.FocusedTaskID != "" {
		out.FocusedTaskID = update.FocusedTaskID
	}
	if update.FocusedOpportunityID != "" {
		out.FocusedOpportunityID = update.FocusedOpportunityID
	}
	if update.LastIntent != "" {
		out.LastIntent = update.LastIntent
	}
	if update.LastTool != "" {
		out.LastTool = update.LastTool
	}
	if update.PendingConfirmationID != "" {
		out.PendingConfirmationID = update.PendingConfirmationID
	}

	for i := len(update.RecentEntities) - 1; i >= 0; i-- {
		out.RecentEntities = Remember(out.RecentEntities, update.RecentEntities[i])
	}
	if len(out.RecentEntities) == 0 {
		out.RecentEntities = nil
	}
	return out
}

// Remember moves or inserts e at the front of list and enforces the cap.
// The input slice is not modified.
func Remember(list []datatypes.RecentEntity, e datatypes.RecentEntity) []datatypes.RecentEntity {
	out := make([]datatypes.RecentEntity, 0, len(list)+1)
	out = append(out, e)
	for _, existing := range list {
		if existing.ID == e.ID && existing.Type == e.Type {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > datatypes.MaxRecentEntities {
		out = out[:datatypes.MaxRecentEntities]
	}
	return out
}

// ClearPending returns c without a pending confirmation reference.
func ClearPending(c datatypes.AccumulatedContext) datatypes.AccumulatedContext {
	c.PendingConfirmationID = ""
	c.PendingConfirmation = ""
	c.PendingAction = ""
	return c
}

// UpdateFor builds the context update for a turn that touched refs.
//
// # Description
//
// The first ref of each entity type becomes the focused id for that type.
// All refs become recent mentions in the given order, stamped with now.
func UpdateFor(intent datatypes.Intent, tool string, refs []datatypes.EntityRef, now time.Time) datatypes.AccumulatedContext {
	update := datatypes.AccumulatedContext{LastIntent: intent, LastTool: tool}
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		switch ref.Type {
		case datatypes.EntityClient:
			if update.FocusedClientID == "" {
				update.FocusedClientID = ref.ID
			}
		case datatypes.EntityTask:
			if update.FocusedTaskID == "" {
				update.FocusedTaskID = ref.ID
			}
		case datatypes.EntityOpportunity:
			if update.FocusedOpportunityID == "" {
				update.FocusedOpportunityID = ref.ID
			}
		}
		update.RecentEntities = append(update.RecentEntities, datatypes.RecentEntity{
			ID:          ref.ID,
			Type:        ref.Type,
			Name:        ref.Name,
			MentionedAt: now,
		})
	}
	return update
}

// Forget drops every trace of an entity that no longer exists.
func Forget(c datatypes.AccumulatedContext, ref datatypes.EntityRef) datatypes.AccumulatedContext {
	if c.FocusedID(ref.Type) == ref.ID {
		switch ref.Type {
		case datatypes.EntityClient:
			c.FocusedClientID = ""
		case datatypes.EntityTask:
			c.FocusedTaskID = ""
		case datatypes.EntityOpportunity:
			c.FocusedOpportunityID = ""
		}
	}
	kept := make([]datatypes.RecentEntity, 0, len(c.RecentEntities))
	for _, e := range c.RecentEntities {
		if e.ID == ref.ID && e.Type == ref.Type {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		kept = nil
	}
	c.RecentEntities = kept
	return c
}
