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

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxRecentEntities caps AccumulatedContext.RecentEntities.
const MaxRecentEntities = 10

// RecentEntity is one entity mentioned in an earlier turn.
type RecentEntity struct {
	ID          string     `json:"id"`
	Type        EntityType `json:"type"`
	Name        string     `json:"name"`
	MentionedAt time.Time  `json:"mentionedAt"`
}

// AccumulatedContext is the cross-turn memory of a conversation.
//
// # Description
//
// Empty string fields mean "not set". Merging an update only overwrites the
// fields the update sets. RecentEntities is ordered most recent first.
//
// PendingConfirmation and PendingAction are inbound aliases for the pending
// confirmation id. Normalize folds them into PendingConfirmationID and they
// are never emitted.
type AccumulatedContext struct {
	FocusedClientID       string         `json:"focusedClientId,omitempty"`
	FocusedTaskID         string         `json:"focusedTaskId,omitempty"`
	FocusedOpportunityID  string         `json:"focusedOpportunityId,omitempty"`
	LastIntent            Intent         `json:"lastIntent,omitempty"`
	LastTool              string         `json:"lastTool,omitempty"`
	RecentEntities        []RecentEntity `json:"recentEntities,omitempty"`
	PendingConfirmationID string         `json:"pendingConfirmationId,omitempty"`
	PendingConfirmation   PendingRef     `json:"pendingConfirmation,omitempty"`
	PendingAction         string         `json:"pendingAction,omitempty"`
}

// PendingRef decodes a pending confirmation given either as its id string
// or as an object with an "id" field, such as an echoed PendingConfirmation.
type PendingRef string

// UnmarshalJSON accepts "pending-1-ab", {"id": "pending-1-ab", ...} or null.
func (r *PendingRef) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*r = ""
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = PendingRef(id)
		return nil
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = PendingRef(obj.ID)
		return nil
	}
	return fmt.Errorf("pendingConfirmation must be an id or an object with an id")
}

// Normalize folds the PendingConfirmation and PendingAction aliases into
// PendingConfirmationID. An explicit PendingConfirmationID wins.
func (c AccumulatedContext) Normalize() AccumulatedContext {
	if c.PendingConfirmationID == "" {
		c.PendingConfirmationID = strings.TrimSpace(string(c.PendingConfirmation))
	}
	if c.PendingConfirmationID == "" && c.PendingAction != "" {
		c.PendingConfirmationID = c.PendingAction
	}
	c.PendingConfirmation = ""
	c.PendingAction = ""
	return c
}

// FocusedID returns the focused entity id for the given type.
func (c AccumulatedContext) FocusedID(t EntityType) string {
	switch t {
	case EntityClient:
		return c.FocusedClientID
	case EntityTask:
		return c.FocusedTaskID
	case EntityOpportunity:
		return c.FocusedOpportunityID
	}
	return ""
}

// IsZero reports whether no field is set.
func (c AccumulatedContext) IsZero() bool {
	return c.FocusedClientID == "" && c.FocusedTaskID == "" &&
		c.FocusedOpportunityID == "" && c.LastIntent == "" && c.LastTool == "" &&
		len(c.RecentEntities) == 0 && c.PendingConfirmationID == "" &&
		c.PendingConfirmation == "" && c.PendingAction == ""
}

// EntityRef identifies an entity touched by a tool execution. The pipeline
// turns these into focus and recent-entity context updates.
type EntityRef struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
	Name string     `json:"name"`
}
