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

import "time"

// ConfirmationStatus is the lifecycle state of a PendingConfirmation.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationCancelled ConfirmationStatus = "cancelled"
	ConfirmationExpired   ConfirmationStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s ConfirmationStatus) Terminal() bool {
	return s != ConfirmationPending
}

// AffectedEntity names the entity a gated plan would change.
type AffectedEntity struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
}

// PendingConfirmation is a time-boxed, single-use approval token for a plan.
//
// # Description
//
// Created when a plan requires confirmation. Owned by the confirmation
// manager; everything else refers to it by ID. Confirm succeeds only while
// Status is pending and the current time is strictly before ExpiresAt.
type PendingConfirmation struct {
	ID             string             `json:"id"`
	Plan           ExecutionPlan      `json:"plan"`
	CreatedAt      time.Time          `json:"createdAt"`
	ExpiresAt      time.Time          `json:"expiresAt"`
	Message        string             `json:"message"`
	AffectedEntity *AffectedEntity    `json:"affectedEntity,omitempty"`
	Status         ConfirmationStatus `json:"status"`
}

// ConfirmResult is returned by the confirmation manager's Confirm.
type ConfirmResult struct {
	ShouldExecute bool                 `json:"shouldExecute"`
	Confirmation  *PendingConfirmation `json:"confirmation,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// CancelResult is returned by the confirmation manager's Cancel.
type CancelResult struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}
