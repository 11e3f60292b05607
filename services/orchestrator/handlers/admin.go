// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianAdvisor/pkg/validation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// PendingStore is the read and cancel side of the confirmation manager.
type PendingStore interface {
	Pending() []datatypes.PendingConfirmation
	Get(id string) (datatypes.PendingConfirmation, bool)
	Cancel(ctx context.Context, id string) datatypes.CancelResult
}

// ToolCatalog lists registered tools.
type ToolCatalog interface {
	Specs() []datatypes.ToolSpec
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListConfirmations returns the confirmations still awaiting a decision.
func ListConfirmations(store PendingStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending := store.Pending()
		if pending == nil {
			pending = []datatypes.PendingConfirmation{}
		}
		c.JSON(http.StatusOK, gin.H{"confirmations": pending, "count": len(pending)})
	}
}

// CancelConfirmation cancels one confirmation by id.
func CancelConfirmation(store PendingStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateConfirmationID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, ok := store.Get(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "confirmation not found"})
			return
		}
		res := store.Cancel(c.Request.Context(), id)
		slog.Info("Confirmation cancelled via API", "confirmation_id", id, "cancelled", res.Cancelled)
		c.JSON(http.StatusOK, gin.H{"id": id, "cancelled": res.Cancelled, "message": res.Message})
	}
}

// GetConversationContext returns the stored context of a conversation.
func GetConversationContext(store conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateConversationID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		acc, err := store.Load(c.Request.Context(), id)
		if errors.Is(err, conversation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to load conversation context", "conversation_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": id, "context": acc})
	}
}

// ResetConversationContext forgets a conversation's context.
func ResetConversationContext(store conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateConversationID(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.Reset(c.Request.Context(), id); err != nil {
			slog.Error("Failed to reset conversation context", "conversation_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset context"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListTools returns the tool catalog.
func ListTools(catalog ToolCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		specs := catalog.Specs()
		c.JSON(http.StatusOK, gin.H{"tools": specs, "count": len(specs)})
	}
}
