// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for identifiers that arrive in URL paths
// and are used as storage keys, SQL parameters or log fields. Rejecting
// anything outside a narrow alphabet keeps path segments, key prefixes and
// control characters out of those places.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// conversationIDPattern matches client-chosen or server-issued conversation
// ids: 1-128 characters of letters, digits, dot, underscore, colon or hyphen.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// confirmationIDPattern matches ids issued by the confirmation manager,
// for example pending-1741000000000-ab12cd34.
var confirmationIDPattern = regexp.MustCompile(`^pending-[0-9]{1,19}-[a-z0-9]{1,32}$`)

// entityIDPattern matches workspace entity ids such as c-acme or
// t-3f9a1c2b7d.
var entityIDPattern = regexp.MustCompile(`^[cto]-[a-z0-9][a-z0-9\-]{0,63}$`)

// ValidateConversationID validates a conversation id.
//
// Example:
//
//	if err := validation.ValidateConversationID(c.Param("id")); err != nil {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	    return
//	}
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	if !conversationIDPattern.MatchString(id) {
		return fmt.Errorf("invalid conversation id format: %q", truncate(id))
	}
	return nil
}

// ValidateConfirmationID validates a confirmation id.
func ValidateConfirmationID(id string) error {
	if id == "" {
		return fmt.Errorf("confirmation id cannot be empty")
	}
	if !confirmationIDPattern.MatchString(id) {
		return fmt.Errorf("invalid confirmation id format: %q (expected pending-<millis>-<suffix>)", truncate(id))
	}
	return nil
}

// ValidateEntityID validates a client (c-), task (t-) or opportunity (o-)
// id.
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if !entityIDPattern.MatchString(id) {
		return fmt.Errorf("invalid entity id format: %q", truncate(id))
	}
	return nil
}

// SanitizeConversationID trims surrounding whitespace and validates.
func SanitizeConversationID(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateConversationID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// truncate keeps error messages short when the input is hostile.
func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
