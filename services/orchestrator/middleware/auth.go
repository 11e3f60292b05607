// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the advisor API.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ErrUnauthorized is returned by providers for a missing or wrong token.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo identifies the caller of a request.
type AuthInfo struct {
	UserID string
	Roles  []string
}

// AuthProvider validates a bearer token.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as the local user. Used when no
// API token is configured.
type NopAuthProvider struct{}

func (NopAuthProvider) Validate(context.Context, string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// StaticTokenProvider accepts exactly one shared token.
type StaticTokenProvider struct {
	Token  string
	UserID string
}

func (p StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(p.Token)) != 1 {
		return nil, ErrUnauthorized
	}
	user := p.UserID
	if user == "" {
		user = "api-client"
	}
	return &AuthInfo{UserID: user, Roles: []string{"advisor"}}, nil
}

// ProviderFor returns a StaticTokenProvider for a non-empty token and a
// NopAuthProvider otherwise.
func ProviderFor(token string) AuthProvider {
	if token == "" {
		return NopAuthProvider{}
	}
	return StaticTokenProvider{Token: token}
}

// =============================================================================
// Context helpers
// =============================================================================

const authInfoKey = "aleutian_auth_info"

// SetAuthInfo stores the authenticated caller on the gin context.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated caller, or nil.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

// AuthMiddleware rejects requests whose bearer token the provider refuses.
//
// # Description
//
// The token is read from "Authorization: Bearer <token>". WebSocket clients
// that cannot set headers may pass it as the access_token query parameter.
// On success the AuthInfo is stored for GetAuthInfo.
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			token = c.Query("access_token")
		}

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
