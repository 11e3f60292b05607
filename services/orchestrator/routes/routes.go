// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/middleware"
)

// Deps are the handlers' collaborators.
type Deps struct {
	Commands      *handlers.CommandHandler
	Upgrader      websocket.Upgrader
	Confirmations handlers.PendingStore
	Contexts      conversation.Store
	Tools         handlers.ToolCatalog
	Auth          middleware.AuthProvider

	// Gatherer serves /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers every route on router. /health and /metrics stay
// open; /v1 requires auth.
func SetupRoutes(router *gin.Engine, deps Deps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	auth := deps.Auth
	if auth == nil {
		auth = middleware.NopAuthProvider{}
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1", middleware.AuthMiddleware(auth))
	{
		v1.POST("/command", deps.Commands.HandleCommand)
		v1.GET("/command/ws", deps.Commands.HandleCommandWebSocket(deps.Upgrader))
		v1.GET("/tools", handlers.ListTools(deps.Tools))

		confirmations := v1.Group("/confirmations")
		{
			confirmations.GET("", handlers.ListConfirmations(deps.Confirmations))
			confirmations.DELETE("/:id", handlers.CancelConfirmation(deps.Confirmations))
		}

		conversations := v1.Group("/conversations")
		{
			conversations.GET("/:id/context", handlers.GetConversationContext(deps.Contexts))
			conversations.DELETE("/:id/context", handlers.ResetConversationContext(deps.Contexts))
		}
	}
}
