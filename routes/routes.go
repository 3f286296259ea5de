// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the HTTP surface onto a gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/credential"
	"github.com/AleutianAI/negentropy/handlers"
	"github.com/AleutianAI/negentropy/knowledge"
	"github.com/AleutianAI/negentropy/memory"
	"github.com/AleutianAI/negentropy/middleware"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/session"
)

// Deps carries every service the HTTP surface needs. Construct the
// members through the factory package.
type Deps struct {
	Config      *config.Config
	Metrics     *observability.EngineMetrics
	Sessions    *session.Service
	Memories    *memory.Service
	Governance  *memory.Governance
	Credentials credential.Store
	Knowledge   *knowledge.Service
	Retriever   *knowledge.Retriever
	Pipeline    *knowledge.Pipeline
	Documents   *knowledge.DocumentService
	Runs        knowledge.Repository
}

// SetupRoutes installs middleware and every endpoint on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(otelgin.Middleware(deps.Config.Tracing.ServiceName))
	router.Use(middleware.Metrics(deps.Metrics))
	router.Use(middleware.RequestScope())

	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/", middleware.Auth(deps.Config.Auth.TokenSecret))

	// Session surface, consumed by the agent framework collaborator.
	users := authed.Group("/users/:userId")
	{
		users.POST("/sessions", handlers.CreateSession(deps.Sessions))
		users.GET("/sessions", handlers.ListSessions(deps.Sessions))
		users.GET("/sessions/:sessionId", handlers.GetSession(deps.Sessions))
		users.DELETE("/sessions/:sessionId", handlers.DeleteSession(deps.Sessions))
		users.POST("/sessions/:sessionId/events", handlers.AppendEvent(deps.Sessions))
		users.PATCH("/sessions/:sessionId/title", handlers.UpdateSessionTitle(deps.Sessions))
		users.POST("/sessions/:sessionId/consolidate", handlers.ConsolidateSession(deps.Memories, deps.Sessions))
		users.GET("/state", handlers.GetUserState(deps.Sessions))

		users.GET("/memories", handlers.ListMemories(deps.Memories))
		users.POST("/memories/search", handlers.SearchMemories(deps.Memories))
		users.POST("/memories/:memoryId/touch", handlers.TouchMemory(deps.Memories))
		users.POST("/memories/audit", handlers.AuditMemories(deps.Governance))

		users.PUT("/facts", handlers.UpsertFact(deps.Memories))
		users.GET("/facts", handlers.ListFacts(deps.Memories))

		users.GET("/credentials", handlers.ListCredentialKeys(deps.Credentials))
		users.GET("/credentials/:key", handlers.GetCredential(deps.Credentials))
		users.PUT("/credentials/:key", handlers.PutCredential(deps.Credentials))
		users.DELETE("/credentials/:key", handlers.DeleteCredential(deps.Credentials))
	}
	authed.GET("/app/state", handlers.GetAppState(deps.Sessions))

	// Knowledge surface.
	kb := authed.Group("/knowledge")
	{
		kb.POST("/base", handlers.CreateCorpus(deps.Knowledge))
		kb.GET("/base", handlers.ListCorpora(deps.Knowledge))
		kb.GET("/base/:id", handlers.GetCorpus(deps.Knowledge))
		kb.PATCH("/base/:id", handlers.UpdateCorpus(deps.Knowledge))
		kb.DELETE("/base/:id", handlers.DeleteCorpus(deps.Knowledge))

		kb.POST("/base/:id/ingest", handlers.IngestText(deps.Pipeline))
		kb.POST("/base/:id/ingest_url", handlers.IngestURL(deps.Pipeline))
		kb.POST("/base/:id/ingest_file", handlers.IngestFile(deps.Documents, deps.Config.Server.MaxUploadBytes))
		kb.POST("/base/:id/replace_source", handlers.ReplaceSource(deps.Pipeline))
		kb.POST("/base/:id/sync_source", handlers.SyncSource(deps.Pipeline))
		kb.POST("/base/:id/rebuild_source", handlers.RebuildSource(deps.Pipeline))

		kb.POST("/base/:id/search", handlers.SearchKnowledge(deps.Retriever))
		kb.GET("/base/:id/knowledge", handlers.ListKnowledge(deps.Knowledge))
		kb.GET("/base/:id/sources", handlers.ListSources(deps.Knowledge))

		kb.GET("/base/:id/documents", handlers.ListDocuments(deps.Documents))
		kb.DELETE("/base/:id/documents/:docId", handlers.DeleteDocument(deps.Documents))

		kb.GET("/dashboard", handlers.Dashboard(deps.Knowledge))
		kb.GET("/pipelines", handlers.ListRuns(deps.Knowledge, false))
		kb.POST("/pipelines", handlers.UpsertRun(deps.Runs, false))
		kb.GET("/graph", handlers.ListRuns(deps.Knowledge, true))
		kb.POST("/graph", handlers.UpsertRun(deps.Runs, true))
	}
}
