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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/memory"
	"github.com/AleutianAI/negentropy/session"
)

// ===== Memories =====

type memorySearchRequest struct {
	Query string `json:"query" binding:"required"`
}

func SearchMemories(svc *memory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req memorySearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		results, err := svc.Search(c.Request.Context(), appName(c), c.Param("userId"), req.Query)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": results, "total": len(results)})
	}
}

func ListMemories(svc *memory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		memories, err := svc.List(c.Request.Context(), appName(c), c.Param("userId"), queryInt(c, "limit", 50))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": memories, "total": len(memories)})
	}
}

// ConsolidateSession reads the session's events and writes one
// consolidated memory plus extracted facts.
func ConsolidateSession(memories *memory.Service, sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := sessions.Get(c.Request.Context(), appName(c), c.Param("userId"), c.Param("sessionId"), 0)
		if err != nil {
			writeError(c, err)
			return
		}
		mem, err := memories.Consolidate(c.Request.Context(), sess)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, mem)
	}
}

// TouchMemory bumps access tracking so retention scoring sees real use.
func TouchMemory(svc *memory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Touch(c.Request.Context(), appName(c), c.Param("userId"), c.Param("memoryId")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "touched"})
	}
}

// ===== Facts =====

type factRequest struct {
	SessionID  string         `json:"session_id"`
	FactType   string         `json:"fact_type"`
	Key        string         `json:"key" binding:"required"`
	Value      map[string]any `json:"value" binding:"required"`
	Confidence float64        `json:"confidence"`
}

func UpsertFact(svc *memory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req factRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		fact := &datatypes.Fact{
			AppName:    appName(c),
			UserID:     c.Param("userId"),
			SessionID:  req.SessionID,
			FactType:   req.FactType,
			Key:        req.Key,
			Value:      req.Value,
			Confidence: req.Confidence,
		}
		if err := svc.UpsertFact(c.Request.Context(), fact); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, fact)
	}
}

func ListFacts(svc *memory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if query := c.Query("query"); query != "" {
			facts, err := svc.SearchFacts(c.Request.Context(), appName(c), c.Param("userId"), query)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"facts": facts, "total": len(facts)})
			return
		}
		facts, err := svc.ListFacts(c.Request.Context(), appName(c), c.Param("userId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"facts": facts, "total": len(facts)})
	}
}

// ===== Governance =====

type auditRequest struct {
	Decisions        map[string]string `json:"decisions" binding:"required"`
	ExpectedVersions map[string]int    `json:"expected_versions"`
	Note             string            `json:"note"`
	IdempotencyKey   string            `json:"idempotency_key"`
}

// AuditMemories applies retain/delete/anonymize decisions atomically.
// Replays with the same idempotency key return the original records.
func AuditMemories(gov *memory.Governance) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		decisions := make(map[string]datatypes.AuditDecision, len(req.Decisions))
		for id, action := range req.Decisions {
			decisions[id] = datatypes.AuditDecision(action)
		}
		records, err := gov.Audit(c.Request.Context(), memory.AuditRequest{
			AppName:          appName(c),
			UserID:           c.Param("userId"),
			Decisions:        decisions,
			ExpectedVersions: req.ExpectedVersions,
			Note:             req.Note,
			IdempotencyKey:   req.IdempotencyKey,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
	}
}
