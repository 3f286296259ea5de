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
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/knowledge"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("searchmode", func(fl validator.FieldLevel) bool {
			return datatypes.SearchMode(fl.Field().String()).Valid()
		})
	}
}

// ===== Corpus CRUD =====

type corpusRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

type corpusPatch struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

func CreateCorpus(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req corpusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		corpus, err := svc.CreateCorpus(c.Request.Context(), appName(c), req.Name, req.Description, req.Config)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, corpus)
	}
}

func ListCorpora(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		corpora, err := svc.ListCorpora(c.Request.Context(), appName(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"corpora": corpora, "total": len(corpora)})
	}
}

func GetCorpus(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		corpus, err := svc.GetCorpus(c.Request.Context(), appName(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, corpus)
	}
}

func UpdateCorpus(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req corpusPatch
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		corpus, err := svc.UpdateCorpus(c.Request.Context(), appName(c), c.Param("id"),
			req.Name, req.Description, req.Config)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, corpus)
	}
}

func DeleteCorpus(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := svc.DeleteCorpus(c.Request.Context(), appName(c), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "corpus_id": id})
	}
}

// ===== Chunk listing =====

// ListKnowledge returns a page of chunks for a corpus, optionally
// filtered to one source.
func ListKnowledge(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		chunks, total, err := svc.ListChunks(c.Request.Context(), appName(c), c.Param("id"),
			c.Query("source_uri"), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"knowledge": chunks, "total": total})
	}
}

func ListSources(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sources, err := svc.ListSources(c.Request.Context(), appName(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sources": sources})
	}
}

// ===== Search =====

type searchRequest struct {
	Query          string         `json:"query" binding:"required"`
	Mode           string         `json:"mode" binding:"omitempty,searchmode"`
	Limit          int            `json:"limit" binding:"omitempty,gte=0"`
	SemanticWeight float64        `json:"semantic_weight" binding:"omitempty,gte=0,lte=1"`
	KeywordWeight  float64        `json:"keyword_weight" binding:"omitempty,gte=0,lte=1"`
	RRFK           int            `json:"rrf_k"`
	ScoreThreshold float64        `json:"score_threshold"`
	MetadataFilter map[string]any `json:"metadata_filter"`
}

func SearchKnowledge(retriever *knowledge.Retriever) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cfg := datatypes.SearchConfig{
			Mode:           datatypes.SearchMode(req.Mode),
			Limit:          req.Limit,
			SemanticWeight: req.SemanticWeight,
			KeywordWeight:  req.KeywordWeight,
			RRFK:           req.RRFK,
			ScoreThreshold: req.ScoreThreshold,
			MetadataFilter: req.MetadataFilter,
		}
		results, err := retriever.Search(c.Request.Context(), c.Param("id"), req.Query, cfg)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
	}
}

// ===== Dashboard and runs =====

func Dashboard(svc *knowledge.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Dashboard(c.Request.Context(), appName(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// Graph runs share the PipelineRun table; a payload tag separates them
// from ingestion runs on both listing endpoints.
const graphRunType = "graph"

func isGraphRun(run datatypes.PipelineRun) bool {
	return run.Payload != nil && run.Payload["run_type"] == graphRunType
}

// ListRuns serves both /knowledge/pipelines and /knowledge/graph; the
// graph flag selects which side of the partition comes back.
func ListRuns(svc *knowledge.Service, graph bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if runID := c.Query("run_id"); runID != "" {
			run, err := svc.GetRun(c.Request.Context(), appName(c), runID)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"runs": []*datatypes.PipelineRun{run}, "total": 1})
			return
		}
		runs, err := svc.ListRuns(c.Request.Context(), appName(c), queryInt(c, "limit", 50))
		if err != nil {
			writeError(c, err)
			return
		}
		filtered := runs[:0:0]
		for _, run := range runs {
			if isGraphRun(run) == graph {
				filtered = append(filtered, run)
			}
		}
		c.JSON(http.StatusOK, gin.H{"runs": filtered, "total": len(filtered)})
	}
}

type runUpsertRequest struct {
	RunID          string         `json:"run_id" binding:"required"`
	Status         string         `json:"status" binding:"required"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// UpsertRun records an externally driven run transition. Each upsert
// bumps the run's version.
func UpsertRun(repo knowledge.Repository, graph bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runUpsertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		payload := req.Payload
		if graph {
			if payload == nil {
				payload = make(map[string]any, 1)
			}
			payload["run_type"] = graphRunType
		}
		run := &datatypes.PipelineRun{
			AppName:        appName(c),
			RunID:          req.RunID,
			Status:         req.Status,
			Payload:        payload,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := repo.UpsertRun(c.Request.Context(), run); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}
