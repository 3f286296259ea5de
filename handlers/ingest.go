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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/knowledge"
)

// ===== Ingestion =====

type ingestRequest struct {
	Text             string         `json:"text"`
	URL              string         `json:"url"`
	SourceURI        string         `json:"source_uri"`
	Metadata         map[string]any `json:"metadata"`
	ChunkSize        int            `json:"chunk_size"`
	Overlap          int            `json:"overlap"`
	PreserveNewlines bool           `json:"preserve_newlines"`
	IdempotencyKey   string         `json:"idempotency_key"`
}

func (r ingestRequest) toPipeline(app, corpusID string) knowledge.IngestRequest {
	return knowledge.IngestRequest{
		AppName:   app,
		CorpusID:  corpusID,
		Text:      r.Text,
		URL:       r.URL,
		SourceURI: r.SourceURI,
		Metadata:  r.Metadata,
		Chunk: knowledge.ChunkOptions{
			ChunkSize:        r.ChunkSize,
			Overlap:          r.Overlap,
			PreserveNewlines: r.PreserveNewlines,
		},
		IdempotencyKey: r.IdempotencyKey,
	}
}

type pipelineOp func(context.Context, knowledge.IngestRequest) (*datatypes.PipelineRun, error)

func runIngest(op pipelineOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		run, err := op(c.Request.Context(), req.toPipeline(appName(c), c.Param("id")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func IngestText(p *knowledge.Pipeline) gin.HandlerFunc { return runIngest(p.IngestText) }

func IngestURL(p *knowledge.Pipeline) gin.HandlerFunc { return runIngest(p.IngestURL) }

func ReplaceSource(p *knowledge.Pipeline) gin.HandlerFunc { return runIngest(p.ReplaceSource) }

func SyncSource(p *knowledge.Pipeline) gin.HandlerFunc { return runIngest(p.SyncSource) }

func RebuildSource(p *knowledge.Pipeline) gin.HandlerFunc { return runIngest(p.RebuildSource) }

// ===== File upload =====

// IngestFile accepts a multipart upload under the "file" field, stores
// the artifact, and ingests its extracted text. Uploads over maxBytes
// are rejected before reading the body.
func IngestFile(docs *knowledge.DocumentService, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.ContentLength > maxBytes {
			writeError(c, datatypes.InvalidArgument("upload exceeds %d bytes", maxBytes))
			return
		}
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		header, err := c.FormFile("file")
		if err != nil {
			badRequest(c, err)
			return
		}
		file, err := header.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(c, datatypes.InvalidArgument("reading upload: %v", err))
			return
		}

		result, err := docs.Upload(c.Request.Context(), knowledge.UploadRequest{
			AppName:     appName(c),
			CorpusID:    c.Param("id"),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
			Chunk: knowledge.ChunkOptions{
				PreserveNewlines: c.PostForm("preserve_newlines") == "true",
			},
		})
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusCreated
		if result.Deduplicated {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

// ===== Documents =====

func ListDocuments(docs *knowledge.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := docs.List(c.Request.Context(), appName(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": list, "total": len(list)})
	}
}

func DeleteDocument(docs *knowledge.DocumentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		docID := c.Param("docId")
		if err := docs.Delete(c.Request.Context(), appName(c), c.Param("id"), docID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "document_id": docID})
	}
}
