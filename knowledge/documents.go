// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/AleutianAI/negentropy/artifact"
	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/pkg/validation"
)

// UploadRequest carries one file upload into a corpus.
type UploadRequest struct {
	AppName     string
	CorpusID    string
	Filename    string
	ContentType string
	Data        []byte
	Metadata    map[string]any
	Chunk       ChunkOptions
}

// UploadResult reports what happened to an upload. Deduplicated is true
// when the identical file was already ingested and no work was done.
type UploadResult struct {
	Document     *datatypes.KnowledgeDocument `json:"document"`
	Run          *datatypes.PipelineRun       `json:"run,omitempty"`
	Deduplicated bool                         `json:"deduplicated"`
}

// DocumentService handles file uploads: archive the original bytes in
// the artifact store, dedup by content hash, and run the ingestion
// pipeline over the extracted text.
type DocumentService struct {
	repo      Repository
	artifacts artifact.Store
	pipeline  *Pipeline
	logger    *logging.Logger
}

func NewDocumentService(repo Repository, artifacts artifact.Store, pipeline *Pipeline, logger *logging.Logger) *DocumentService {
	if logger == nil {
		logger = logging.Default()
	}
	return &DocumentService{repo: repo, artifacts: artifacts, pipeline: pipeline, logger: logger}
}

// Upload ingests an uploaded file. Re-uploading byte-identical content
// into the same corpus is a no-op that returns the existing document.
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.DocumentService.Upload")
	defer span.End()

	if len(req.Data) == 0 {
		return nil, datatypes.InvalidArgument("file is empty")
	}
	if req.Filename == "" {
		return nil, datatypes.InvalidArgument("filename is required")
	}
	if _, err := s.repo.GetCorpus(ctx, req.AppName, req.CorpusID); err != nil {
		return nil, err
	}

	// Browsers and CLI clients often send octet-stream for anything; the
	// filename extension is the better signal for extraction.
	if req.ContentType == "" || req.ContentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(req.Filename)); byExt != "" {
			req.ContentType = byExt
		}
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := s.repo.GetDocumentByHash(ctx, req.CorpusID, hash); err == nil {
		s.logger.Info("upload deduplicated",
			"corpus_id", req.CorpusID, "filename", req.Filename, "file_hash", hash)
		return &UploadResult{Document: existing, Deduplicated: true}, nil
	}

	safeName := validation.SanitizeFilename(req.Filename)
	objectPath := fmt.Sprintf("knowledge/%s/%s/%s", req.AppName, req.CorpusID, safeName)
	uri, err := s.artifacts.Put(ctx, objectPath, req.Data, req.ContentType)
	if err != nil {
		return nil, datatypes.ContentFetchFailed(objectPath, err)
	}

	doc := &datatypes.KnowledgeDocument{
		CorpusID:         req.CorpusID,
		AppName:          req.AppName,
		FileHash:         hash,
		OriginalFilename: req.Filename,
		GCSURI:           uri,
		ContentType:      req.ContentType,
		FileSize:         int64(len(req.Data)),
		Status:           datatypes.DocumentStatusActive,
		Metadata:         req.Metadata,
	}
	if err := s.repo.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	text, err := extractText(string(req.Data), req.ContentType)
	if err != nil {
		_ = s.repo.UpdateDocumentStatus(ctx, doc.ID, datatypes.DocumentStatusFailed)
		return nil, err
	}

	run, err := s.pipeline.ReplaceSource(ctx, IngestRequest{
		AppName:   req.AppName,
		CorpusID:  req.CorpusID,
		Text:      text,
		SourceURI: uri,
		Metadata:  req.Metadata,
		Chunk:     req.Chunk,
	})
	if err != nil {
		_ = s.repo.UpdateDocumentStatus(ctx, doc.ID, datatypes.DocumentStatusFailed)
		return nil, err
	}

	return &UploadResult{Document: doc, Run: run}, nil
}

// Delete removes a document's chunks, marks the row deleted, and
// removes the archived original.
func (s *DocumentService) Delete(ctx context.Context, appName, corpusID, documentID string) error {
	docs, err := s.repo.ListDocuments(ctx, corpusID)
	if err != nil {
		return err
	}
	var doc *datatypes.KnowledgeDocument
	for i := range docs {
		if docs[i].ID == documentID {
			doc = &docs[i]
			break
		}
	}
	if doc == nil || doc.AppName != appName {
		return datatypes.NotFound("document", documentID)
	}

	if _, err := s.repo.DeleteChunksBySource(ctx, corpusID, doc.GCSURI); err != nil {
		return err
	}
	if err := s.repo.UpdateDocumentStatus(ctx, documentID, datatypes.DocumentStatusDeleted); err != nil {
		return err
	}

	objectPath := fmt.Sprintf("knowledge/%s/%s/%s",
		doc.AppName, doc.CorpusID, validation.SanitizeFilename(doc.OriginalFilename))
	if err := s.artifacts.Delete(ctx, objectPath); err != nil {
		s.logger.Warn("failed to delete archived original",
			"document_id", documentID, "path", objectPath, "error", err)
	}
	return nil
}

// List returns a corpus's documents.
func (s *DocumentService) List(ctx context.Context, appName, corpusID string) ([]datatypes.KnowledgeDocument, error) {
	if _, err := s.repo.GetCorpus(ctx, appName, corpusID); err != nil {
		return nil, err
	}
	return s.repo.ListDocuments(ctx, corpusID)
}
