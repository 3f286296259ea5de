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
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/pkg/validation"
)

// Service owns corpus lifecycle and run/dashboard queries. Retrieval
// and ingestion live in Retriever and Pipeline; all three share a
// Repository.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CreateCorpus registers a named corpus. Names are unique per app.
func (s *Service) CreateCorpus(ctx context.Context, appName, name, description string, config map[string]any) (*datatypes.Corpus, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Service.CreateCorpus")
	defer span.End()

	if err := validation.ValidateAppName(appName); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, datatypes.InvalidArgument("corpus name is required")
	}

	corpus := &datatypes.Corpus{
		AppName:     appName,
		Name:        name,
		Description: description,
		Config:      config,
	}
	if err := s.repo.CreateCorpus(ctx, corpus); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("corpus.id", corpus.ID))
	s.logger.Info("corpus created", "app_name", appName, "corpus_id", corpus.ID, "name", name)
	return corpus, nil
}

// GetCorpus fetches one corpus by id, scoped to the app.
func (s *Service) GetCorpus(ctx context.Context, appName, id string) (*datatypes.Corpus, error) {
	return s.repo.GetCorpus(ctx, appName, id)
}

// ListCorpora returns an app's corpora.
func (s *Service) ListCorpora(ctx context.Context, appName string) ([]datatypes.Corpus, error) {
	return s.repo.ListCorpora(ctx, appName)
}

// UpdateCorpus patches name, description, and config. Empty name and
// description leave the current values; config keys merge shallowly.
func (s *Service) UpdateCorpus(ctx context.Context, appName, id, name, description string, config map[string]any) (*datatypes.Corpus, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Service.UpdateCorpus")
	defer span.End()
	return s.repo.PatchCorpus(ctx, appName, id, strings.TrimSpace(name), description, config)
}

// DeleteCorpus removes the corpus and everything under it.
func (s *Service) DeleteCorpus(ctx context.Context, appName, id string) error {
	ctx, span := tracer.Start(ctx, "knowledge.Service.DeleteCorpus")
	defer span.End()

	if err := s.repo.DeleteCorpus(ctx, appName, id); err != nil {
		return err
	}
	s.logger.Info("corpus deleted", "app_name", appName, "corpus_id", id)
	return nil
}

// ListSources returns the distinct source URIs in a corpus.
func (s *Service) ListSources(ctx context.Context, appName, corpusID string) ([]string, error) {
	if _, err := s.repo.GetCorpus(ctx, appName, corpusID); err != nil {
		return nil, err
	}
	return s.repo.ListSources(ctx, corpusID)
}

// ListChunks pages through a corpus's chunks, optionally filtered to
// one source. Returns the page and the unpaged total.
func (s *Service) ListChunks(ctx context.Context, appName, corpusID, sourceURI string, limit, offset int) ([]datatypes.Knowledge, int, error) {
	if _, err := s.repo.GetCorpus(ctx, appName, corpusID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListChunks(ctx, corpusID, sourceURI, limit, offset)
}

// GetRun fetches one pipeline run.
func (s *Service) GetRun(ctx context.Context, appName, runID string) (*datatypes.PipelineRun, error) {
	return s.repo.GetRun(ctx, appName, runID)
}

// ListRuns returns recent pipeline runs, newest first.
func (s *Service) ListRuns(ctx context.Context, appName string, limit int) ([]datatypes.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListRuns(ctx, appName, limit)
}

// Dashboard aggregates corpus, chunk, document, and run counts.
func (s *Service) Dashboard(ctx context.Context, appName string) (*DashboardStats, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Service.Dashboard")
	defer span.End()
	return s.repo.Stats(ctx, appName)
}
