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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/provider"
)

// Pipeline stage names, in execution order.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageDelete  = "delete"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StagePersist = "persist"
)

// maxFetchBytes caps URL downloads.
const maxFetchBytes = 50 << 20

// embedBatchSize bounds one provider call; embedConcurrency bounds how
// many batches are in flight at once.
const (
	embedBatchSize   = 64
	embedConcurrency = 4
)

// IngestRequest parameterizes one ingestion operation.
type IngestRequest struct {
	AppName        string
	CorpusID       string
	Text           string // ingest_text: raw text, no fetch
	URL            string // ingest_url / sync_source: fetch target
	SourceURI      string // logical source identity for the chunks
	Metadata       map[string]any
	Chunk          ChunkOptions
	IdempotencyKey string
}

// Pipeline executes ingestion operations with per-stage progress
// persisted to PipelineRun rows after every transition, so crash
// recovery can observe in-flight state.
type Pipeline struct {
	repo     Repository
	embedder provider.Embedder
	client   *http.Client
	logger   *logging.Logger
}

// NewPipeline creates a Pipeline. embedder may be nil (embed stage is
// skipped); client defaults to a 30s-timeout HTTP client.
func NewPipeline(repo Repository, embedder provider.Embedder, client *http.Client, logger *logging.Logger) *Pipeline {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{repo: repo, embedder: embedder, client: client, logger: logger}
}

// IngestText chunks and persists raw text without fetch or delete.
func (p *Pipeline) IngestText(ctx context.Context, req IngestRequest) (*datatypes.PipelineRun, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, datatypes.InvalidArgument("text is required")
	}
	return p.execute(ctx, "ingest_text", req, false, false)
}

// IngestURL fetches, extracts, and ingests a URL. Prior chunks for the
// source are replaced.
func (p *Pipeline) IngestURL(ctx context.Context, req IngestRequest) (*datatypes.PipelineRun, error) {
	if req.URL == "" {
		return nil, datatypes.InvalidArgument("url is required")
	}
	if req.SourceURI == "" {
		req.SourceURI = req.URL
	}
	return p.execute(ctx, "ingest_url", req, true, true)
}

// ReplaceSource deletes a source's chunks and re-ingests from text.
func (p *Pipeline) ReplaceSource(ctx context.Context, req IngestRequest) (*datatypes.PipelineRun, error) {
	if req.SourceURI == "" {
		return nil, datatypes.InvalidArgument("source_uri is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, datatypes.InvalidArgument("text is required")
	}
	return p.execute(ctx, "replace_source", req, false, true)
}

// SyncSource re-fetches a URL-backed source and replaces its chunks.
func (p *Pipeline) SyncSource(ctx context.Context, req IngestRequest) (*datatypes.PipelineRun, error) {
	if req.SourceURI == "" {
		return nil, datatypes.InvalidArgument("source_uri is required")
	}
	if req.URL == "" {
		req.URL = req.SourceURI
	}
	return p.execute(ctx, "sync_source", req, true, true)
}

// RebuildSource re-chunks and re-embeds a source from its stored chunk
// text, e.g. after changing chunking parameters or embedding models.
func (p *Pipeline) RebuildSource(ctx context.Context, req IngestRequest) (*datatypes.PipelineRun, error) {
	if req.SourceURI == "" {
		return nil, datatypes.InvalidArgument("source_uri is required")
	}

	chunks, _, err := p.repo.ListChunks(ctx, req.CorpusID, req.SourceURI, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, datatypes.NotFound("source", req.SourceURI)
	}
	var parts []string
	for _, chunk := range chunks {
		parts = append(parts, chunk.Content)
	}
	req.Text = JoinChunks(parts)
	return p.execute(ctx, "rebuild_source", req, false, true)
}

// execute runs the stage sequence, persisting run state transitions.
func (p *Pipeline) execute(ctx context.Context, operation string, req IngestRequest, withFetch, withDelete bool) (*datatypes.PipelineRun, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Pipeline."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("corpus.id", req.CorpusID))

	if _, err := p.repo.GetCorpus(ctx, req.AppName, req.CorpusID); err != nil {
		return nil, err
	}
	if req.Chunk.ChunkSize == 0 {
		req.Chunk = DefaultChunkOptions()
	}

	runID := uuid.NewString()
	if req.IdempotencyKey != "" {
		if prior, err := p.repo.FindRunByIdempotencyKey(ctx, req.AppName, req.IdempotencyKey); err == nil {
			// Failed runs do not replay; the retry re-executes under
			// the prior run's identity so the key stays unique.
			if prior.Status != datatypes.RunStatusFailed {
				return prior, nil
			}
			runID = prior.RunID
		}
	}

	track := &runTracker{
		repo: p.repo,
		run: &datatypes.PipelineRun{
			AppName:        req.AppName,
			RunID:          runID,
			Status:         datatypes.RunStatusRunning,
			IdempotencyKey: req.IdempotencyKey,
			Payload: map[string]any{
				"operation":  operation,
				"corpus_id":  req.CorpusID,
				"source_uri": req.SourceURI,
				"stages":     map[string]any{},
			},
		},
	}
	if err := track.persist(ctx); err != nil {
		return nil, err
	}
	defer func() {
		observability.RecordIngestionRun(operation, string(track.run.Status))
	}()

	text := req.Text

	if withFetch {
		var contentType string
		err := track.stage(ctx, StageFetch, func() (map[string]any, error) {
			body, ct, err := p.fetch(ctx, req.URL)
			if err != nil {
				return nil, err
			}
			text = body
			contentType = ct
			return map[string]any{"bytes": len(body), "content_type": ct}, nil
		})
		if err != nil {
			return track.run, err
		}

		err = track.stage(ctx, StageExtract, func() (map[string]any, error) {
			extracted, err := extractText(text, contentType)
			if err != nil {
				return nil, err
			}
			text = extracted
			return map[string]any{"chars": len(extracted)}, nil
		})
		if err != nil {
			return track.run, err
		}
	}

	if withDelete {
		err := track.stage(ctx, StageDelete, func() (map[string]any, error) {
			removed, err := p.repo.DeleteChunksBySource(ctx, req.CorpusID, req.SourceURI)
			if err != nil {
				return nil, err
			}
			return map[string]any{"removed": removed}, nil
		})
		if err != nil {
			return track.run, err
		}
	}

	var pieces []string
	err := track.stage(ctx, StageChunk, func() (map[string]any, error) {
		var err error
		pieces, err = ChunkText(text, req.Chunk)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chunks": len(pieces)}, nil
	})
	if err != nil {
		return track.run, err
	}

	var vectors [][]float32
	if p.embedder != nil && len(pieces) > 0 {
		err := track.stage(ctx, StageEmbed, func() (map[string]any, error) {
			var err error
			vectors, err = p.embedAll(ctx, pieces)
			if err != nil {
				return nil, datatypes.EmbeddingFailed(err)
			}
			return map[string]any{"embedded": len(vectors)}, nil
		})
		if err != nil {
			return track.run, err
		}
	}

	err = track.stage(ctx, StagePersist, func() (map[string]any, error) {
		chunks := make([]datatypes.Knowledge, len(pieces))
		for i, piece := range pieces {
			chunks[i] = datatypes.Knowledge{
				CorpusID:   req.CorpusID,
				AppName:    req.AppName,
				Content:    piece,
				SourceURI:  req.SourceURI,
				ChunkIndex: i,
				Metadata:   req.Metadata,
			}
			if vectors != nil {
				chunks[i].Embedding = vectors[i]
			}
		}
		if len(chunks) > 0 {
			if err := p.repo.InsertChunks(ctx, chunks); err != nil {
				return nil, err
			}
		}
		observability.RecordChunksPersisted(len(chunks))
		return map[string]any{"persisted": len(chunks)}, nil
	})
	if err != nil {
		return track.run, err
	}

	track.run.Status = datatypes.RunStatusCompleted
	track.run.Payload["counts"] = map[string]any{"chunks": len(pieces)}
	if err := track.persist(ctx); err != nil {
		return track.run, err
	}

	p.logger.Info("ingestion completed",
		"operation", operation, "corpus_id", req.CorpusID,
		"source_uri", req.SourceURI, "chunks", len(pieces), "run_id", track.run.RunID)
	return track.run, nil
}

// fetch downloads a URL and returns (body, content type).
func (p *Pipeline) fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", datatypes.ContentFetchFailed(url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", datatypes.ContentFetchFailed(url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", datatypes.ContentFetchFailed(url, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", datatypes.ContentFetchFailed(url, err)
	}
	return string(body), resp.Header.Get("Content-Type"), nil
}

// embedAll embeds pieces in bounded concurrent batches. Positions stay
// aligned with the input; a single batch failure fails the whole call.
func (p *Pipeline) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, len(pieces))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(pieces); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pieces))
		g.Go(func() error {
			batch, err := p.embedder.Embed(ctx, pieces[start:end])
			if err != nil {
				observability.RecordEmbeddingCall("error")
				return err
			}
			observability.RecordEmbeddingCall("success")
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// runTracker persists run state after every stage transition.
type runTracker struct {
	repo Repository
	run  *datatypes.PipelineRun
}

func (t *runTracker) persist(ctx context.Context) error {
	return t.repo.UpsertRun(ctx, t.run)
}

// stage executes fn under a recorded StageStatus. A stage failure marks
// the run failed and stops the pipeline.
func (t *runTracker) stage(ctx context.Context, name string, fn func() (map[string]any, error)) error {
	stages := t.run.Payload["stages"].(map[string]any)
	started := time.Now().UTC()
	status := datatypes.StageStatus{Status: datatypes.RunStatusRunning, StartedAt: &started}
	stages[name] = status
	if err := t.persist(ctx); err != nil {
		return err
	}

	output, err := fn()
	completed := time.Now().UTC()
	status.CompletedAt = &completed
	status.DurationMs = completed.Sub(started).Milliseconds()
	status.Output = output

	if err != nil {
		status.Status = datatypes.RunStatusFailed
		status.ErrorType = string(datatypes.KindOf(err))
		status.Error = err.Error()
		stages[name] = status
		t.run.Status = datatypes.RunStatusFailed
		if perr := t.persist(ctx); perr != nil {
			return perr
		}
		return err
	}

	status.Status = datatypes.RunStatusCompleted
	stages[name] = status
	return t.persist(ctx)
}
