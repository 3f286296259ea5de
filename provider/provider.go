// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provider defines the model-access contracts used by the memory
// and knowledge subsystems, plus implementations backed by any
// OpenAI-compatible endpoint.
//
// # Thread Safety
//
// All implementations in this package are safe for concurrent use.
package provider

import (
	"context"

	"github.com/AleutianAI/negentropy/config"
)

// Embedder converts text into fixed-dimension embedding vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order. All
	// vectors have Dimension() components.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the embedding width this provider produces.
	Dimension() int
}

// ChatModel generates text from a prompt. The engine uses it for session
// title summarization and memory consolidation.
type ChatModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, params config.GenerationParams) (string, error)
}

// Reranker reorders retrieval candidates by relevance to the query.
// Scores are higher-is-better and need not be normalized.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}
