// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge implements the knowledge corpus: chunked ingestion
// with stage-tracked pipelines, hybrid retrieval, rerankers, and
// deduplicated document uploads.
package knowledge

import (
	"strings"

	"github.com/AleutianAI/negentropy/datatypes"
)

// ChunkOptions control text splitting.
type ChunkOptions struct {
	// ChunkSize is the window width in bytes. Minimum 1.
	ChunkSize int

	// Overlap is how many bytes consecutive windows share. Negative is
	// rejected; values >= ChunkSize clamp to ChunkSize-1.
	Overlap int

	// PreserveNewlines keeps internal line breaks; otherwise they
	// become spaces.
	PreserveNewlines bool
}

// DefaultChunkOptions matches the ingestion endpoints' defaults.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{ChunkSize: 1000, Overlap: 200, PreserveNewlines: false}
}

// ChunkText splits text into overlapping windows. Deterministic: the
// same input always yields the same chunks. Blank pieces are dropped.
func ChunkText(text string, opts ChunkOptions) ([]string, error) {
	if opts.ChunkSize < 1 {
		return nil, datatypes.InvalidArgument("chunk_size must be >= 1, got %d", opts.ChunkSize)
	}
	if opts.Overlap < 0 {
		return nil, datatypes.InvalidArgument("overlap must be >= 0, got %d", opts.Overlap)
	}
	overlap := opts.Overlap
	if overlap >= opts.ChunkSize {
		overlap = opts.ChunkSize - 1
	}

	cleaned := strings.TrimSpace(text)
	if !opts.PreserveNewlines {
		cleaned = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(cleaned)
	}
	if cleaned == "" {
		return nil, nil
	}

	step := opts.ChunkSize - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(cleaned); start += step {
		end := start + opts.ChunkSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		piece := strings.TrimSpace(cleaned[start:end])
		if piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(cleaned) {
			break
		}
	}
	return chunks, nil
}

// JoinChunks reconstructs source text from consecutive overlapping
// windows. Each adjacent pair is merged on the longest suffix of the
// previous window that prefixes the next, so shared overlap regions
// appear once; windows with no shared text are joined with a newline.
func JoinChunks(chunks []string) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			b.WriteString(chunk)
			continue
		}
		prev := chunks[i-1]
		shared := 0
		for k := min(len(prev), len(chunk)); k > 0; k-- {
			if strings.HasSuffix(prev, chunk[:k]) {
				shared = k
				break
			}
		}
		if shared == 0 {
			b.WriteString("\n")
		}
		b.WriteString(chunk[shared:])
	}
	return b.String()
}
