// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/AleutianAI/negentropy/config"
)

// HashEmbedder is a deterministic, offline Embedder. It hashes word
// tokens into a fixed-width bag-of-words vector and L2-normalizes it, so
// texts sharing vocabulary land near each other under cosine distance.
// Used when no provider endpoint is configured, and in tests.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder creates a HashEmbedder with the given width (minimum 8).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 8 {
		dim = 8
	}
	return &HashEmbedder{Dim: dim}
}

// Dimension reports the vector width.
func (e *HashEmbedder) Dimension() int { return e.Dim }

// Embed produces one normalized vector per text. Never fails.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	v := make([]float32, e.Dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum) % e.Dim
		if idx < 0 {
			idx += e.Dim
		}
		// Sign bit spreads tokens across both directions.
		if sum&0x80000000 != 0 {
			v[idx] -= 1
		} else {
			v[idx] += 1
		}
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

// StaticChatModel returns canned text, optionally keyed by a substring of
// the user prompt. Zero value echoes a truncated prompt, which is enough
// for offline title summarization.
type StaticChatModel struct {
	Response  string
	Responses map[string]string
}

// Complete returns the configured response for the prompt.
func (m *StaticChatModel) Complete(ctx context.Context, systemPrompt, userPrompt string, params config.GenerationParams) (string, error) {
	for key, resp := range m.Responses {
		if strings.Contains(userPrompt, key) {
			return resp, nil
		}
	}
	if m.Response != "" {
		return m.Response, nil
	}
	out := strings.TrimSpace(userPrompt)
	if len(out) > 64 {
		out = out[:64]
	}
	return out, nil
}

var (
	_ Embedder  = (*HashEmbedder)(nil)
	_ ChatModel = (*StaticChatModel)(nil)
)
