// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracing

import (
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Usage is the token accounting an LLM response exposes.
type Usage struct {
	PromptTokens     int
	CompletionTokens int

	// ResponseCost is the provider's explicit cost for this call, when
	// the API reports one. It takes priority over any computation.
	ResponseCost *float64

	// CostBreakdown is a provider-computed component map (prompt,
	// completion, cache reads). Summed when ResponseCost is absent.
	CostBreakdown map[string]float64
}

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// priceTable is the local fallback, keyed by normalized model name.
// Prices drift; treat derived costs as estimates.
var priceTable = map[string]modelPrice{
	"gpt-4o":            {input: 2.50, output: 10.00},
	"gpt-4o-mini":       {input: 0.15, output: 0.60},
	"gpt-4.1":           {input: 2.00, output: 8.00},
	"o3-mini":           {input: 1.10, output: 4.40},
	"claude-sonnet-4":   {input: 3.00, output: 15.00},
	"claude-haiku-3.5":  {input: 0.80, output: 4.00},
	"gemini-2.0-flash":  {input: 0.10, output: 0.40},
	"text-embedding-3-small": {input: 0.02},
	"text-embedding-3-large": {input: 0.13},
}

// CostFunc derives a USD cost from a model name and usage. The default
// implements the priority chain: explicit response cost, provider
// breakdown, local price table. Returns false when no cost is derivable.
type CostFunc func(model string, usage Usage) (float64, bool)

// DefaultCost is the package CostFunc; replaceable for custom billing.
var DefaultCost CostFunc = defaultCost

func defaultCost(model string, usage Usage) (float64, bool) {
	if usage.ResponseCost != nil {
		return *usage.ResponseCost, true
	}
	if len(usage.CostBreakdown) > 0 {
		total := 0.0
		for _, v := range usage.CostBreakdown {
			total += v
		}
		return total, true
	}
	price, ok := priceTable[NormalizeModelName(model)]
	if !ok {
		return 0, false
	}
	cost := float64(usage.PromptTokens)/1e6*price.input +
		float64(usage.CompletionTokens)/1e6*price.output
	return cost, true
}

// NormalizeModelName strips provider prefixes and date suffixes so
// "openai/gpt-4o-2024-11-20" and "gpt-4o" price identically.
func NormalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if idx := strings.LastIndexByte(model, '/'); idx >= 0 {
		model = model[idx+1:]
	}
	// Trailing -YYYY-MM-DD release tag.
	parts := strings.Split(model, "-")
	if len(parts) > 3 {
		tail := parts[len(parts)-3:]
		if len(tail[0]) == 4 && len(tail[1]) == 2 && len(tail[2]) == 2 &&
			isDigits(tail[0]) && isDigits(tail[1]) && isDigits(tail[2]) {
			model = strings.Join(parts[:len(parts)-3], "-")
		}
	}
	return model
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DecorateLLMSpan sets the generative-AI cost attributes on an
// LLM-call span. No-ops on attributes it cannot derive.
func DecorateLLMSpan(span trace.Span, model string, usage Usage) {
	normalized := NormalizeModelName(model)
	span.SetAttributes(
		attribute.String("gen_ai.request.model", normalized),
		attribute.Int("gen_ai.usage.input_tokens", usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", usage.CompletionTokens),
	)

	cost, ok := DefaultCost(model, usage)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Float64("gen_ai.usage.cost", cost))
	if details, err := json.Marshal(map[string]float64{"total": cost}); err == nil {
		span.SetAttributes(attribute.String("langfuse.observation.cost_details", string(details)))
	}
}
