// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"strconv"
)

// GenerationParams are provider-neutral LLM sampling knobs. Zero values
// mean "provider default"; MaxTokens 0 means unlimited.
type GenerationParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
}

// ParseGenerationParams translates a loosely-typed kwargs map (as stored
// in pipeline payloads or request metadata) into GenerationParams.
// Recognized keys: temperature, top_p, max_tokens, max_output_tokens,
// stop, stop_sequences. Unknown keys are ignored; malformed values fall
// back to zero.
func ParseGenerationParams(kwargs map[string]any) GenerationParams {
	var p GenerationParams
	if kwargs == nil {
		return p
	}
	if v, ok := toFloat32(kwargs["temperature"]); ok {
		p.Temperature = v
	}
	if v, ok := toFloat32(kwargs["top_p"]); ok {
		p.TopP = v
	}
	if v, ok := toInt(kwargs["max_tokens"]); ok {
		p.MaxTokens = v
	} else if v, ok := toInt(kwargs["max_output_tokens"]); ok {
		p.MaxTokens = v
	}
	if stops := toStrings(kwargs["stop"]); stops != nil {
		p.Stop = stops
	} else if stops := toStrings(kwargs["stop_sequences"]); stops != nil {
		p.Stop = stops
	}
	return p
}

func toFloat32(v any) (float32, bool) {
	switch x := v.(type) {
	case float64:
		return float32(x), true
	case float32:
		return x, true
	case int:
		return float32(x), true
	case string:
		if f, err := strconv.ParseFloat(x, 32); err == nil {
			return float32(f), true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		if n, err := strconv.Atoi(x); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
