// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVector(t *testing.T) {
	assert.Equal(t, "", EncodeVector(nil))
	assert.Equal(t, "", EncodeVector([]float32{}))
	assert.Equal(t, "[1,2.5,-0.25]", EncodeVector([]float32{1, 2.5, -0.25}))
}

func TestParseVectorRoundTrip(t *testing.T) {
	original := []float32{0.125, -3, 0, 42.5}
	parsed, err := ParseVector(EncodeVector(original))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestParseVectorEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float32
		wantErr bool
	}{
		{"empty string", "", nil, false},
		{"empty brackets", "[]", nil, false},
		{"spaces between components", "[1, 2, 3]", []float32{1, 2, 3}, false},
		{"missing brackets", "1,2,3", nil, true},
		{"non-numeric component", "[1,two,3]", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVector(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
