// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"math"
	"time"
)

// DefaultDecayLambda is the per-day exponential decay rate.
const DefaultDecayLambda = 0.1

// RetentionScore computes a 0..1 eviction score from recency and access
// frequency. The score decays exponentially with days since last access
// and grows logarithmically with access count. Callers decide eviction;
// the store never evicts on its own.
func RetentionScore(lastAccessedAt *time.Time, accessCount int, now time.Time, lambda float64) float64 {
	if lambda <= 0 {
		lambda = DefaultDecayLambda
	}

	var daysSinceAccess float64
	if lastAccessedAt != nil {
		daysSinceAccess = now.Sub(*lastAccessedAt).Hours() / 24
		if daysSinceAccess < 0 {
			daysSinceAccess = 0
		}
	}

	timeDecay := math.Exp(-lambda * daysSinceAccess)
	frequencyBoost := 1 + math.Log(1+float64(accessCount))
	score := timeDecay * frequencyBoost / 5

	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
