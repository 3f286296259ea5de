// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/tracing"
)

// Metrics records per-route request counts, durations, and in-flight
// gauge. Routes are labeled by their template, not the raw path, to
// keep label cardinality bounded.
func Metrics(m *observability.EngineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RequestsTotal.WithLabelValues(route, status).Inc()
		m.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// RequestScope copies session and user identifiers from the request
// into the trace context so every span under this request carries them.
func RequestScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		userID := c.Param("userId")
		if sessionID == "" {
			sessionID = c.Query("session_id")
		}
		if userID == "" {
			userID = c.Query("user_id")
		}
		if sessionID != "" || userID != "" {
			ctx := tracing.WithRequestScope(c.Request.Context(), sessionID, userID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
