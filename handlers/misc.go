// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// DefaultAppName scopes requests that do not name an application.
const DefaultAppName = "default"

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// appName resolves the application scope for a request. The header wins
// over the query parameter; both absent falls back to DefaultAppName.
func appName(c *gin.Context) string {
	if app := c.GetHeader("X-App-Name"); app != "" {
		return app
	}
	if app := c.Query("app_name"); app != "" {
		return app
	}
	return DefaultAppName
}

// queryInt parses an integer query parameter, returning def when absent
// or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
