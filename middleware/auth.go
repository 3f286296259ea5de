// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the engine's API.
//
// # Description
//
// The chain installed by routes.SetupRoutes is: request metrics, trace
// scope injection, then optional bearer-token auth. Identity itself is
// owned by a fronting collaborator; this package only gates on the
// shared token when one is configured.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Auth validates the Authorization bearer token against the shared
// secret. An empty secret disables the check so local development
// needs no auth infrastructure.
func Auth(tokenSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenSecret == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(tokenSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "missing or invalid bearer token",
			})
			return
		}
		c.Next()
	}
}
