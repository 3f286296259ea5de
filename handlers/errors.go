// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP boundary.
//
// # Description
//
// Handlers bind and validate requests, call the domain services, and
// translate typed domain errors into the wire error shape. Nothing
// below this package speaks HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/negentropy/datatypes"
)

// ErrorResponse is the wire shape for every error the API returns.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError translates a domain error into the status code and payload
// for its kind. It is the single place errors become HTTP.
func writeError(c *gin.Context, err error) {
	kind := datatypes.KindOf(err)
	status := datatypes.HTTPStatus(kind)

	resp := ErrorResponse{Code: string(kind)}
	var de *datatypes.Error
	if errors.As(err, &de) {
		resp.Message = de.Message
		resp.Details = de.Details
	} else {
		resp.Message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"path", c.FullPath(),
			"code", resp.Code,
			"error", err)
	}
	c.JSON(status, resp)
}

// badRequest reports a binding or validation failure.
func badRequest(c *gin.Context, err error) {
	writeError(c, datatypes.InvalidArgument("invalid request: %v", err))
}
