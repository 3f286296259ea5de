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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/session"
)

// ===== Sessions =====

type createSessionRequest struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state"`
}

func CreateSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sess, err := svc.Create(c.Request.Context(), appName(c), c.Param("userId"), req.ID, req.State)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

func GetSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		recentN := queryInt(c, "recent_n", 0)
		sess, err := svc.Get(c.Request.Context(), appName(c), c.Param("userId"), c.Param("sessionId"), recentN)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func ListSessions(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := svc.List(c.Request.Context(), appName(c), c.Param("userId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
	}
}

func DeleteSession(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := svc.Delete(c.Request.Context(), appName(c), c.Param("userId"), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
	}
}

type updateTitleRequest struct {
	Title string `json:"title" binding:"required"`
}

func UpdateSessionTitle(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateTitleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		err := svc.UpdateTitle(c.Request.Context(), appName(c), c.Param("userId"), c.Param("sessionId"), req.Title)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

// ===== Events =====

// AppendEvent appends one event to a session. The store assigns the
// sequence number and routes state-delta prefixes; the response carries
// both back to the caller.
func AppendEvent(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event datatypes.Event
		if err := c.ShouldBindJSON(&event); err != nil {
			badRequest(c, err)
			return
		}
		appended, err := svc.AppendEvent(c.Request.Context(), appName(c), c.Param("userId"), c.Param("sessionId"), &event)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, appended)
	}
}

// ===== Scoped state =====

func GetUserState(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := svc.UserState(c.Request.Context(), appName(c), c.Param("userId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": state})
	}
}

func GetAppState(svc *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := svc.AppState(c.Request.Context(), appName(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": state})
	}
}
