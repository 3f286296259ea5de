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

	"github.com/AleutianAI/negentropy/credential"
	"github.com/AleutianAI/negentropy/datatypes"
)

type credentialRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}

// PutCredential upserts an opaque credential payload for (app, user, key).
func PutCredential(store credential.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		cred := &datatypes.Credential{
			AppName:        appName(c),
			UserID:         c.Param("userId"),
			CredentialKey:  c.Param("key"),
			CredentialData: req.Data,
		}
		if err := store.Put(c.Request.Context(), cred); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cred)
	}
}

func GetCredential(store credential.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := store.Get(c.Request.Context(), appName(c), c.Param("userId"), c.Param("key"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cred)
	}
}

func DeleteCredential(store credential.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Delete(c.Request.Context(), appName(c), c.Param("userId"), c.Param("key")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

func ListCredentialKeys(store credential.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := store.ListKeys(c.Request.Context(), appName(c), c.Param("userId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}
