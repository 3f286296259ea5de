// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, object-store paths, or file names. Using these validators
// prevents injection attacks (SQL injection, path traversal) and keeps
// tenant identifiers predictable.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// appNamePattern matches valid tenant (app) names: letters, digits,
// underscores, hyphens, dots; 1-64 characters; must start alphanumeric.
var appNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// safeFilenamePattern keeps word characters, CJK ideographs, hyphens and
// dots. Everything else is stripped during sanitization.
var safeFilenamePattern = regexp.MustCompile(`[^\w\x{4e00}-\x{9fff}\-.]`)

// maxFilenameLen bounds sanitized filenames for object-store keys.
const maxFilenameLen = 255

// ValidateAppName validates a tenant label before it reaches a query or an
// object-store path.
//
// Valid app names:
//   - 1-64 characters
//   - Letters, digits, underscores, dots, hyphens
//   - First character alphanumeric
//
// Example:
//
//	if err := validation.ValidateAppName(appName); err != nil {
//	    return nil, datatypes.InvalidArgument("bad app name: %v", err)
//	}
func ValidateAppName(appName string) error {
	if appName == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if !appNamePattern.MatchString(appName) {
		return fmt.Errorf("invalid app name: %q (must be 1-64 alphanumeric, underscore, dot, or hyphen chars)", appName)
	}
	return nil
}

// ValidateUUID checks that id parses as a UUID. Session, memory, corpus and
// event identifiers all share this contract; a malformed id fails fast
// rather than being silently regenerated.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return nil
}

// SanitizeFilename makes an uploaded filename safe for use as an
// object-store key segment.
//
// The result:
//   - contains only word characters, CJK ideographs, hyphens and dots
//   - has all path separators removed (takes the final path element first)
//   - is truncated to 255 characters
//   - falls back to "file" when nothing safe remains
func SanitizeFilename(name string) string {
	// Strip any directory components, both separators.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = safeFilenamePattern.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "file"
	}
	return name
}
