// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Domain Error Kinds
// =============================================================================

// Kind classifies a domain error into one of the stable machine codes that
// the HTTP boundary translates into status codes. Every core component
// returns *Error values carrying one of these kinds; nothing below the
// handlers package speaks HTTP.
type Kind string

const (
	// KindInvalidArgument covers malformed requests: bad UUIDs, unknown
	// audit actions, out-of-range weights, negative overlap.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// KindNotFound means the addressed row does not exist. Stores never
	// synthesize a missing row to hide this.
	KindNotFound Kind = "NOT_FOUND"

	// KindVersionConflict is an optimistic-lock mismatch on governance
	// decisions or pipeline-run upserts.
	KindVersionConflict Kind = "VERSION_CONFLICT"

	// KindEmbeddingFailed means the embedding provider failed after the
	// configured retries.
	KindEmbeddingFailed Kind = "EMBEDDING_FAILED"

	// KindSearchError is a retrieval failure that is not a provider
	// embedding failure (bad tsquery, vector index error).
	KindSearchError Kind = "SEARCH_ERROR"

	// KindContentFetchFailed means a URL or object-store fetch failed
	// during ingestion.
	KindContentFetchFailed Kind = "CONTENT_FETCH_FAILED"

	// KindContentExtractionFailed means fetched bytes could not be turned
	// into plain text.
	KindContentExtractionFailed Kind = "CONTENT_EXTRACTION_FAILED"

	// KindDatabaseError is a transport or integrity failure from the
	// storage layer. The enclosing transaction has been rolled back.
	KindDatabaseError Kind = "DATABASE_ERROR"

	// KindInternal is the fallback for everything else.
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is the typed domain error carried through every service boundary.
//
// # Description
//
// Error wraps an optional cause so that errors.Is/errors.As keep working
// through the chain, and carries structured details that surface in the
// HTTP error payload. Construct values through the helper constructors
// below rather than building the struct directly.
//
// # Example
//
//	if row == nil {
//	    return nil, datatypes.NotFound("session", id)
//	}
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a key/value pair to the error's detail map and
// returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// =============================================================================
// Constructors
// =============================================================================

// InvalidArgument creates an INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NOT_FOUND error for the named resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

// VersionConflict creates a VERSION_CONFLICT error carrying both versions.
func VersionConflict(resource string, expected, current int) *Error {
	return &Error{
		Kind:    KindVersionConflict,
		Message: fmt.Sprintf("%s version conflict", resource),
		Details: map[string]any{"expected_version": expected, "current_version": current},
	}
}

// EmbeddingFailed wraps a provider failure after retries were exhausted.
func EmbeddingFailed(cause error) *Error {
	return &Error{Kind: KindEmbeddingFailed, Message: "embedding provider failed", cause: cause}
}

// SearchError wraps a retrieval failure.
func SearchError(cause error) *Error {
	return &Error{Kind: KindSearchError, Message: "search failed", cause: cause}
}

// ContentFetchFailed wraps an ingestion fetch failure.
func ContentFetchFailed(source string, cause error) *Error {
	return &Error{
		Kind:    KindContentFetchFailed,
		Message: "content fetch failed",
		Details: map[string]any{"source": source},
		cause:   cause,
	}
}

// ContentExtractionFailed wraps a text-extraction failure.
func ContentExtractionFailed(contentType string, cause error) *Error {
	return &Error{
		Kind:    KindContentExtractionFailed,
		Message: "content extraction failed",
		Details: map[string]any{"content_type": contentType},
		cause:   cause,
	}
}

// DatabaseError wraps a storage-layer failure.
func DatabaseError(cause error) *Error {
	return &Error{Kind: KindDatabaseError, Message: "database operation failed", cause: cause}
}

// Internal wraps anything that has no better classification.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: cause}
}

// =============================================================================
// Inspection
// =============================================================================

// KindOf extracts the Kind from any error in the chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code the boundary returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
