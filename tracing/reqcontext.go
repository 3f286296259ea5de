// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type requestScopeKey struct{}

// RequestScope identifies the session and user a request acts on.
type RequestScope struct {
	SessionID string
	UserID    string
}

// WithRequestScope attaches session and user identity to the context.
// Every span started under this context picks up session.id and
// user.id attributes via the ScopeProcessor.
func WithRequestScope(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, requestScopeKey{}, RequestScope{SessionID: sessionID, UserID: userID})
}

// RequestScopeFrom extracts the scope, if any.
func RequestScopeFrom(ctx context.Context) (RequestScope, bool) {
	scope, ok := ctx.Value(requestScopeKey{}).(RequestScope)
	return scope, ok
}

// ScopeProcessor is a span processor that stamps spans with the
// request scope found on their start context.
type ScopeProcessor struct{}

func (ScopeProcessor) OnStart(parent context.Context, span sdktrace.ReadWriteSpan) {
	scope, ok := RequestScopeFrom(parent)
	if !ok {
		return
	}
	if scope.SessionID != "" {
		span.SetAttributes(attribute.String("session.id", scope.SessionID))
	}
	if scope.UserID != "" {
		span.SetAttributes(attribute.String("user.id", scope.UserID))
	}
}

func (ScopeProcessor) OnEnd(sdktrace.ReadOnlySpan)            {}
func (ScopeProcessor) Shutdown(context.Context) error         { return nil }
func (ScopeProcessor) ForceFlush(context.Context) error       { return nil }

var _ sdktrace.SpanProcessor = ScopeProcessor{}
