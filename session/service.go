// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/pkg/validation"
)

var tracer = otel.Tracer("negentropy.session")

// Service implements session operations on top of a Store: validation,
// state-delta routing, the temp cache, and background title generation.
//
// # Thread Safety
//
// Service is safe for concurrent use.
type Service struct {
	store  Store
	temp   *TempCache
	titler *Titler
	logger *logging.Logger

	// titleWG lets tests wait for background title generation.
	titleWG sync.WaitGroup
}

// NewService creates a Service. titler may be nil to disable automatic
// title generation.
func NewService(store Store, titler *Titler, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:  store,
		temp:   NewTempCache(),
		titler: titler,
		logger: logger,
	}
}

// Create starts a new session. id may be empty (a random UUID is
// generated) but when present must be a valid UUID.
func (s *Service) Create(ctx context.Context, appName, userID, id string, state map[string]any) (*datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "session.Create")
	defer span.End()

	if err := validation.ValidateAppName(appName); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, datatypes.InvalidArgument("user_id is required")
	}
	if id == "" {
		id = uuid.NewString()
	} else if err := validation.ValidateUUID(id); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", id))

	// Prefixed keys are not allowed in initial session state.
	routed := RouteStateDelta(state)
	sess := &datatypes.Session{
		ID:      id,
		AppName: appName,
		UserID:  userID,
		State:   routed.Session,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if len(routed.Temp) > 0 {
		s.temp.Merge(id, routed.Temp)
	}

	s.logger.Info("session created", "session_id", id, "app_name", appName, "user_id", userID)
	return sess, nil
}

// Get loads a session with its events. recentN > 0 limits to the most
// recent N events.
func (s *Service) Get(ctx context.Context, appName, userID, id string, recentN int) (*datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "session.Get")
	defer span.End()

	if err := validation.ValidateUUID(id); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, appName, userID, id, recentN)
}

// List returns the user's sessions without events.
func (s *Service) List(ctx context.Context, appName, userID string) ([]*datatypes.Session, error) {
	ctx, span := tracer.Start(ctx, "session.List")
	defer span.End()
	return s.store.ListSessions(ctx, appName, userID)
}

// Delete removes a session and evicts its temp state.
func (s *Service) Delete(ctx context.Context, appName, userID, id string) error {
	ctx, span := tracer.Start(ctx, "session.Delete")
	defer span.End()

	if err := validation.ValidateUUID(id); err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, appName, userID, id); err != nil {
		return err
	}
	s.temp.Evict(id)
	s.logger.Info("session deleted", "session_id", id, "app_name", appName)
	return nil
}

// AppendEvent appends an event: author normalization, state-delta
// routing, ordered insert, temp-cache merge, and title scheduling.
func (s *Service) AppendEvent(ctx context.Context, appName, userID, sessionID string, event *datatypes.Event) (*datatypes.Event, error) {
	ctx, span := tracer.Start(ctx, "session.AppendEvent")
	defer span.End()

	if err := validation.ValidateUUID(sessionID); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, datatypes.InvalidArgument("event is required")
	}

	if event.Author == "" {
		return nil, datatypes.InvalidArgument("event author is required")
	}
	event.Author = datatypes.NormalizeAuthor(string(event.Author))

	routed := RouteStateDelta(event.Actions.StateDelta)
	appended, err := s.store.AppendEvent(ctx, appName, userID, sessionID, event, routed)
	if err != nil {
		return nil, err
	}
	if len(routed.Temp) > 0 {
		s.temp.Merge(sessionID, routed.Temp)
	}
	span.SetAttributes(attribute.Int64("event.sequence_num", appended.SequenceNum))
	observability.RecordEventAppended(string(appended.Author))

	s.maybeScheduleTitle(appName, userID, sessionID)
	return appended, nil
}

// UpdateTitle sets the session title explicitly.
func (s *Service) UpdateTitle(ctx context.Context, appName, userID, id, title string) error {
	ctx, span := tracer.Start(ctx, "session.UpdateTitle")
	defer span.End()

	if err := validation.ValidateUUID(id); err != nil {
		return err
	}
	if title == "" {
		return datatypes.InvalidArgument("title is required")
	}
	return s.store.PatchMetadata(ctx, appName, userID, id, map[string]any{"title": title})
}

// TempState returns the process-local temp state for a session.
func (s *Service) TempState(sessionID string) map[string]any {
	return s.temp.Get(sessionID)
}

// UserState returns the user-scoped state map.
func (s *Service) UserState(ctx context.Context, appName, userID string) (map[string]any, error) {
	return s.store.GetUserState(ctx, appName, userID)
}

// AppState returns the app-scoped state map.
func (s *Service) AppState(ctx context.Context, appName string) (map[string]any, error) {
	return s.store.GetAppState(ctx, appName)
}

// maybeScheduleTitle kicks off background title generation when the
// session has no title yet and at least two non-tool events. Failures
// are logged and never affect the append that triggered them.
func (s *Service) maybeScheduleTitle(appName, userID, sessionID string) {
	if s.titler == nil {
		return
	}

	s.titleWG.Add(1)
	go func() {
		defer s.titleWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sess, err := s.store.GetSession(ctx, appName, userID, sessionID, 0)
		if err != nil {
			s.logger.Warn("title generation skipped", "session_id", sessionID, "error", err)
			return
		}
		if sess.Title() != "" || countNonTool(sess.Events) < 2 {
			return
		}

		title, err := s.titler.Generate(ctx, sess)
		if err != nil || title == "" {
			s.logger.Warn("title generation failed", "session_id", sessionID, "error", err)
			return
		}
		if err := s.store.PatchMetadata(ctx, appName, userID, sessionID, map[string]any{"title": title}); err != nil {
			s.logger.Warn("title patch failed", "session_id", sessionID, "error", err)
			return
		}
		s.logger.Debug("session title generated", "session_id", sessionID)
	}()
}

// WaitForTitles blocks until in-flight title generation finishes.
// Test helper; also used during graceful shutdown.
func (s *Service) WaitForTitles() {
	s.titleWG.Wait()
}

func countNonTool(events []datatypes.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Author != datatypes.AuthorTool {
			n++
		}
	}
	return n
}
