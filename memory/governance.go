// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/pkg/logging"
)

// AuditRequest carries one governance request over a user's memories.
type AuditRequest struct {
	AppName          string
	UserID           string
	Decisions        map[string]datatypes.AuditDecision // memory_id -> action
	ExpectedVersions map[string]int                     // optional optimistic lock
	Note             string
	IdempotencyKey   string
}

// Governance applies audit decisions to memories and their sibling
// facts, atomically per request, with idempotent replay.
type Governance struct {
	store  Store
	logger *logging.Logger
}

// NewGovernance creates a Governance service.
func NewGovernance(store Store, logger *logging.Logger) *Governance {
	if logger == nil {
		logger = logging.Default()
	}
	return &Governance{store: store, logger: logger}
}

// Audit executes the request inside one transaction. Replays with a
// known idempotency key return the original records unchanged. A version
// mismatch on any memory fails the whole request and reverts every
// mutation.
func (g *Governance) Audit(ctx context.Context, req AuditRequest) ([]datatypes.AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "memory.Audit")
	defer span.End()
	span.SetAttributes(attribute.Int("audit.decision_count", len(req.Decisions)))

	if len(req.Decisions) == 0 {
		return nil, datatypes.InvalidArgument("decisions are required")
	}
	for memoryID, decision := range req.Decisions {
		if !decision.Valid() {
			return nil, datatypes.InvalidArgument("unknown audit action %q for memory %s", decision, memoryID)
		}
	}

	// Deterministic order keeps concurrent requests from deadlocking in
	// the Postgres backend and makes replay comparison stable.
	memoryIDs := make([]string, 0, len(req.Decisions))
	for id := range req.Decisions {
		memoryIDs = append(memoryIDs, id)
	}
	sort.Strings(memoryIDs)

	var records []datatypes.AuditRecord
	err := g.store.InAuditTx(ctx, func(ops AuditOps) error {
		if req.IdempotencyKey != "" {
			prior, err := ops.PriorAuditRecords(ctx, req.AppName, req.UserID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				records = prior
				return nil
			}
		}

		for _, memoryID := range memoryIDs {
			decision := req.Decisions[memoryID]

			currentVersion, err := ops.MaxAuditVersion(ctx, req.AppName, req.UserID, memoryID)
			if err != nil {
				return err
			}
			if expected, ok := req.ExpectedVersions[memoryID]; ok && expected != currentVersion {
				return datatypes.VersionConflict("memory", expected, currentVersion)
			}

			if err := g.applyDecision(ctx, ops, req, memoryID, decision); err != nil {
				return err
			}

			rec := datatypes.AuditRecord{
				AppName:        req.AppName,
				UserID:         req.UserID,
				MemoryID:       memoryID,
				Decision:       decision,
				Note:           req.Note,
				IdempotencyKey: req.IdempotencyKey,
				Version:        currentVersion + 1,
			}
			if err := ops.InsertAuditRecord(ctx, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("memory audit applied",
		"app_name", req.AppName, "user_id", req.UserID,
		"records", len(records), "idempotency_key", req.IdempotencyKey)
	return records, nil
}

func (g *Governance) applyDecision(ctx context.Context, ops AuditOps, req AuditRequest, memoryID string, decision datatypes.AuditDecision) error {
	switch decision {
	case datatypes.DecisionRetain:
		return nil

	case datatypes.DecisionDelete:
		m, err := ops.GetMemory(ctx, req.AppName, req.UserID, memoryID)
		if err != nil {
			return err
		}
		if err := ops.DeleteMemory(ctx, req.AppName, req.UserID, memoryID); err != nil {
			return err
		}
		if m.SessionID != "" {
			return ops.DeleteFactsBySession(ctx, req.AppName, req.UserID, m.SessionID)
		}
		return nil

	case datatypes.DecisionAnonymize:
		m, err := ops.GetMemory(ctx, req.AppName, req.UserID, memoryID)
		if err != nil {
			return err
		}
		if err := ops.AnonymizeMemory(ctx, req.AppName, req.UserID, memoryID); err != nil {
			return err
		}
		if m.SessionID != "" {
			return ops.AnonymizeFactsBySession(ctx, req.AppName, req.UserID, m.SessionID)
		}
		return nil
	}
	return datatypes.InvalidArgument("unknown audit action %q", decision)
}
