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
	"strings"
	"sync"
)

// State key prefixes. Keys without a prefix land in session state.
const (
	PrefixTemp = "temp:"
	PrefixUser = "user:"
	PrefixApp  = "app:"
)

// RoutedDelta is a state delta split by destination. Prefixes are
// stripped from the keys of User, App, and Temp.
type RoutedDelta struct {
	Session map[string]any
	User    map[string]any
	App     map[string]any
	Temp    map[string]any
}

// IsEmpty reports whether no destination received any keys.
func (d RoutedDelta) IsEmpty() bool {
	return len(d.Session) == 0 && len(d.User) == 0 && len(d.App) == 0 && len(d.Temp) == 0
}

// RouteStateDelta splits a raw state delta by key prefix. temp: keys are
// process-local and never persisted; user: and app: keys go to their
// scoped state rows; everything else goes to session state.
func RouteStateDelta(delta map[string]any) RoutedDelta {
	routed := RoutedDelta{}
	for key, value := range delta {
		switch {
		case strings.HasPrefix(key, PrefixTemp):
			if routed.Temp == nil {
				routed.Temp = make(map[string]any)
			}
			routed.Temp[strings.TrimPrefix(key, PrefixTemp)] = value
		case strings.HasPrefix(key, PrefixUser):
			if routed.User == nil {
				routed.User = make(map[string]any)
			}
			routed.User[strings.TrimPrefix(key, PrefixUser)] = value
		case strings.HasPrefix(key, PrefixApp):
			if routed.App == nil {
				routed.App = make(map[string]any)
			}
			routed.App[strings.TrimPrefix(key, PrefixApp)] = value
		default:
			if routed.Session == nil {
				routed.Session = make(map[string]any)
			}
			routed.Session[key] = value
		}
	}
	return routed
}

// ShallowMerge overlays delta onto existing. Delta values overwrite
// top-level keys; nested maps are replaced, not merged. The existing map
// is not modified.
func ShallowMerge(existing, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(delta))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}

// TempCache holds temp:-prefixed state in process memory, keyed by
// session ID. Contents vanish on restart and are evicted when the
// session is deleted. Safe for concurrent use.
type TempCache struct {
	mu    sync.RWMutex
	state map[string]map[string]any
}

// NewTempCache creates an empty cache.
func NewTempCache() *TempCache {
	return &TempCache{state: make(map[string]map[string]any)}
}

// Merge shallow-merges delta into the cached state for sessionID.
func (c *TempCache) Merge(sessionID string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[sessionID] = ShallowMerge(c.state[sessionID], delta)
}

// Get returns a copy of the cached state for sessionID.
func (c *TempCache) Get(sessionID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.state[sessionID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(cached))
	for k, v := range cached {
		out[k] = v
	}
	return out
}

// Evict drops all cached state for sessionID.
func (c *TempCache) Evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, sessionID)
}
