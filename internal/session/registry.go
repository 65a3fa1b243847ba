/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package session

import (
	"sort"
	"sync"
	"time"
)

// Registry is the concurrency-safe store of live sessions keyed by
// client id. Per-key operations are atomic; cross-structure ordering
// (registry vs topic tree) is the engine's responsibility.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// AddClient inserts the session, returning the previous session under
// the same client id if one existed. The caller signals the evicted
// session's mailbox and removes its tree subscriptions.
func (r *Registry) AddClient(s *Session) (evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted = r.sessions[s.ClientID]
	r.sessions[s.ClientID] = s
	return evicted
}

// RemoveClient removes and returns the session, or nil if unknown.
func (r *Registry) RemoveClient(clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[clientID]
	delete(r.sessions, clientID)
	return s
}

// GetSession returns the live session for clientID, or nil.
func (r *Registry) GetSession(clientID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[clientID]
}

// AddSubscription records a filter on the session. It reports false
// when the client id is unknown (already-disconnected race); the
// caller must then skip the topic-tree insert.
func (r *Registry) AddSubscription(clientID, filter string, qos byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return false
	}
	s.Subscriptions[filter] = Subscription{QoS: qos, SubscribedAt: time.Now()}
	return true
}

// RemoveSubscription drops a filter from the session. It reports false
// when the client id is unknown.
func (r *Registry) RemoveSubscription(clientID, filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return false
	}
	delete(s.Subscriptions, filter)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ListPaginated returns one page of session snapshots, ordered by
// client id for stable pagination. The snapshots carry no mailbox
// handle and are safe to serialize outside the engine.
func (r *Registry) ListPaginated(page, size int) Page[*Session] {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := page * size
	end := start + size
	if start > len(ids) {
		start = len(ids)
	}
	if end > len(ids) {
		end = len(ids)
	}
	content := make([]*Session, 0, end-start)
	for _, id := range ids[start:end] {
		content = append(content, r.sessions[id].Clone())
	}
	r.mu.RUnlock()

	return NewPage(content, page, size, len(ids))
}
