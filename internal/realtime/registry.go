// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds the live set of connections and their bound identities.
// It is the only shared mutable structure in the realtime core; every
// access goes through the mutex because each connection runs its own
// read and write pumps.
//
// The registry is constructed at server start and injected into the hub
// rather than living as package state, so tests get a fresh one each time.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
	}
}

// Register assigns an opaque id to the connection and stores it with an
// unset identity. Returns the assigned connection id.
func (r *Registry) Register(c *Conn) string {
	id := uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	c.id = id
	c.createdAt = time.Now()
	r.conns[id] = c
	return id
}

// Bind sets the user identity for a previously registered connection and
// returns it. Binding an unknown (already closed) connection id is a
// silent no-op returning nil. Re-binding moves the connection between
// user sets; the last successful bind wins.
func (r *Registry) Bind(connectionID, userID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return nil
	}

	if prev := c.UserID(); prev != "" && prev != userID {
		r.removeUserIndex(prev, connectionID)
	}

	c.setUserID(userID)
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]*Conn)
		r.byUser[userID] = set
	}
	set[connectionID] = c
	return c
}

// Unregister removes the connection. Safe to call multiple times; returns
// true only on the call that actually removed it.
func (r *Registry) Unregister(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return false
	}

	delete(r.conns, connectionID)
	if userID := c.UserID(); userID != "" {
		r.removeUserIndex(userID, connectionID)
	}
	return true
}

// removeUserIndex drops one connection from a user's set (mu held).
func (r *Registry) removeUserIndex(userID, connectionID string) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// Get returns the connection for the given id, or nil.
func (r *Registry) Get(connectionID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connectionID]
}

// FindByUser returns all open connections bound to the given user, in
// connection-id order. One user may hold several concurrent connections
// (multiple tabs), so user-targeted pushes fan out over this set.
func (r *Registry) FindByUser(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	conns := make([]*Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	sortConns(conns)
	return conns
}

// Subscribe records topic interest on a connection. Topic semantics are
// left to callers. No-op for unknown connections.
func (r *Registry) Subscribe(connectionID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return
	}
	c.subscribe(topic)
}

// Snapshot returns all open connections in connection-id order. Broadcast
// iterates this copy; a connection closing mid-iteration just fails its
// own send.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	sortConns(conns)
	return conns
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// sortConns orders connections by id so broadcast and fan-out delivery
// order is consistent between runs.
func sortConns(conns []*Conn) {
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].id < conns[j].id
	})
}
