// Package session tracks which connections claim which usernames and derives
// online presence from that mapping.
package session

import (
	"sort"
	"sync"
)

// Change describes the presence transitions caused by a Register call.
type Change struct {
	// Joined is true when the username went from zero to one connection.
	Joined bool
	// Departed names the username the connection was moved away from when
	// that move left it without connections.
	Departed string
}

// Registry maps live connections to usernames and back. Presence is derived
// from the same maps, so both views change under one lock.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Register adds connID to the session set of username. Registering the same
// pair twice is a no-op. A connection already registered under a different
// username is moved.
func (r *Registry) Register(connID, username string) Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var change Change
	if prev, ok := r.byConn[connID]; ok {
		if prev == username {
			return change
		}
		if r.detach(connID, prev) {
			change.Departed = prev
		}
	}

	conns := r.byUser[username]
	if conns == nil {
		conns = make(map[string]struct{})
		r.byUser[username] = conns
	}
	change.Joined = len(conns) == 0
	conns[connID] = struct{}{}
	r.byConn[connID] = username

	return change
}

// Unregister removes connID from whatever session it belonged to. ok is false
// when the connection was never registered. left is true when it was the
// last connection of username.
func (r *Registry) Unregister(connID string) (username string, left bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok = r.byConn[connID]
	if !ok {
		return "", false, false
	}
	delete(r.byConn, connID)
	left = r.detach(connID, username)
	return username, left, true
}

// detach removes connID from username's set and reports whether the set
// became empty. Caller holds the write lock.
func (r *Registry) detach(connID, username string) bool {
	conns := r.byUser[username]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, username)
		return true
	}
	return false
}

// ConnectionsFor returns the live connection ids of username, sorted. The
// result is empty for offline or unknown users.
func (r *Registry) ConnectionsFor(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[username]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Username returns the username claimed by connID.
func (r *Registry) Username(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.byConn[connID]
	return username, ok
}
