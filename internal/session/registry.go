// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package session

import "sync"

// Registry maps live connections to the account guid they authenticated as.
// Both directions are indexed so the authenticator can answer "who is this
// connection" and "which connection holds this account" under one lock.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]string // connID -> guid
	byGuid map[string]string // guid -> connID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		byGuid: make(map[string]string),
	}
}

// Bind records that connID authenticated as guid, replacing any previous
// binding for either side.
func (r *Registry) Bind(connID, guid string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		delete(r.byGuid, prev)
	}
	if prev, ok := r.byGuid[guid]; ok {
		delete(r.byConn, prev)
	}
	r.byConn[connID] = guid
	r.byGuid[guid] = connID
}

// Resolve returns the guid bound to connID, if any.
func (r *Registry) Resolve(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	guid, ok := r.byConn[connID]
	return guid, ok
}

// ConnFor returns the connection currently holding guid, if any.
func (r *Registry) ConnFor(guid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byGuid[guid]
	return connID, ok
}

// Unbind removes the binding for connID and returns the guid it held.
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	guid, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byGuid[guid] == connID {
		delete(r.byGuid, guid)
	}
	return guid, true
}
