// Package flowstore keeps the live handoff flows in memory. Nothing here
// survives the process: credentials never outlive the single page lifetime.
package flowstore

import (
	"sync"
	"time"

	"github.com/codermrrob/loginbridge/internal/bridge"
	"github.com/codermrrob/loginbridge/internal/identity"
	"github.com/codermrrob/loginbridge/internal/launch"
	"github.com/codermrrob/loginbridge/internal/log"
)

// Flow is one launch's worth of handoff state: the validated launch
// request, the per-flow sign-in adapter, and the state machine.
type Flow struct {
	ID        string
	CreatedAt time.Time
	Request   launch.Request
	SignIn    *identity.GoogleSignIn
	Machine   *bridge.Machine
}

// Store is a mutex-guarded in-memory flow store keyed by flow ID.
type Store struct {
	mu    sync.RWMutex
	flows map[string]*Flow
	ttl   time.Duration
}

// NewStore creates a store whose flows expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		flows: make(map[string]*Flow),
		ttl:   ttl,
	}
}

// Put registers a flow, stamping its creation time.
func (s *Store) Put(flow *Flow) {
	flow.CreatedAt = time.Now()

	s.mu.Lock()
	s.flows[flow.ID] = flow
	count := len(s.flows)
	s.mu.Unlock()

	log.LogDebugWithFields("flowstore", "Flow registered", map[string]any{
		"flows": count,
	})
}

// Get returns the flow for the given ID, if it exists and has not expired.
func (s *Store) Get(id string) (*Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[id]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && time.Since(flow.CreatedAt) > s.ttl {
		return nil, false
	}
	return flow, true
}

// Delete tears a flow down: the machine is cancelled so a late provider
// callback cannot fire, then the flow is dropped.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	flow, ok := s.flows[id]
	if ok {
		delete(s.flows, id)
	}
	s.mu.Unlock()

	if ok {
		flow.Machine.Cancel()
	}
}

// CleanupExpired cancels and removes expired flows, returning how many were
// removed.
func (s *Store) CleanupExpired() int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Flow
	for id, flow := range s.flows {
		if flow.CreatedAt.Before(cutoff) {
			expired = append(expired, flow)
			delete(s.flows, id)
		}
	}
	s.mu.Unlock()

	for _, flow := range expired {
		flow.Machine.Cancel()
	}
	return len(expired)
}

// Len returns the number of live flows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
