package engine

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// SessionStore holds per-user flow sessions. Implementations must be safe
// for concurrent use.
type SessionStore interface {
	// Get returns the session stored under exactly key, or nil.
	Get(key string) *models.Session
	// Resolve finds the session for a phone number, falling back to fuzzy
	// matching when the exact key is absent: a stored key and the input
	// match when one is a suffix of the other. This bridges local-format
	// numbers ("98765...") against international ones ("9198765...").
	// It returns the canonical stored key alongside the session, or
	// (phone, nil) when nothing matches.
	Resolve(phone string) (string, *models.Session)
	// Put stores a session under key, replacing any existing one.
	Put(key string, s *models.Session)
	// Delete removes the session stored under key.
	Delete(key string)
	// Len returns the number of live sessions.
	Len() int
}

// InMemorySessionStore is the default SessionStore. Sessions live in process
// memory and are lost on restart.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewInMemorySessionStore creates an empty in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*models.Session)}
}

// Get implements SessionStore.
func (st *InMemorySessionStore) Get(key string) *models.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[key]
}

// Resolve implements SessionStore.
func (st *InMemorySessionStore) Resolve(phone string) (string, *models.Session) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.sessions[phone]; ok {
		return phone, s
	}
	for key, s := range st.sessions {
		if strings.HasSuffix(key, phone) || strings.HasSuffix(phone, key) {
			slog.Debug("InMemorySessionStore.Resolve fuzzy match", "phone", phone, "sessionKey", key)
			return key, s
		}
	}
	return phone, nil
}

// Put implements SessionStore.
func (st *InMemorySessionStore) Put(key string, s *models.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[key] = s
}

// Delete implements SessionStore.
func (st *InMemorySessionStore) Delete(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, key)
}

// Len implements SessionStore.
func (st *InMemorySessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// tempFlowTTL is how long an unsaved flow registered for a test run stays
// resolvable before it expires.
const tempFlowTTL = time.Hour

type tempFlowEntry struct {
	flow    models.FlowDefinition
	expires time.Time
}

// tempFlowRegistry holds unsaved flow definitions registered for test runs,
// keyed by id. Entries expire lazily on access.
type tempFlowRegistry struct {
	mu    sync.Mutex
	flows map[string]tempFlowEntry
	now   func() time.Time
}

func newTempFlowRegistry() *tempFlowRegistry {
	return &tempFlowRegistry{flows: make(map[string]tempFlowEntry), now: time.Now}
}

func (r *tempFlowRegistry) register(flow models.FlowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, entry := range r.flows {
		if now.After(entry.expires) {
			delete(r.flows, id)
		}
	}
	r.flows[flow.ID] = tempFlowEntry{flow: flow, expires: now.Add(tempFlowTTL)}
}

func (r *tempFlowRegistry) get(id string) *models.FlowDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.flows[id]
	if !ok {
		return nil
	}
	if r.now().After(entry.expires) {
		delete(r.flows, id)
		return nil
	}
	flow := entry.flow
	return &flow
}
