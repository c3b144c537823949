package mcp

import "sync"

// SessionRegistry maps actor IDs to MCP session IDs.
// Populated automatically when tools are called with an actor or owner id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // actorID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an actor ID with a session ID.
// If the actor already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(actorID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[actorID] = sessionID
}

// SessionFor returns the session ID for the given actor, if connected.
func (r *SessionRegistry) SessionFor(actorID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[actorID]
	return sid, ok
}

// Sessions returns a snapshot of all registered session IDs.
func (r *SessionRegistry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.sessions))
	out := make([]string, 0, len(r.sessions))
	for _, sid := range r.sessions {
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		out = append(out, sid)
	}
	return out
}

// Remove deletes all actor mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, aid)
		}
	}
}
