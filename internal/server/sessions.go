package server

import (
	"sync"

	"github.com/treefix50/classreplay/internal/replay"
)

// registry tracks the open replay sessions by id. A limit of zero or less
// means unbounded.
type registry struct {
	mu       sync.Mutex
	limit    int
	sessions map[string]*replay.Session
}

func newRegistry(limit int) *registry {
	return &registry{limit: limit, sessions: make(map[string]*replay.Session)}
}

// add registers s and reports false when the registry is full.
func (r *registry) add(s *replay.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.sessions) >= r.limit {
		return false
	}
	r.sessions[s.ID()] = s
	return true
}

func (r *registry) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit > 0 && len(r.sessions) >= r.limit
}

func (r *registry) get(id string) (*replay.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// remove forgets id and returns the session, or nil when it was not
// registered.
func (r *registry) remove(id string) *replay.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

func (r *registry) list() []*replay.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*replay.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// closeAll closes and forgets every session.
func (r *registry) closeAll() int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*replay.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}
