package readers

import (
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// DeadSessionAfter is the idle threshold beyond which a session is
// reaped.
const DeadSessionAfter int64 = 60_000_000 // micros

// Registry tracks every connected reader session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	nextID   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Register creates and tracks a new session.
func (r *Registry) Register(kind Kind, ip string) *Session {
	id := r.nextID.Add(1)
	s := newSession(id, kind, ip, r.remove)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"session": id,
		"kind":    kind.String(),
		"ip":      ip,
	}).Info("reader session registered")
	return s
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	if ok {
		log.WithField("session", s.ID).Info("reader session removed")
	}
}

// Get returns a session by id.
func (r *Registry) Get(id int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns every live session, ordered by id.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SubscribedTo returns the sessions subscribed to a table, ordered by
// id.
func (r *Registry) SubscribedTo(table string) []*Session {
	all := r.All()
	subscribed := all[:0]
	for _, s := range all {
		if s.SubscribedTo(table) {
			subscribed = append(subscribed, s)
		}
	}
	return subscribed
}

// GCDead closes sessions with no incoming traffic for
// DeadSessionAfter and returns how many were closed.
func (r *Registry) GCDead(now int64) int {
	reaped := 0
	for _, s := range r.All() {
		if now-s.LastIncoming() <= DeadSessionAfter {
			continue
		}
		log.WithFields(log.Fields{
			"session": s.ID,
			"name":    s.Name(),
		}).Warning("reaping idle reader session")
		s.Close()
		reaped++
	}
	return reaped
}
