// Package session tracks the binding between one user and one virtual
// machine for the duration of interactive use. The registry is the source of
// truth for "is this machine assigned", which the scaling logic consults
// before terminating anything.
package session

import (
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"github.com/skypoolhq/skypool/types"
	"github.com/skypoolhq/skypool/utils"
)

// Session binds a user to an instance. Idle and expired are derived from
// LastActivity, never stored.
type Session struct {
	ID         types.SessionID
	UserID     types.UserID
	InstanceID types.InstanceID

	// AllocatedAt is when the instance was assigned to the user.
	AllocatedAt time.Time
	// LastActivity is reset on every user-visible action.
	LastActivity time.Time
	// Timeout is how long the session may go without activity before the
	// expiry loop reclaims it.
	Timeout time.Duration

	// Address and Port are where the remote desktop transport connects.
	Address string
	Port    int
	// RemoteDesktopReady is set once a pooled connection for the session has
	// been established at least once.
	RemoteDesktopReady bool
}

// Expired reports whether the session has gone without activity for longer
// than its timeout.
func (s Session) Expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > s.Timeout
}

// Idle reports whether the session has gone without activity for longer than
// the given threshold.
func (s Session) Idle(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastActivity) > threshold
}

// NewSessionID returns a fresh identifier for a session.
func NewSessionID() types.SessionID {
	return types.SessionID(shortuuid.New())
}

// Registry is an in-memory index of active sessions. One lock guards both
// maps; every operation is a short map lookup.
type Registry struct {
	lock sync.Mutex
	// sessions is keyed by session ID.
	sessions map[types.SessionID]*Session
	// byInstance indexes the same sessions by instance ID and enforces that
	// a machine is never assigned to two users at once.
	byInstance map[types.InstanceID]types.SessionID
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[types.SessionID]*Session),
		byInstance: make(map[types.InstanceID]types.SessionID),
	}
}

// Track adds a session to the registry. It fails if the session's instance
// is already bound to another session.
func (r *Registry) Track(s *Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.byInstance[s.InstanceID]; ok && existing != s.ID {
		return utils.MakeError("instance %s is already assigned to session %s", s.InstanceID, existing)
	}

	r.sessions[s.ID] = s
	r.byInstance[s.InstanceID] = s.ID

	return nil
}

// Untrack removes a session from the registry. Untracking an unknown session
// is a no-op.
func (r *Registry) Untrack(id types.SessionID) {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}

	delete(r.byInstance, s.InstanceID)
	delete(r.sessions, id)
}

// Find returns a copy of the session with the given ID.
func (r *Registry) Find(id types.SessionID) (Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	return *s, true
}

// FindByInstance returns a copy of the session bound to the given instance,
// if any. The scaling logic calls this before terminating a warm candidate.
func (r *Registry) FindByInstance(id types.InstanceID) (Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	sessionID, ok := r.byInstance[id]
	if !ok {
		return Session{}, false
	}

	return *r.sessions[sessionID], true
}

// UpdateActivity resets the session's idle and expiry clock. Called on every
// user-visible action. Returns false when the session is unknown.
func (r *Registry) UpdateActivity(id types.SessionID) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}

	s.LastActivity = time.Now()

	return true
}

// MarkRemoteDesktopReady records that the session has an established remote
// desktop connection.
func (r *Registry) MarkRemoteDesktopReady(id types.SessionID) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.RemoteDesktopReady = true
	}
}

// ExpiredSessions returns copies of every session whose last activity is
// older than its timeout. The expiry loop releases their instances.
func (r *Registry) ExpiredSessions(now time.Time) []Session {
	r.lock.Lock()
	defer r.lock.Unlock()

	var expired []Session
	for _, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, *s)
		}
	}

	return expired
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.sessions)
}
