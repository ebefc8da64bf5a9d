package session

import (
	"net"
	"sort"
	"sync"
	"time"
)

// Registry is the synchronized collection of active sessions and the
// aggregate traffic counters.
//
// Thread safety:
// All methods are safe for concurrent use. Per-session counters and the
// aggregate totals are mutated under the same mutex, so a snapshot never
// observes a session update without the matching aggregate update.
type Registry struct {
	mu            sync.Mutex
	sessions      map[net.Conn]*Session
	maxSessions   int
	totalBytesIn  uint64
	totalBytesOut uint64
}

// Snapshot is a point-in-time copy of the registry for reporting. It shares
// no mutable state with the live registry.
type Snapshot struct {
	TakenAt       time.Time `json:"taken_at"`
	ActiveCount   int       `json:"active_count"`
	TotalBytesIn  uint64    `json:"total_bytes_in"`
	TotalBytesOut uint64    `json:"total_bytes_out"`
	Sessions      []View    `json:"sessions"`
}

// NewRegistry creates an empty registry that admits at most maxSessions
// concurrent sessions. maxSessions must be positive.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		sessions:    make(map[net.Conn]*Session),
		maxSessions: maxSessions,
	}
}

// TryRegister atomically checks capacity and inserts a new session for conn.
//
// Returns (nil, false) when the registry is full; the caller must send a
// busy reply and close the connection without registering. The new session
// starts as an anonymous readonly session pending handshake.
func (r *Registry) TryRegister(conn net.Conn) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return nil, false
	}

	now := time.Now()
	sess := &Session{
		Conn:         conn,
		RemoteAddr:   conn.RemoteAddr().String(),
		Identity:     "guest",
		Role:         RoleReadonly,
		LastActive:   now,
		registeredAt: now,
	}
	r.sessions[conn] = sess
	return sess, true
}

// FinalizeHandshake sets the session identity and role. Called exactly once
// per session, after which the role never changes.
func (r *Registry) FinalizeHandshake(sess *Session, identity string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity != "" {
		sess.Identity = identity
	}
	sess.Role = role
}

// Touch records activity on the session, resetting its idle clock.
func (r *Registry) Touch(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.LastActive = time.Now()
	sess.MessageCount++
}

// RecordIn adds n received bytes to the session and the aggregate total as a
// single atomic update.
func (r *Registry) RecordIn(sess *Session, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.BytesIn += uint64(n)
	r.totalBytesIn += uint64(n)
}

// RecordOut adds n sent bytes to the session and the aggregate total as a
// single atomic update.
func (r *Registry) RecordOut(sess *Session, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.BytesOut += uint64(n)
	r.totalBytesOut += uint64(n)
}

// Deregister removes the session for conn. Idempotent; deregistering an
// unknown connection is a no-op.
func (r *Registry) Deregister(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, conn)
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// TakeSnapshot copies all session metadata for reporting. The result is
// detached from the live registry; neither the sessions nor the mutex leak
// out.
func (r *Registry) TakeSnapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		TakenAt:       time.Now(),
		ActiveCount:   len(r.sessions),
		TotalBytesIn:  r.totalBytesIn,
		TotalBytesOut: r.totalBytesOut,
		Sessions:      make([]View, 0, len(r.sessions)),
	}
	for _, sess := range r.sessions {
		snap.Sessions = append(snap.Sessions, View{
			RemoteAddr:   sess.RemoteAddr,
			Identity:     sess.Identity,
			Role:         sess.Role,
			ConnectedAt:  sess.registeredAt,
			LastActive:   sess.LastActive,
			MessageCount: sess.MessageCount,
			BytesIn:      sess.BytesIn,
			BytesOut:     sess.BytesOut,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].ConnectedAt.Before(snap.Sessions[j].ConnectedAt)
	})
	return snap
}

// Range calls fn for every live connection under the lock. Used by the
// server to interrupt blocking reads during shutdown; fn must not block.
func (r *Registry) Range(fn func(conn net.Conn)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.sessions {
		fn(conn)
	}
}
