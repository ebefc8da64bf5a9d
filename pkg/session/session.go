// Package session tracks the server-side state of live connections.
//
// The Registry is the single synchronized view of every active session plus
// the process-wide traffic totals. Connection handlers own their session's
// counters; the stats snapshotter and capacity checks read them through the
// Registry's lock.
package session

import (
	"net"
	"time"
)

// Role is the privilege level of a session, fixed at handshake.
type Role string

const (
	// RoleReadonly grants the browse/read command set only.
	RoleReadonly Role = "readonly"

	// RoleAdmin additionally grants upload, delete, search, and info.
	RoleAdmin Role = "admin"
)

// Session is the per-connection state. The connection handler that created
// it is the only writer; everything else reads via Registry.Snapshot.
//
// Conn is referenced here so the server can interrupt blocking reads during
// shutdown, but the handler goroutine retains ownership and is responsible
// for closing it.
type Session struct {
	Conn       net.Conn
	RemoteAddr string

	Identity string
	Role     Role

	LastActive   time.Time
	MessageCount uint64
	BytesIn      uint64
	BytesOut     uint64

	registeredAt time.Time
}

// IsAdmin reports whether the session holds the elevated role.
func (s *Session) IsAdmin() bool { return s.Role == RoleAdmin }

// View is an immutable copy of session metadata exposed by Snapshot.
type View struct {
	RemoteAddr   string    `json:"remote_addr"`
	Identity     string    `json:"identity"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount uint64    `json:"message_count"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
}
