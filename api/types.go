// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level enumerations: close reasons and lifecycle states.

package api

import "time"

// CloseReason tells collaborators why a session or connection was closed.
// The set is closed and the numeric values are stable.
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	CloseServerShutdown
	CloseClientClosing
	CloseServerClosing
	CloseApplicationError
	CloseSocketError
	CloseTimeOut
	CloseProtocolError
	CloseRejected
)

func (r CloseReason) String() string {
	switch r {
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseClientClosing:
		return "ClientClosing"
	case CloseServerClosing:
		return "ServerClosing"
	case CloseApplicationError:
		return "ApplicationError"
	case CloseSocketError:
		return "SocketError"
	case CloseTimeOut:
		return "TimeOut"
	case CloseProtocolError:
		return "ProtocolError"
	case CloseRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// IsError reports whether the reason is a failure rather than an orderly close.
func (r CloseReason) IsError() bool {
	switch r {
	case CloseUnknown, CloseServerShutdown, CloseClientClosing, CloseServerClosing:
		return false
	default:
		return true
	}
}

// ConnectionState is the transport-facing lifecycle. Transitions only move forward.
type ConnectionState int32

const (
	ConnInitialized ConnectionState = iota
	ConnConnected
	ConnClosing
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnInitialized:
		return "initialized"
	case ConnConnected:
		return "connected"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionState enumerates the application-facing session lifecycle.
type SessionState int32

const (
	SessionNone SessionState = iota
	SessionInitialized
	SessionConnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInitialized:
		return "initialized"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "none"
	}
}

// FilterState reports whether a pipeline filter can keep decoding.
type FilterState int

const (
	FilterNormal FilterState = iota
	FilterError
)

// ServerSummary provides a standard layout for service health reporting.
type ServerSummary struct {
	Name                string
	NumSessions         int
	AcceptedConnections int64
	RejectedConnections int64
	MaxConnections      int
	StartedAt           time.Time
	Running             bool
}
