// Package server defines the session states, error classification and
// shared helpers used by the manager and its sessions.
package server

import (
	"errors"
	"strings"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	// Registry misuse: logged, the connection stays open.
	ErrNotJoined     = errors.New("session has not joined a room")
	ErrAlreadyJoined = errors.New("session already joined")
	ErrRateLimited   = errors.New("rate limit exceeded")

	// ErrUnsupportedTransfer is returned when a reassembled payload is not a
	// message or file event.
	ErrUnsupportedTransfer = errors.New("unsupported event in chunked transfer")

	// Delivery failures: the recipient is torn down.
	ErrSlowConsumer  = errors.New("send queue full")
	ErrSessionClosed = errors.New("session closed")

	ErrServerShutdown = errors.New("server shutting down")
	ErrServerFull     = errors.New("connection limit reached")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "io: read/write on closed pipe")
}
