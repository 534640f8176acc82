// Package server manages individual chat sessions, handling the read loop,
// write pump, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pingPeriod is how often keepalive pings go out on transports that use them.
const pingPeriod = 54 * time.Second

// Session is the server side of one client connection. Identity, room and
// the transfer assembler belong to the read loop; other goroutines interact
// with a session only through Deliver and Close.
type Session struct {
	id        string
	transport Transport
	manager   *Manager
	log       *slog.Logger

	send      chan [][]byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	state     atomic.Int32
	identity  string
	room      string
	assembler *protocol.Assembler
	limiter   *rateLimiter
}

func newSession(m *Manager, t Transport) *Session {
	id := uuid.NewString()
	rl := m.cfg.RateLimit()
	return &Session{
		id:        id,
		transport: t,
		manager:   m,
		log:       sessionLogger(m.log, id, t.RemoteAddr()),
		send:      make(chan [][]byte, m.cfg.SendQueueSize),
		done:      make(chan struct{}),
		assembler: protocol.NewAssembler(m.cfg.MaxTransferSize),
		limiter:   newRateLimiter(rl.Burst, rl.RefillInterval, m.now()),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func sessionLogger(base *slog.Logger, id, remote string) *slog.Logger {
	return base.With("session", id, "remote", remote)
}

// relabel rebuilds the session logger after identity or room changed. Only
// the read loop touches s.log.
func (s *Session) relabel() {
	s.log = sessionLogger(s.manager.log, s.id, s.transport.RemoteAddr()).With("user", s.identity, "room", s.room)
}

// Deliver queues ev for the write pump without blocking. It fails when the
// session is closed or its queue is full.
func (s *Session) Deliver(ev protocol.Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	frames, err := s.manager.encoder.Frames(ev)
	if err != nil {
		return err
	}

	select {
	case s.send <- frames:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close shuts the transport down, which unblocks the read loop. It is safe
// to call any number of times from any goroutine; the first reason wins.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.closeErr = reason
		close(s.done)
		if err := s.transport.Close(); err != nil && !isExpectedCloseError(err) {
			// s.log belongs to the read loop; Close may run elsewhere.
			s.manager.log.Debug("Error closing transport", "session", s.id, "error", err)
		}
	})
}

// readLoop reads and dispatches frames until the transport fails or a
// frame cannot be decoded. Per-event errors that do not compromise the
// stream are logged and the loop carries on.
func (s *Session) readLoop() error {
	idle := s.manager.cfg.IdleTimeout
	for {
		if idle > 0 {
			if err := s.transport.SetReadDeadline(time.Now().Add(idle)); err != nil {
				return err
			}
		}

		payload, err := s.transport.ReadFrame()
		if err != nil {
			return err
		}

		ev, err := protocol.Decode(payload)
		if err != nil {
			return err
		}

		if err := s.handle(ev); err != nil {
			if protocol.IsDecodeError(err) || errors.Is(err, ErrSlowConsumer) || errors.Is(err, ErrSessionClosed) {
				return err
			}
			s.log.Info("Event rejected", "type", ev.Type, "error", err)
		}
	}
}

func (s *Session) writePump() {
	var pings <-chan time.Time
	p, canPing := s.transport.(pinger)
	if canPing {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case frames := <-s.send:
			if err := s.transport.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteTimeout)); err != nil {
				s.Close(err)
				return
			}
			if err := s.transport.WriteFrames(frames); err != nil {
				s.Close(err)
				return
			}
		case <-pings:
			if err := p.Ping(); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

// logDisconnect records why the session ended. It must run after Close, so
// that closeErr holds the first reason given, which may come from another
// goroutine rather than the read loop.
func (s *Session) logDisconnect() {
	reason := s.closeErr

	switch {
	case reason == nil:
		s.log.Info("Client disconnected")
	case errors.Is(reason, ErrServerShutdown):
		s.log.Info("Client closed for shutdown")
	case errors.Is(reason, ErrSlowConsumer):
		s.log.Warn("Client removed, send queue full")
	case errors.Is(reason, io.EOF),
		websocket.IsCloseError(reason, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		isExpectedCloseError(reason):
		s.log.Info("Client disconnected", "reason", reason)
	case errors.Is(reason, os.ErrDeadlineExceeded):
		s.log.Info("Client idle timeout")
	case protocol.IsDecodeError(reason):
		s.log.Warn("Protocol error, closing connection", "error", reason)
	default:
		s.log.Warn("Connection error", "error", reason)
	}
}
