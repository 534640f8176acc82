package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/lanchat/internal/history"
	"github.com/Tyrowin/lanchat/internal/moderation"
	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/internal/room"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// maxAcceptBackoff caps the delay between retries after a failed Accept.
const maxAcceptBackoff = time.Second

// Manager owns every live session. It bounds the number of concurrent
// connections, routes room traffic through the registry and persists chat
// events to the history store.
type Manager struct {
	cfg       Config
	registry  *room.Registry
	store     history.Store
	log       *slog.Logger
	encoder   protocol.Encoder
	validator *protocol.Validator
	filter    *moderation.Filter
	origins   *originPolicy
	slots     *semaphore.Weighted
	now       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []net.Listener
	closing   bool
	wg        sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager serving the rooms of registry.
func NewManager(cfg Config, registry *room.Registry, store history.Store, log *slog.Logger, opts ...Option) (*Manager, error) {
	filter, err := moderation.NewFilter(cfg.CensoredWordList(), '*')
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		log:       log,
		encoder:   protocol.Encoder{Threshold: cfg.BufferSize, ChunkSize: cfg.ChunkSize},
		validator: protocol.NewValidator(),
		filter:    filter,
		origins:   newOriginPolicy(cfg.Origins(), log),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Listen registers ln so that Shutdown closes it. Registering before
// starting Serve in its own goroutine ties the listener to the manager
// immediately. It returns ErrServerShutdown, and closes ln, once the
// manager is closing.
func (m *Manager) Listen(ln net.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lo.Contains(m.listeners, ln) {
		return nil
	}
	if m.closing {
		_ = ln.Close()
		return ErrServerShutdown
	}
	m.listeners = append(m.listeners, ln)
	return nil
}

// Serve accepts stream connections from ln until ctx is cancelled or the
// manager shuts down, in which case it returns nil. A listener not yet
// registered with Listen is registered first; Serve then returns
// ErrServerShutdown if the manager had already shut down.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	if err := m.Listen(ln); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	m.log.Info("Chat server listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			m.log.Warn("Accept failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		if !m.acquire() {
			m.log.Warn("Connection rejected", "remote", conn.RemoteAddr().String(), "error", ErrServerFull)
			_ = conn.Close()
			continue
		}

		go func() {
			defer m.release()
			m.HandleConn(NewTCPTransport(conn, m.cfg.MaxFrameSize))
		}()
	}
}

// acquire takes a connection slot without waiting.
func (m *Manager) acquire() bool {
	return m.slots.TryAcquire(1)
}

func (m *Manager) release() {
	m.slots.Release(1)
}

// HandleConn runs a session on t until it disconnects. The caller owns the
// connection slot; HandleConn always closes t.
func (m *Manager) HandleConn(t Transport) {
	s := newSession(m, t)
	if !m.track(s) {
		_ = t.Close()
		return
	}
	defer m.untrack(s)

	s.log.Info("Client connected")

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump()
	}()

	err := s.readLoop()
	s.Close(err)
	<-pumpDone
	s.logDisconnect()
	m.cleanup(s)
}

// cleanup releases everything the session held. It runs exactly once per
// session, on the goroutine that ran its read loop.
func (m *Manager) cleanup(s *Session) {
	if s.assembler.Active() {
		s.log.Debug("Dropping unfinished transfer", "buffered", s.assembler.Buffered())
	}
	s.assembler.Reset()

	if name, ok := m.registry.Leave(s); ok {
		m.broadcast(name, protocol.Notice(protocol.TypeUserLeft, s.identity, name, m.now()), s.id)
	}
	s.setState(StateDisconnected)
}

func (m *Manager) track(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	return true
}

func (m *Manager) untrack(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	m.wg.Done()
}

// broadcast sends ev to the room and closes every recipient that could not
// take it.
func (m *Manager) broadcast(name string, ev protocol.Event, exclude string) {
	m.closeFailed(m.registry.Broadcast(name, ev, exclude))
}

func (m *Manager) closeFailed(members []room.Member) {
	for _, failed := range members {
		if s, ok := failed.(*Session); ok {
			s.Close(ErrSlowConsumer)
		}
	}
}

// Shutdown stops every listener, closes all sessions and waits up to
// timeout for their goroutines to finish.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.log.Info("Initiating chat server shutdown...")

	m.mu.Lock()
	m.closing = true
	listeners := slices.Clone(m.listeners)
	sessions := lo.Values(m.sessions)
	m.mu.Unlock()

	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			m.log.Debug("Error closing listener", "error", err)
		}
	}
	for _, s := range sessions {
		s.Close(ErrServerShutdown)
	}
	m.log.Info("Closed client connections", "count", len(sessions))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("Chat server shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		m.log.Warn("Chat server shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

// Stats is a point-in-time view of the server load.
type Stats struct {
	Sessions int            `json:"sessions"`
	Rooms    map[string]int `json:"rooms"`
}

// Stats reports the number of live sessions and the members of every room.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	n := len(m.sessions)
	m.mu.Unlock()
	return Stats{Sessions: n, Rooms: m.registry.Counts()}
}
