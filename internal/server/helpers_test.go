package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/Tyrowin/lanchat/internal/history"
	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/internal/room"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.IdleTimeout = 0
	cfg.WriteTimeout = waitTimeout
	cfg.RateLimitBurst = 1000
	return cfg
}

func newTestManager(t *testing.T, cfg Config, store history.Store, opts ...Option) *Manager {
	t.Helper()
	if store == nil {
		store = history.NewMemoryStore(0)
	}
	cfg = cfg.Sanitized()
	require.NoError(t, cfg.Validate())

	m, err := NewManager(cfg, room.NewRegistry(cfg.RoomNames()), store, logs.GetLoggerFromLevel(slog.LevelDebug), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(waitTimeout) })
	return m
}

// pipeClient drives one session through an in-memory connection.
type pipeClient struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.FrameReader
	done   chan struct{}
}

func connect(t *testing.T, m *Manager) *pipeClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := &pipeClient{
		t:      t,
		conn:   clientSide,
		reader: protocol.NewFrameReader(clientSide, m.cfg.MaxFrameSize),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		m.HandleConn(NewTCPTransport(serverSide, m.cfg.MaxFrameSize))
	}()
	t.Cleanup(func() { _ = clientSide.Close() })
	return c
}

func (c *pipeClient) sendRaw(payload []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(waitTimeout)))
	require.NoError(c.t, protocol.WriteFrame(c.conn, payload))
}

func (c *pipeClient) send(ev protocol.Event) {
	c.t.Helper()
	payload, err := protocol.Encode(ev)
	require.NoError(c.t, err)
	c.sendRaw(payload)
}

func (c *pipeClient) join(username, name string) protocol.Event {
	c.t.Helper()
	c.send(protocol.Event{Type: protocol.TypeJoin, Username: username, Room: name})
	return c.expect(protocol.TypeHistory)
}

func (c *pipeClient) say(content string) {
	c.t.Helper()
	c.send(protocol.Event{Type: protocol.TypeMessage, Content: content})
}

func (c *pipeClient) receive() protocol.Event {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	payload, err := c.reader.ReadFrame()
	require.NoError(c.t, err)
	ev, err := protocol.Decode(payload)
	require.NoError(c.t, err)
	return ev
}

func (c *pipeClient) expect(typ protocol.Type) protocol.Event {
	c.t.Helper()
	ev := c.receive()
	require.Equal(c.t, typ, ev.Type, "unexpected event %+v", ev)
	return ev
}

func (c *pipeClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	payload, err := c.reader.ReadFrame()
	require.Truef(c.t, errors.Is(err, os.ErrDeadlineExceeded), "expected silence, got %q (%v)", payload, err)
}

// expectClosed drains the connection until the server hangs up.
func (c *pipeClient) expectClosed() {
	c.t.Helper()
	// net.Pipe refuses deadlines once either end is closed.
	if err := c.conn.SetReadDeadline(time.Now().Add(waitTimeout)); err != nil {
		require.ErrorIs(c.t, err, io.ErrClosedPipe)
		c.waitDone()
		return
	}
	for {
		if _, err := c.reader.ReadFrame(); err != nil {
			require.False(c.t, errors.Is(err, os.ErrDeadlineExceeded), "connection still open")
			break
		}
	}
	c.waitDone()
}

func (c *pipeClient) waitDone() {
	c.t.Helper()
	select {
	case <-c.done:
	case <-time.After(waitTimeout):
		c.t.Fatal("session did not terminate")
	}
}

// sessionOf returns the live session whose identity is username.
func sessionOf(t *testing.T, m *Manager, username string) *Session {
	t.Helper()
	var found *Session
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, s := range m.sessions {
			if s.State() == StateJoined && s.identity == username {
				found = s
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond)
	return found
}
