// Package testhelpers provides common utilities and helper functions for testing the lanchat server.
//
// This package contains reusable test utilities that are shared across unit and integration tests.
// It provides functions for starting managers on real listeners, framing-aware TCP and WebSocket
// clients, making HTTP requests, and asserting response properties to reduce code duplication
// in test files.
package testhelpers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/lanchat/internal/history"
	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/internal/room"
	"github.com/Tyrowin/lanchat/internal/server"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// TestOrigin is the browser origin allowed by TestConfig.
const TestOrigin = "http://localhost:8080"

// TestConfig returns a configuration suited to tests: ephemeral port, no idle
// timeout and a rate limit high enough not to interfere.
func TestConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.IdleTimeout = 0
	cfg.WriteTimeout = DefaultTimeout
	cfg.RateLimitBurst = 1000
	cfg.AllowedOrigins = TestOrigin
	return cfg
}

// Env is a running manager with its TCP listener and HTTP gateway.
type Env struct {
	Config  server.Config
	Manager *server.Manager
	Store   history.Store
	Addr    string
	HTTP    *httptest.Server

	stopOnce sync.Once
	stop     func()
}

// Start runs a manager for cfg with in-memory history.
func Start(t *testing.T, cfg server.Config) *Env {
	t.Helper()
	return StartWithStore(t, cfg, history.NewMemoryStore(0))
}

// StartWithStore runs a manager for cfg on a real TCP listener and an
// httptest gateway. The environment owns store and closes it on Stop, which
// also runs when the test ends.
func StartWithStore(t *testing.T, cfg server.Config, store history.Store) *Env {
	t.Helper()
	cfg = cfg.Sanitized()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test configuration: %v", err)
	}

	log := logs.GetLoggerFromLevel(slog.LevelError)
	manager, err := server.NewManager(cfg, room.NewRegistry(cfg.RoomNames()), store, log)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	if err := manager.Listen(ln); err != nil {
		t.Fatalf("Failed to register listener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- manager.Serve(ctx, ln) }()

	gateway := httptest.NewServer(server.SetupRoutes(manager))

	env := &Env{Config: cfg, Manager: manager, Store: store, Addr: ln.Addr().String(), HTTP: gateway}
	env.stop = func() {
		cancel()
		if err := manager.Shutdown(DefaultTimeout); err != nil {
			t.Errorf("Manager shutdown failed: %v", err)
		}
		gateway.Close()
		if err := <-served; err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("History store close failed: %v", err)
		}
	}
	t.Cleanup(env.Stop)
	return env
}

// Stop shuts the environment down. It is safe to call more than once.
func (e *Env) Stop() {
	e.stopOnce.Do(e.stop)
}

// WebSocketURL returns the gateway's WebSocket endpoint.
func (e *Env) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(e.HTTP.URL, "http") + "/ws"
}

// frameConn is the framing seen by a test client.
type frameConn interface {
	readFrame() ([]byte, error)
	writeFrame(payload []byte) error
	setReadDeadline(t time.Time) error
	close() error
}

type tcpConn struct {
	conn   net.Conn
	reader *protocol.FrameReader
}

func (c *tcpConn) readFrame() ([]byte, error)        { return c.reader.ReadFrame() }
func (c *tcpConn) writeFrame(payload []byte) error   { return protocol.WriteFrame(c.conn, payload) }
func (c *tcpConn) setReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }
func (c *tcpConn) close() error                      { return c.conn.Close() }

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) readFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}
func (c *wsConn) writeFrame(payload []byte) error   { return c.conn.WriteMessage(websocket.TextMessage, payload) }
func (c *wsConn) setReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }
func (c *wsConn) close() error                      { return c.conn.Close() }

// Client speaks the chat protocol over TCP or WebSocket. Incoming chunked
// transfers are reassembled transparently by Receive.
type Client struct {
	t       *testing.T
	conn    frameConn
	encoder protocol.Encoder
}

// DialTCP connects a framed TCP client to the environment.
func DialTCP(t *testing.T, e *Env) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", e.Addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", e.Addr, err)
	}
	c := &Client{
		t:       t,
		conn:    &tcpConn{conn: conn, reader: protocol.NewFrameReader(conn, e.Config.MaxFrameSize)},
		encoder: protocol.Encoder{Threshold: e.Config.BufferSize, ChunkSize: e.Config.ChunkSize},
	}
	t.Cleanup(func() { _ = c.conn.close() })
	return c
}

// DialWebSocket connects a WebSocket client to the environment's gateway.
func DialWebSocket(t *testing.T, e *Env) *Client {
	t.Helper()
	conn, err := ConnectWebSocket(e.WebSocketURL(), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	c := &Client{
		t:       t,
		conn:    &wsConn{conn: conn},
		encoder: protocol.Encoder{Threshold: e.Config.BufferSize, ChunkSize: e.Config.ChunkSize},
	}
	t.Cleanup(func() { _ = c.conn.close() })
	return c
}

// SendRaw writes one frame payload as is.
func (c *Client) SendRaw(payload []byte) {
	c.t.Helper()
	if err := c.conn.writeFrame(payload); err != nil {
		c.t.Fatalf("Failed to send frame: %v", err)
	}
}

// Send encodes ev, chunking it when it exceeds the buffer size.
func (c *Client) Send(ev protocol.Event) {
	c.t.Helper()
	frames, err := c.encoder.Frames(ev)
	if err != nil {
		c.t.Fatalf("Failed to encode event: %v", err)
	}
	for _, f := range frames {
		c.SendRaw(f)
	}
}

// Join joins a room and returns the history snapshot.
func (c *Client) Join(username, name string) protocol.Event {
	c.t.Helper()
	c.Send(protocol.Event{Type: protocol.TypeJoin, Username: username, Room: name})
	return c.Expect(protocol.TypeHistory)
}

// Say sends a chat message.
func (c *Client) Say(content string) {
	c.t.Helper()
	c.Send(protocol.Event{Type: protocol.TypeMessage, Content: content})
}

// ChangeRoom moves to another room and returns its history snapshot.
func (c *Client) ChangeRoom(name string) protocol.Event {
	c.t.Helper()
	c.Send(protocol.Event{Type: protocol.TypeChangeRoom, Room: name})
	return c.Expect(protocol.TypeHistory)
}

func (c *Client) readEvent() (protocol.Event, error) {
	payload, err := c.conn.readFrame()
	if err != nil {
		return protocol.Event{}, err
	}
	return protocol.Decode(payload)
}

// Receive returns the next event, reassembling chunked transfers.
func (c *Client) Receive() protocol.Event {
	c.t.Helper()
	if err := c.conn.setReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		c.t.Fatalf("Failed to set deadline: %v", err)
	}

	ev, err := c.readEvent()
	if err != nil {
		c.t.Fatalf("Failed to receive event: %v", err)
	}
	if ev.Type != protocol.TypeTransferStart {
		return ev
	}

	assembler := protocol.NewAssembler(0)
	if _, err := assembler.Start(ev.TotalSize, ev.TotalChunks); err != nil {
		c.t.Fatalf("Invalid transfer start: %v", err)
	}
	for {
		part, err := c.readEvent()
		if err != nil {
			c.t.Fatalf("Failed to receive transfer: %v", err)
		}
		switch part.Type {
		case protocol.TypeTransferChunk:
			if err := assembler.Append(part.ChunkIndex, part.ChunkData); err != nil {
				c.t.Fatalf("Bad chunk: %v", err)
			}
		case protocol.TypeTransferEnd:
			payload, err := assembler.Finish()
			if err != nil {
				c.t.Fatalf("Incomplete transfer: %v", err)
			}
			inner, err := protocol.Decode(payload)
			if err != nil {
				c.t.Fatalf("Bad transfer payload: %v", err)
			}
			return inner
		default:
			c.t.Fatalf("Unexpected %s inside transfer", part.Type)
		}
	}
}

// Expect receives the next event and fails unless it has type typ.
func (c *Client) Expect(typ protocol.Type) protocol.Event {
	c.t.Helper()
	ev := c.Receive()
	if ev.Type != typ {
		c.t.Fatalf("Expected %s event, got %+v", typ, ev)
	}
	return ev
}

// ExpectNothing fails if any frame arrives within d. A WebSocket cannot be
// read again after a timeout, so on WebSocket clients this must be the last read.
func (c *Client) ExpectNothing(d time.Duration) {
	c.t.Helper()
	if err := c.conn.setReadDeadline(time.Now().Add(d)); err != nil {
		c.t.Fatalf("Failed to set deadline: %v", err)
	}
	payload, err := c.conn.readFrame()
	if err == nil {
		c.t.Fatalf("Expected no event, got %s", payload)
	}
	var netErr net.Error
	if !errors.Is(err, os.ErrDeadlineExceeded) && !(errors.As(err, &netErr) && netErr.Timeout()) {
		c.t.Fatalf("Expected timeout, got %v", err)
	}
}

// ExpectClosed reads until the server closes the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()
	if err := c.conn.setReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		return
	}
	for {
		_, err := c.conn.readFrame()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.t.Fatal("Connection was not closed by the server")
		}
		return
	}
}

// Close closes the client side of the connection.
func (c *Client) Close() {
	_ = c.conn.close()
}

// WaitFor polls cond until it holds or the default timeout elapses.
func WaitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the given Origin header. It returns the connection or an error if the
// connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	conn, _, err := ConnectWebSocketWithResponse(url, origin)
	return conn, err
}

// ConnectWebSocketWithResponse is ConnectWebSocket that also reports the HTTP
// status of a refused handshake.
func ConnectWebSocketWithResponse(url, origin string) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}
