package server

import (
	"net"
	"time"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/gorilla/websocket"
)

// Transport carries frames for one session. ReadFrame is only called by the
// session's read loop and WriteFrames only by its write pump.
type Transport interface {
	ReadFrame() ([]byte, error)
	// WriteFrames writes the frames of one event back to back.
	WriteFrames(frames [][]byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// pinger is implemented by transports that need keepalive traffic.
type pinger interface {
	Ping() error
}

type tcpTransport struct {
	conn   net.Conn
	reader *protocol.FrameReader
}

// NewTCPTransport frames a stream connection with length prefixes.
func NewTCPTransport(conn net.Conn, maxFrameSize int) Transport {
	return &tcpTransport{conn: conn, reader: protocol.NewFrameReader(conn, maxFrameSize)}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	return t.reader.ReadFrame()
}

func (t *tcpTransport) WriteFrames(frames [][]byte) error {
	size := 0
	for _, f := range frames {
		size += protocol.HeaderSize + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = protocol.AppendFrame(buf, f)
	}
	_, err := t.conn.Write(buf)
	return err
}

func (t *tcpTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *tcpTransport) Close() error                       { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string                 { return t.conn.RemoteAddr().String() }

// wsTransport maps one WebSocket message to one frame; the WebSocket layer
// already delimits messages.
type wsTransport struct {
	conn         *websocket.Conn
	addr         string
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketTransport wraps an upgraded WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn, addr string, maxFrameSize int, idleTimeout, writeTimeout time.Duration) Transport {
	conn.SetReadLimit(int64(maxFrameSize))
	t := &wsTransport{conn: conn, addr: addr, idleTimeout: idleTimeout, writeTimeout: writeTimeout}
	conn.SetPongHandler(func(string) error {
		if t.idleTimeout > 0 {
			return conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
		}
		return nil
	})
	return t
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteFrames(frames [][]byte) error {
	for _, f := range frames {
		if err := t.conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return err
		}
	}
	return nil
}

func (t *wsTransport) Ping() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error  { return t.conn.SetReadDeadline(d) }
func (t *wsTransport) SetWriteDeadline(d time.Time) error { return t.conn.SetWriteDeadline(d) }
func (t *wsTransport) Close() error                       { return t.conn.Close() }
func (t *wsTransport) RemoteAddr() string                 { return t.addr }
