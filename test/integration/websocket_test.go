package integration

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/test/testhelpers"
)

// TestWebSocketAndTCPShareRooms verifies that gateway sessions and TCP
// sessions see each other in the same rooms.
func TestWebSocketAndTCPShareRooms(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())

	alice := testhelpers.DialTCP(t, env)
	alice.Join("alice", "general")

	bob := testhelpers.DialWebSocket(t, env)
	bob.Join("bob", "general")
	if ev := alice.Expect(protocol.TypeUserJoined); ev.Username != "bob" {
		t.Fatalf("Unexpected join notice %+v", ev)
	}

	bob.Say("hello from the browser")
	if ev := alice.Expect(protocol.TypeMessage); ev.Content != "hello from the browser" || ev.Username != "bob" {
		t.Fatalf("Unexpected message %+v", ev)
	}

	alice.Say("hello from the terminal")
	if ev := bob.Expect(protocol.TypeMessage); ev.Content != "hello from the terminal" {
		t.Fatalf("Unexpected message %+v", ev)
	}

	stats := env.Manager.Stats()
	if stats.Sessions != 2 || stats.Rooms["general"] != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	bob.Close()
	if ev := alice.Expect(protocol.TypeUserLeft); ev.Username != "bob" {
		t.Fatalf("Unexpected leave notice %+v", ev)
	}
}

// TestWebSocketChunkedTransfer sends a message above the buffer size over
// the gateway, one WebSocket message per frame.
func TestWebSocketChunkedTransfer(t *testing.T) {
	cfg := testhelpers.TestConfig()
	cfg.BufferSize = 1024
	cfg.ChunkSize = 256
	cfg.MaxFrameSize = 0
	env := testhelpers.Start(t, cfg)

	alice := testhelpers.DialWebSocket(t, env)
	bob := testhelpers.DialWebSocket(t, env)
	alice.Join("alice", "tech")
	bob.Join("bob", "tech")
	alice.Expect(protocol.TypeUserJoined)

	content := strings.Repeat("0123456789", 500)
	alice.Say(content)
	if ev := bob.Expect(protocol.TypeMessage); ev.Content != content {
		t.Fatalf("Expected %d bytes of content, got %d", len(content), len(ev.Content))
	}

	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 2000)
	bob.Send(protocol.Event{Type: protocol.TypeFile, FileName: "blob.bin", FileType: "application/x-test", FileData: data})
	got := alice.Expect(protocol.TypeFile)
	if !bytes.Equal(got.FileData, data) || got.FileType != "application/x-test" {
		t.Fatalf("Unexpected file %q (%s, %d bytes)", got.FileName, got.FileType, len(got.FileData))
	}
}

// TestWebSocketOriginValidation verifies that only configured origins may
// open gateway sessions.
func TestWebSocketOriginValidation(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())

	tests := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{"Allowed origin", testhelpers.TestOrigin, http.StatusSwitchingProtocols},
		{"Allowed origin with different case", "HTTP://LOCALHOST:8080", http.StatusSwitchingProtocols},
		{"Disallowed origin", "http://evil.example", http.StatusForbidden},
		{"Missing origin", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, status, err := testhelpers.ConnectWebSocketWithResponse(env.WebSocketURL(), tt.origin)
			if conn != nil {
				defer func() { _ = conn.Close() }()
			}
			if status != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d (err: %v)", tt.wantStatus, status, err)
			}
		})
	}
}

// TestWebSocketAllowAllOrigins verifies the wildcard origin setting.
func TestWebSocketAllowAllOrigins(t *testing.T) {
	cfg := testhelpers.TestConfig()
	cfg.AllowedOrigins = "*"
	env := testhelpers.Start(t, cfg)

	conn, err := testhelpers.ConnectWebSocket(env.WebSocketURL(), "http://anything.example")
	if err != nil {
		t.Fatalf("Expected wildcard origin to be accepted: %v", err)
	}
	_ = conn.Close()
}
