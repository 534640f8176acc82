package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/test/testhelpers"
)

// TestGracefulShutdownWithClients verifies that active TCP and gateway
// connections are closed during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())

	var clients []*testhelpers.Client
	for i, name := range []string{"a", "b", "c"} {
		c := testhelpers.DialTCP(t, env)
		c.Join(name, env.Config.RoomNames()[i])
		clients = append(clients, c)
	}
	for i, name := range []string{"d", "e"} {
		c := testhelpers.DialWebSocket(t, env)
		c.Join(name, env.Config.RoomNames()[3-i])
		clients = append(clients, c)
	}

	start := time.Now()
	if err := env.Manager.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took too long: %v", elapsed)
	}

	for _, c := range clients {
		c.ExpectClosed()
	}
	if stats := env.Manager.Stats(); stats.Sessions != 0 {
		t.Errorf("Expected no sessions after shutdown, got %+v", stats)
	}
}

// TestShutdownWithActiveMessages shuts down while clients are exchanging
// messages.
func TestShutdownWithActiveMessages(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())
	alice := testhelpers.DialTCP(t, env)
	bob := testhelpers.DialTCP(t, env)
	alice.Join("alice", "general")
	bob.Join("bob", "general")
	alice.Expect(protocol.TypeUserJoined)

	for i := 0; i < 20; i++ {
		alice.Say("busy")
	}

	if err := env.Manager.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	bob.ExpectClosed()
	alice.ExpectClosed()
}

// TestConcurrentShutdown calls Shutdown from several goroutines.
func TestConcurrentShutdown(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())
	alice := testhelpers.DialTCP(t, env)
	alice.Join("alice", "general")

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.Manager.Shutdown(5 * time.Second)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent shutdown failed: %v", err)
		}
	}
	alice.ExpectClosed()
}

// TestNoClientsShutdown verifies shutdown of an idle server.
func TestNoClientsShutdown(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())
	if err := env.Manager.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestConnectionsRefusedAfterShutdown verifies that nothing is accepted once
// the manager is closing.
func TestConnectionsRefusedAfterShutdown(t *testing.T) {
	env := testhelpers.Start(t, testhelpers.TestConfig())
	if err := env.Manager.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if conn, err := testhelpers.ConnectWebSocket(env.WebSocketURL(), testhelpers.TestOrigin); err == nil {
		c := conn
		defer func() { _ = c.Close() }()
		if err := c.SetReadDeadline(time.Now().Add(testhelpers.DefaultTimeout)); err != nil {
			t.Fatal(err)
		}
		if _, _, err := c.ReadMessage(); err == nil {
			t.Fatal("Expected gateway session to be closed immediately")
		}
	}
}
