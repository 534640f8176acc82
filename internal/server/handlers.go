// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and server statistics.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler handles WebSocket upgrade requests for the manager's rooms.
// It validates that the request uses the GET method, takes a connection slot,
// upgrades the HTTP connection to WebSocket, and runs the session until it ends.
func WebSocketHandler(m *Manager) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     m.origins.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		if !m.acquire() {
			m.log.Warn("Connection rejected", "remote", r.RemoteAddr, "error", ErrServerFull)
			http.Error(w, "Server is full. Try again later.", http.StatusServiceUnavailable)
			return
		}
		defer m.release()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		m.HandleConn(NewWebSocketTransport(conn, r.RemoteAddr, m.cfg.MaxFrameSize, m.cfg.IdleTimeout, m.cfg.WriteTimeout))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "lanchat server is running!")
}

// StatsHandler reports live sessions and room occupancy as JSON.
func StatsHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
			m.log.Error("Error writing stats response", "error", err)
		}
	}
}
