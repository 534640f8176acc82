// Package server wires HTTP handlers into a ServeMux for the chat gateway
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all gateway routes.
// It sets up handlers for health check, statistics, and the WebSocket endpoint.
func SetupRoutes(m *Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/stats", StatsHandler(m))
	mux.HandleFunc("/ws", WebSocketHandler(m))
	return mux
}
