// Package server implements the chat session manager for lanchat.
//
// The implementation is organized into specialized files for configuration,
// the manager and its sessions, event dispatch, transports, the WebSocket
// gateway routes, and HTTP handlers to keep the codebase maintainable and
// testable as the project grows.
package server
