//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package history persists the recent events of every room and serves the
// snapshots sent to sessions when they enter a room.
package history

import (
	"errors"

	"github.com/Tyrowin/lanchat/internal/protocol"
)

var ErrClosed = errors.New("history store closed")

// Store is the contract the session manager relies on. Append may be called
// concurrently for any room; ReadRecent returns at most limit events in
// chronological order.
type Store interface {
	Append(room string, event protocol.Event) error
	ReadRecent(room string, limit int) ([]protocol.Event, error)
	Close() error
}

// Persistable reports whether events of type t belong in a room's history.
func Persistable(t protocol.Type) bool {
	return t == protocol.TypeMessage || t == protocol.TypeFile
}
