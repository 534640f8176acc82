// Package protocol defines the chat wire format: the event schema, the
// length-prefixed frame codec, and the chunked-transfer extension used for
// events that do not fit in a single frame.
package protocol

import (
	"encoding/json"
	"time"
)

// Type discriminates the variants of Event on the wire.
type Type string

const (
	TypeJoin       Type = "join"
	TypeMessage    Type = "message"
	TypeFile       Type = "file"
	TypeChangeRoom Type = "change_room"
	TypeHistory    Type = "history"
	TypeUserJoined Type = "user_joined"
	TypeUserLeft   Type = "user_left"

	TypeTransferStart Type = "large_message_start"
	TypeTransferChunk Type = "large_message_chunk"
	TypeTransferEnd   Type = "large_message_end"
)

// IsTransfer reports whether t is one of the chunked-transfer control types.
func (t Type) IsTransfer() bool {
	return t == TypeTransferStart || t == TypeTransferChunk || t == TypeTransferEnd
}

// IsRoomScoped reports whether events of type t require a joined session.
func (t Type) IsRoomScoped() bool {
	return t == TypeMessage || t == TypeFile || t == TypeChangeRoom
}

// Event is the single structured record carried by a frame. Only the fields
// relevant to Type are populated; the rest are omitted from the encoding.
type Event struct {
	Type      Type      `json:"type"`
	Username  string    `json:"username,omitempty"`
	Room      string    `json:"room,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`

	Content string `json:"content,omitempty"`

	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`
	FileData []byte `json:"file_data,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	Messages []Event `json:"messages,omitempty"`

	TotalSize   int64  `json:"total_size,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	ChunkData   string `json:"chunk_data,omitempty"`
}

// Encode serializes an event into a frame payload.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a frame payload. Any failure is reported as a *DecodeError.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, &DecodeError{Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Err: errMissingType}
	}
	return ev, nil
}

// History builds the snapshot event sent to a session on join or room change.
func History(room string, events []Event) Event {
	if events == nil {
		events = []Event{}
	}
	return Event{Type: TypeHistory, Room: room, Messages: events}
}

// Notice builds a user_joined or user_left event.
func Notice(t Type, username, room string, at time.Time) Event {
	return Event{Type: t, Username: username, Room: room, Timestamp: at}
}
