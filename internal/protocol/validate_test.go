package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorCheck(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"join", Event{Type: TypeJoin, Username: "alice", Room: "general"}, false},
		{"join without username", Event{Type: TypeJoin, Room: "general"}, true},
		{"join without room", Event{Type: TypeJoin, Username: "alice"}, true},
		{"join with long username", Event{Type: TypeJoin, Username: strings.Repeat("a", 65), Room: "general"}, true},
		{"empty message", Event{Type: TypeMessage}, false},
		{"change room", Event{Type: TypeChangeRoom, Room: "tech"}, false},
		{"change room without room", Event{Type: TypeChangeRoom}, true},
		{"file", Event{Type: TypeFile, FileName: "a.txt"}, false},
		{"file without name", Event{Type: TypeFile}, true},
		{"transfer start", Event{Type: TypeTransferStart, TotalSize: 10, TotalChunks: 1}, false},
		{"transfer start negative", Event{Type: TypeTransferStart, TotalSize: -1}, true},
		{"chunk", Event{Type: TypeTransferChunk, ChunkData: "00ff"}, false},
		{"chunk not hex", Event{Type: TypeTransferChunk, ChunkData: "xyz"}, true},
		{"chunk with 0x prefix", Event{Type: TypeTransferChunk, ChunkData: "0x00ff"}, true},
		{"chunk odd length", Event{Type: TypeTransferChunk, ChunkData: "0ff"}, true},
		{"chunk upper case", Event{Type: TypeTransferChunk, ChunkData: "00FF"}, false},
		{"end", Event{Type: TypeTransferEnd}, false},
		{"server only type", Event{Type: TypeHistory}, true},
		{"unknown type", Event{Type: "shout"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
