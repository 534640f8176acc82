package protocol

import (
	"encoding/hex"
	"fmt"
)

// Encoder turns events into the frame payloads that carry them. Encodings
// larger than Threshold are split into a start/chunk.../end sequence with
// at most ChunkSize raw bytes per chunk.
type Encoder struct {
	Threshold int
	ChunkSize int
}

// Frames returns the frame payloads for ev, in sending order.
func (e Encoder) Frames(ev Event) ([][]byte, error) {
	payload, err := Encode(ev)
	if err != nil {
		return nil, err
	}
	if e.Threshold <= 0 || len(payload) <= e.Threshold {
		return [][]byte{payload}, nil
	}

	events := Split(payload, e.ChunkSize)
	frames := make([][]byte, 0, len(events))
	for _, part := range events {
		b, err := Encode(part)
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// Split produces the control events of a chunked transfer of payload.
func Split(payload []byte, chunkSize int) []Event {
	if chunkSize <= 0 {
		chunkSize = len(payload)
	}
	total := 0
	if len(payload) > 0 {
		total = (len(payload) + chunkSize - 1) / chunkSize
	}

	events := make([]Event, 0, total+2)
	events = append(events, Event{
		Type:        TypeTransferStart,
		TotalSize:   int64(len(payload)),
		TotalChunks: total,
	})
	for i := 0; i < total; i++ {
		end := min((i+1)*chunkSize, len(payload))
		events = append(events, Event{
			Type:       TypeTransferChunk,
			ChunkIndex: i,
			ChunkData:  hex.EncodeToString(payload[i*chunkSize : end]),
		})
	}
	return append(events, Event{Type: TypeTransferEnd})
}

// maxPrealloc bounds the capacity reserved up front from a declared size.
const maxPrealloc = 1 << 20

// Assembler accumulates the chunks of one in-flight transfer. It is owned
// by a single session goroutine and is not safe for concurrent use.
//
// Chunks are concatenated in arrival order. The stream transport already
// delivers them in order, so the chunk index is checked against the next
// expected position instead of being used to reorder.
type Assembler struct {
	maxSize int64

	active   bool
	declared int64
	chunks   int
	next     int
	buf      []byte
}

// NewAssembler returns an assembler refusing transfers above maxSize bytes.
// A non-positive maxSize disables the limit.
func NewAssembler(maxSize int64) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// Active reports whether a transfer is in progress.
func (a *Assembler) Active() bool {
	return a.active
}

// Buffered returns the number of bytes accumulated so far.
func (a *Assembler) Buffered() int {
	return len(a.buf)
}

// Start opens a new transfer. Any transfer already in progress is dropped,
// which is reported through the discarded result.
func (a *Assembler) Start(totalSize int64, totalChunks int) (discarded bool, err error) {
	discarded = a.active
	a.Reset()

	if totalSize < 0 || totalChunks < 0 {
		return discarded, fmt.Errorf("%w: negative size", ErrTransferIncomplete)
	}
	if a.maxSize > 0 && totalSize > a.maxSize {
		return discarded, fmt.Errorf("%w: declared %d > %d", ErrTransferTooLarge, totalSize, a.maxSize)
	}

	a.active = true
	a.declared = totalSize
	a.chunks = totalChunks
	a.buf = make([]byte, 0, min(totalSize, maxPrealloc))
	return discarded, nil
}

// Append adds the hex-encoded data of chunk index to the open transfer. Any
// error aborts the transfer.
func (a *Assembler) Append(index int, data string) error {
	if !a.active {
		return ErrNoTransfer
	}
	if index != a.next {
		want := a.next
		a.Reset()
		return fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, index, want)
	}

	raw, err := hex.DecodeString(data)
	if err != nil {
		a.Reset()
		return fmt.Errorf("%w: chunk %d: %w", ErrChunkEncoding, index, err)
	}
	if int64(len(a.buf)+len(raw)) > a.declared {
		a.Reset()
		return fmt.Errorf("%w: chunk %d overflows declared size %d", ErrTransferTooLarge, index, a.declared)
	}

	a.buf = append(a.buf, raw...)
	a.next++
	return nil
}

// Finish closes the open transfer and returns its reassembled bytes.
func (a *Assembler) Finish() ([]byte, error) {
	if !a.active {
		return nil, ErrNoTransfer
	}
	data, received, declared := a.buf, a.next, a.declared
	wantChunks := a.chunks
	a.Reset()

	if int64(len(data)) != declared || received != wantChunks {
		return nil, fmt.Errorf("%w: got %d bytes in %d chunks, declared %d bytes in %d chunks",
			ErrTransferIncomplete, len(data), received, declared, wantChunks)
	}
	return data, nil
}

// Reset drops any in-flight transfer and releases its buffer.
func (a *Assembler) Reset() {
	a.active = false
	a.declared = 0
	a.chunks = 0
	a.next = 0
	a.buf = nil
}
