package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the length of the big-endian frame length prefix.
const HeaderSize = 4

// FrameReader recovers frame boundaries from a byte stream. A single read
// on the underlying stream may carry several frames or a fraction of one.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
	header  [HeaderSize]byte
}

// NewFrameReader wraps r. Frames whose declared length exceeds maxSize are
// rejected with ErrFrameTooLarge before any payload is read.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame blocks until a full frame is available and returns its payload.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(fr.header[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if fr.maxSize > 0 && uint64(size) > uint64(fr.maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, fr.maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// AppendFrame appends the length-prefixed encoding of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame using a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	buf := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
	_, err := w.Write(buf)
	return err
}
