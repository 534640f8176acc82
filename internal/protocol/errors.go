package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrEmptyFrame         = errors.New("empty frame")
	ErrNoTransfer         = errors.New("no transfer in progress")
	ErrChunkOutOfOrder    = errors.New("chunk received out of order")
	ErrTransferTooLarge   = errors.New("transfer exceeds maximum size")
	ErrTransferIncomplete = errors.New("transfer size does not match declaration")
	ErrChunkEncoding      = errors.New("chunk data is not valid hex")

	errMissingType = errors.New("missing event type")
)

// DecodeError marks a frame whose payload could not be turned into an Event.
// A session receiving one is torn down.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a protocol decode failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) || errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrEmptyFrame)
}
