package protocol

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// hexChunk matches what hex.DecodeString accepts: pairs of hex digits with
// no prefix.
var hexChunk = regexp.MustCompile(`^(?:[0-9a-fA-F]{2})+$`)

type joinRequest struct {
	Username string `validate:"required,max=64"`
	Room     string `validate:"required"`
}

type changeRoomRequest struct {
	Room string `validate:"required"`
}

type fileRequest struct {
	FileName string `validate:"required,max=255"`
	FileSize int64  `validate:"gte=0"`
}

type transferStartRequest struct {
	TotalSize   int64 `validate:"gte=0"`
	TotalChunks int   `validate:"gte=0"`
}

type transferChunkRequest struct {
	ChunkIndex int    `validate:"gte=0"`
	ChunkData  string `validate:"required,hexchunk"`
}

// Validator checks the type-specific fields of inbound events.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("hexchunk", func(fl validator.FieldLevel) bool {
		return hexChunk.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// Check returns an error describing the first invalid field of ev, or nil.
// Server-originated types are refused.
func (v *Validator) Check(ev Event) error {
	var err error
	switch ev.Type {
	case TypeJoin:
		err = v.validate.Struct(joinRequest{Username: ev.Username, Room: ev.Room})
	case TypeChangeRoom:
		err = v.validate.Struct(changeRoomRequest{Room: ev.Room})
	case TypeMessage:
	case TypeFile:
		err = v.validate.Struct(fileRequest{FileName: ev.FileName, FileSize: ev.FileSize})
	case TypeTransferStart:
		err = v.validate.Struct(transferStartRequest{TotalSize: ev.TotalSize, TotalChunks: ev.TotalChunks})
	case TypeTransferChunk:
		err = v.validate.Struct(transferChunkRequest{ChunkIndex: ev.ChunkIndex, ChunkData: ev.ChunkData})
	case TypeTransferEnd:
	default:
		return fmt.Errorf("unsupported event type %q", ev.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s event: %w", ev.Type, err)
	}
	return nil
}
