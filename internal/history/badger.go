package history

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

var msgpack = &codec.MsgpackHandle{WriteExt: true}

// diskEvent is the persisted form of a history event.
type diskEvent struct {
	ID       string `codec:"id"`
	Type     string `codec:"type"`
	Username string `codec:"username"`
	Room     string `codec:"room"`
	At       int64  `codec:"at"`
	Content  string `codec:"content,omitempty"`
	FileName string `codec:"file_name,omitempty"`
	FileType string `codec:"file_type,omitempty"`
	FileData []byte `codec:"file_data,omitempty"`
	FileSize int64  `codec:"file_size,omitempty"`
}

// BadgerStore persists history in BadgerDB. Badger transactions are
// independent, so appends to different rooms proceed in parallel.
type BadgerStore struct {
	db     *badger.DB
	log    *slog.Logger
	closed atomic.Bool
}

// OpenBadgerStore opens (or creates) the database in dir.
func OpenBadgerStore(dir string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: log.With("component", "badger")}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database %s: %w", dir, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

func roomPrefix(room string) []byte {
	return []byte("evt:" + room + ":")
}

// Append stores event under "evt:{room}:{unixnano}:{uuid}". The 19 digit
// zero padded timestamp keeps keys of a room in chronological order and
// the uuid separates events stamped with the same instant.
func (s *BadgerStore) Append(room string, event protocol.Event) error {
	if s.closed.Load() {
		return ErrClosed
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	id := uuid.New()
	key := fmt.Sprintf("evt:%s:%019d:%s", room, at.UnixNano(), id)

	var value []byte
	if err := codec.NewEncoderBytes(&value, msgpack).Encode(fromEvent(id, room, at, event)); err != nil {
		return fmt.Errorf("encode history event: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// ReadRecent walks the room prefix backwards from the newest key and
// returns the collected events oldest first.
func (s *BadgerStore) ReadRecent(room string, limit int) ([]protocol.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	prefix := roomPrefix(room)
	var events []protocol.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(slices.Clone(prefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(events) == limit {
				break
			}
			var d diskEvent
			err := it.Item().Value(func(v []byte) error {
				return codec.NewDecoderBytes(v, msgpack).Decode(&d)
			})
			if err != nil {
				return fmt.Errorf("decode history event %s: %w", it.Item().Key(), err)
			}
			events = append(events, d.toEvent())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(events)
	return events, nil
}

func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info("Closing history database")
	return s.db.Close()
}

func fromEvent(id uuid.UUID, room string, at time.Time, ev protocol.Event) diskEvent {
	return diskEvent{
		ID:       id.String(),
		Type:     string(ev.Type),
		Username: ev.Username,
		Room:     room,
		At:       at.UnixNano(),
		Content:  ev.Content,
		FileName: ev.FileName,
		FileType: ev.FileType,
		FileData: ev.FileData,
		FileSize: ev.FileSize,
	}
}

func (d diskEvent) toEvent() protocol.Event {
	return protocol.Event{
		Type:      protocol.Type(d.Type),
		Username:  d.Username,
		Room:      d.Room,
		Timestamp: time.Unix(0, d.At).UTC(),
		Content:   d.Content,
		FileName:  d.FileName,
		FileType:  d.FileType,
		FileData:  d.FileData,
		FileSize:  d.FileSize,
	}
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
