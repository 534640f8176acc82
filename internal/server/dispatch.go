package server

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/lanchat/internal/history"
	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/Tyrowin/lanchat/internal/room"
	"github.com/gabriel-vasile/mimetype"
)

// handle validates and routes one inbound event. It runs on the read loop.
func (s *Session) handle(ev protocol.Event) error {
	if err := s.manager.validator.Check(ev); err != nil {
		return err
	}

	switch ev.Type {
	case protocol.TypeTransferStart:
		if !s.limiter.allow(s.manager.now()) {
			return ErrRateLimited
		}
		discarded, err := s.assembler.Start(ev.TotalSize, ev.TotalChunks)
		if discarded {
			s.log.Debug("Previous transfer discarded")
		}
		return err

	case protocol.TypeTransferChunk:
		return s.assembler.Append(ev.ChunkIndex, ev.ChunkData)

	case protocol.TypeTransferEnd:
		payload, err := s.assembler.Finish()
		if errors.Is(err, protocol.ErrNoTransfer) {
			s.log.Debug("Transfer end without start")
			return nil
		}
		if err != nil {
			return err
		}
		return s.handleReassembled(payload)

	case protocol.TypeMessage, protocol.TypeFile:
		if !s.limiter.allow(s.manager.now()) {
			return ErrRateLimited
		}
	}

	return s.dispatch(ev)
}

// handleReassembled dispatches the event carried by a completed transfer.
// The start event already paid the rate limit.
func (s *Session) handleReassembled(payload []byte) error {
	inner, err := protocol.Decode(payload)
	if err != nil {
		// A bad payload inside a well-framed transfer does not corrupt the stream.
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			return fmt.Errorf("reassembled payload: %v", decodeErr.Err)
		}
		return err
	}
	if inner.Type != protocol.TypeMessage && inner.Type != protocol.TypeFile {
		return fmt.Errorf("%w: %s", ErrUnsupportedTransfer, inner.Type)
	}
	if err := s.manager.validator.Check(inner); err != nil {
		return err
	}
	return s.dispatch(inner)
}

func (s *Session) dispatch(ev protocol.Event) error {
	if ev.Type.IsRoomScoped() && s.State() != StateJoined {
		return ErrNotJoined
	}

	switch ev.Type {
	case protocol.TypeJoin:
		return s.join(ev.Username, ev.Room)
	case protocol.TypeMessage:
		return s.message(ev)
	case protocol.TypeFile:
		return s.file(ev)
	case protocol.TypeChangeRoom:
		return s.changeRoom(ev.Room)
	default:
		return fmt.Errorf("unexpected event type %q", ev.Type)
	}
}

func (s *Session) join(username, name string) error {
	if s.State() != StateConnecting {
		return ErrAlreadyJoined
	}
	m := s.manager
	if !m.registry.Has(name) {
		return fmt.Errorf("join %q: %w", name, room.ErrUnknownRoom)
	}

	s.identity = username
	s.room = name

	// The snapshot is queued under the room lock before the session becomes
	// visible to broadcasts. Every room event is then either in the snapshot
	// or delivered after it, never both.
	err := m.registry.JoinWith(s, name, func() error { return s.sendSnapshot(name) })
	if err != nil {
		s.identity, s.room = "", ""
		return err
	}
	s.setState(StateJoined)
	s.relabel()
	s.log.Info("User joined")

	m.broadcast(name, protocol.Notice(protocol.TypeUserJoined, username, name, m.now()), s.id)
	return nil
}

func (s *Session) message(ev protocol.Event) error {
	m := s.manager
	out := protocol.Event{
		Type:      protocol.TypeMessage,
		Username:  s.identity,
		Room:      s.room,
		Timestamp: m.now(),
		Content:   m.filter.Censor(ev.Content),
	}
	m.publish(s, out)
	return nil
}

func (s *Session) file(ev protocol.Event) error {
	m := s.manager
	out := protocol.Event{
		Type:      protocol.TypeFile,
		Username:  s.identity,
		Room:      s.room,
		Timestamp: m.now(),
		FileName:  ev.FileName,
		FileType:  ev.FileType,
		FileData:  ev.FileData,
		FileSize:  ev.FileSize,
	}
	if out.FileType == "" {
		out.FileType = mimetype.Detect(out.FileData).String()
	}
	if len(out.FileData) > 0 {
		out.FileSize = int64(len(out.FileData))
	}
	s.log.Info("File shared", "file", out.FileName, "type", out.FileType, "size", out.FileSize)

	m.publish(s, out)
	return nil
}

func (s *Session) changeRoom(name string) error {
	if name == s.room {
		return nil
	}
	m := s.manager
	old, err := m.registry.MoveWith(s, name, func() error { return s.sendSnapshot(name) })
	if err != nil {
		return fmt.Errorf("change room to %q: %w", name, err)
	}
	s.room = name
	s.relabel()
	s.log.Info("User changed room", "from", old)

	now := m.now()
	m.broadcast(old, protocol.Notice(protocol.TypeUserLeft, s.identity, old, now), s.id)
	m.broadcast(name, protocol.Notice(protocol.TypeUserJoined, s.identity, name, now), s.id)
	return nil
}

// sendSnapshot queues the recent history of name for this session only. A
// store failure is logged and an empty snapshot is sent instead.
func (s *Session) sendSnapshot(name string) error {
	m := s.manager
	events, err := m.store.ReadRecent(name, m.cfg.HistoryLimit)
	if err != nil {
		s.log.Warn("Failed to read history", "room", name, "error", err)
		events = nil
	}
	return s.Deliver(protocol.History(name, events))
}

// publish appends ev to the history of its room and broadcasts it to the
// other members. Both happen under the room lock, so a concurrent join sees
// the event either in its snapshot or as a broadcast. A failed append is
// logged and the broadcast goes ahead.
func (m *Manager) publish(s *Session, ev protocol.Event) {
	persist := func() {
		if !history.Persistable(ev.Type) {
			return
		}
		if err := m.store.Append(ev.Room, ev); err != nil {
			s.log.Warn("Failed to persist event", "type", ev.Type, "error", err)
		}
	}
	m.closeFailed(m.registry.BroadcastWith(ev.Room, ev, s.id, persist))
}
