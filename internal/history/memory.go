package history

import (
	"sync"

	"github.com/Tyrowin/lanchat/internal/protocol"
)

type roomLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

// MemoryStore keeps history in process memory. Each room has its own lock,
// so appends to different rooms do not contend.
type MemoryStore struct {
	retain int

	mu     sync.RWMutex
	rooms  map[string]*roomLog
	closed bool
}

// NewMemoryStore returns a store keeping at most retain events per room.
// A non-positive retain keeps everything.
func NewMemoryStore(retain int) *MemoryStore {
	return &MemoryStore{retain: retain, rooms: make(map[string]*roomLog)}
}

func (s *MemoryStore) log(room string) (*roomLog, error) {
	s.mu.RLock()
	l, ok := s.rooms[room]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return l, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.rooms[room]; !ok {
		l = &roomLog{}
		s.rooms[room] = l
	}
	return l, nil
}

func (s *MemoryStore) Append(room string, event protocol.Event) error {
	l, err := s.log(room)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if s.retain > 0 && len(l.events) > s.retain {
		l.events = append([]protocol.Event(nil), l.events[len(l.events)-s.retain:]...)
	}
	return nil
}

func (s *MemoryStore) ReadRecent(room string, limit int) ([]protocol.Event, error) {
	l, err := s.log(room)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]protocol.Event(nil), events...), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
