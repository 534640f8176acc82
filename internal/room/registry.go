// Package room tracks which sessions are in which of the configured rooms
// and fans events out to the members of a room.
package room

import (
	"errors"
	"slices"
	"sync"

	"github.com/Tyrowin/lanchat/internal/protocol"
	"github.com/samber/lo"
)

var (
	ErrUnknownRoom   = errors.New("unknown room")
	ErrAlreadyMember = errors.New("already a member of a room")
	ErrNotMember     = errors.New("not a member of any room")
)

// Member is a recipient of room broadcasts. Deliver must not block: a
// recipient that cannot accept the event returns an error instead.
type Member interface {
	ID() string
	Deliver(ev protocol.Event) error
}

type room struct {
	mu      sync.Mutex
	members map[string]Member
}

// Registry holds the closed set of rooms fixed at construction.
//
// Membership changes take the registry lock and then the affected room
// locks; broadcasts take only the room lock, so a broadcast never observes
// a member half way through a move.
type Registry struct {
	names []string
	rooms map[string]*room

	mu    sync.Mutex
	index map[string]string
}

// NewRegistry creates a registry for the given room names. Duplicates and
// empty names are dropped.
func NewRegistry(names []string) *Registry {
	names = lo.Uniq(lo.Compact(names))
	rooms := make(map[string]*room, len(names))
	for _, name := range names {
		rooms[name] = &room{members: make(map[string]Member)}
	}
	return &Registry{
		names: names,
		rooms: rooms,
		index: make(map[string]string),
	}
}

// Rooms returns the configured room names in configuration order.
func (r *Registry) Rooms() []string {
	return slices.Clone(r.names)
}

// Has reports whether name is a configured room.
func (r *Registry) Has(name string) bool {
	_, ok := r.rooms[name]
	return ok
}

// Join adds m to the named room.
func (r *Registry) Join(m Member, name string) error {
	return r.JoinWith(m, name, nil)
}

// JoinWith adds m to the named room. A non-nil before runs with the room
// locked, ahead of m becoming visible to broadcasts; an error from it
// cancels the join. before must not call back into the registry.
func (r *Registry) JoinWith(m Member, name string, before func() error) error {
	target, ok := r.rooms[name]
	if !ok {
		return ErrUnknownRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, joined := r.index[m.ID()]; joined {
		return ErrAlreadyMember
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if before != nil {
		if err := before(); err != nil {
			return err
		}
	}
	target.members[m.ID()] = m

	r.index[m.ID()] = name
	return nil
}

// Leave removes m from whatever room it is in and returns that room. It is
// a no-op for a member that is not in any room.
func (r *Registry) Leave(m Member) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.index[m.ID()]
	if !ok {
		return "", false
	}

	current := r.rooms[name]
	current.mu.Lock()
	delete(current.members, m.ID())
	current.mu.Unlock()

	delete(r.index, m.ID())
	return name, true
}

// Move transfers m from its current room to the named room in one step and
// returns the room it left.
func (r *Registry) Move(m Member, name string) (string, error) {
	return r.MoveWith(m, name, nil)
}

// MoveWith is Move with a hook that runs while both rooms are locked, before
// the member changes rooms. An error from before cancels the move. Moving
// to the current room is a no-op and does not run before.
func (r *Registry) MoveWith(m Member, name string, before func() error) (string, error) {
	target, ok := r.rooms[name]
	if !ok {
		return "", ErrUnknownRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldName, joined := r.index[m.ID()]
	if !joined {
		return "", ErrNotMember
	}
	if oldName == name {
		return oldName, nil
	}
	old := r.rooms[oldName]

	first, second := old, target
	if name < oldName {
		first, second = target, old
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	if before != nil {
		if err := before(); err != nil {
			return "", err
		}
	}
	delete(old.members, m.ID())
	target.members[m.ID()] = m

	r.index[m.ID()] = name
	return oldName, nil
}

// RoomOf returns the room the member with the given id is in.
func (r *Registry) RoomOf(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.index[id]
	return name, ok
}

// Broadcast delivers ev to every member of the named room except the one
// whose id is exclude. Members whose delivery failed are returned so the
// caller can tear them down; they do not stop delivery to the others.
func (r *Registry) Broadcast(name string, ev protocol.Event, exclude string) []Member {
	return r.BroadcastWith(name, ev, exclude, nil)
}

// BroadcastWith is Broadcast with a hook that runs under the room lock just
// before delivery, so nothing joins the room between the two.
func (r *Registry) BroadcastWith(name string, ev protocol.Event, exclude string, before func()) []Member {
	target, ok := r.rooms[name]
	if !ok {
		return nil
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if before != nil {
		before()
	}

	var failed []Member
	for id, m := range target.members {
		if id == exclude {
			continue
		}
		if err := m.Deliver(ev); err != nil {
			failed = append(failed, m)
		}
	}
	return failed
}

// Members returns the sorted ids of the members of the named room.
func (r *Registry) Members(name string) []string {
	target, ok := r.rooms[name]
	if !ok {
		return nil
	}

	target.mu.Lock()
	ids := lo.Keys(target.members)
	target.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Counts returns the number of members of every room.
func (r *Registry) Counts() map[string]int {
	counts := make(map[string]int, len(r.rooms))
	for name, target := range r.rooms {
		target.mu.Lock()
		counts[name] = len(target.members)
		target.mu.Unlock()
	}
	return counts
}
