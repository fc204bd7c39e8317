package server

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrRoomFull   = errors.New("room is full")
	ErrMaxRooms   = errors.New("maximum rooms reached")
)

// Room is a named broadcast group with a password and a bounded member
// set. Rooms are never deleted: an empty room keeps its name and index.
type Room struct {
	name       string
	password   string // empty means open room
	index      int
	maxMembers int

	mu      sync.Mutex
	members map[*Session]struct{}
}

func (r *Room) Name() string {
	return r.name
}

// Index is the room's creation ordinal. Assigned once, never reused.
func (r *Room) Index() int {
	return r.index
}

func (r *Room) CheckPassword(password string) bool {
	return r.password == password
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Join admits the session unless the room is at its member ceiling. The
// occupancy check and the reservation happen under one lock, so two
// sessions cannot claim the last slot at once.
func (r *Room) Join(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) >= r.maxMembers {
		return ErrRoomFull
	}
	r.members[s] = struct{}{}
	return nil
}

// Leave frees the session's slot. Safe to call for a non-member.
func (r *Room) Leave(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, s)
}

// Broadcast delivers a line to every member except the sender. The room
// lock is held across the fan-out, so membership cannot change under the
// iteration; delivery itself is a non-blocking push onto each member's
// outbound queue, so a stalled recipient cannot block the sender.
func (r *Room) Broadcast(line string, sender *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for member := range r.members {
		if member == sender {
			continue
		}
		member.push(line)
	}
}

// RoomRegistry maps room names to rooms and enforces the room-count
// ceiling. Duplicate-check and insert run under one mutex.
type RoomRegistry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	maxRooms   int
	maxMembers int
	nextIndex  int
}

func NewRoomRegistry(maxRooms, maxMembers int) *RoomRegistry {
	return &RoomRegistry{
		rooms:      make(map[string]*Room),
		maxRooms:   maxRooms,
		maxMembers: maxMembers,
	}
}

func (r *RoomRegistry) Create(name, password string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rooms) >= r.maxRooms {
		return nil, ErrMaxRooms
	}
	if _, ok := r.rooms[name]; ok {
		return nil, ErrRoomExists
	}

	room := &Room{
		name:       name,
		password:   password,
		index:      r.nextIndex,
		maxMembers: r.maxMembers,
		members:    make(map[*Session]struct{}),
	}
	r.nextIndex++
	r.rooms[name] = room
	return room, nil
}

func (r *RoomRegistry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	return room, ok
}

func (r *RoomRegistry) Exists(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all rooms sorted by name.
func (r *RoomRegistry) List() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].name < rooms[j].name
	})
	return rooms
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *RoomRegistry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms) >= r.maxRooms
}
