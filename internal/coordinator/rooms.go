package coordinator

import (
	"slices"
	"sync"
)

// Room is a snapshot of one network room.
type Room struct {
	ID      string
	Members []DeviceInfo
	Files   []FileShareRecord
}

type roomState struct {
	id          string
	connections map[string]struct{}
	members     []DeviceInfo
	files       []FileShareRecord
}

func (s *roomState) snapshot() Room {
	return Room{
		ID:      s.id,
		Members: slices.Clone(s.members),
		Files:   slices.Clone(s.files),
	}
}

// RoomStore maps room ids to their members and shared-file history.
// A room lives exactly as long as at least one connection is attached to it.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

// NewRoomStore creates an empty room store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*roomState),
	}
}

// Join attaches connID to roomID, creating the room if needed. It does not
// add a member; membership starts on device registration.
func (s *RoomStore) Join(roomID, connID string) Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &roomState{
			id:          roomID,
			connections: make(map[string]struct{}),
		}
		s.rooms[roomID] = room
	}
	room.connections[connID] = struct{}{}
	return room.snapshot()
}

// AddMember appends device to the room's member list.
func (s *RoomStore) AddMember(roomID string, device DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.members = append(room.members, device)
	return nil
}

// RemoveMember detaches connID from the room and drops its member entry.
// When no connection remains the room is deleted in the same step and
// empty is true.
func (s *RoomStore) RemoveMember(roomID, connID string) (empty bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, ErrRoomNotFound
	}

	delete(room.connections, connID)
	room.members = slices.DeleteFunc(room.members, func(d DeviceInfo) bool { return d.ID == connID })

	if len(room.connections) == 0 {
		delete(s.rooms, roomID)
		return true, nil
	}
	return false, nil
}

// AppendFile adds record to the room's file log.
func (s *RoomStore) AppendFile(roomID string, record FileShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.files = append(room.files, record)
	return nil
}

// ListMembers returns the room's members in join order, or nil for an
// unknown room.
func (s *RoomStore) ListMembers(roomID string) []DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(room.members)
}

// ListFiles returns the room's file log in upload order, or nil for an
// unknown room.
func (s *RoomStore) ListFiles(roomID string) []FileShareRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(room.files)
}

// Get returns a snapshot of the room.
func (s *RoomStore) Get(roomID string) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return room.snapshot(), true
}

// Exists reports whether roomID is live.
func (s *RoomStore) Exists(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
