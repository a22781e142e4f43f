package coordinator

import (
	"cmp"
	"slices"
	"sync"
)

type registryEntry struct {
	record ConnectionRecord
	seq    uint64
}

// Registry maps each live connection to its room and device metadata.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	nextSeq uint64
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// OnConnect records a new connection without a device. It reports false and
// leaves the existing entry untouched if id is already present.
func (r *Registry) OnConnect(id, roomID string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return false
	}
	r.nextSeq++
	r.entries[id] = &registryEntry{
		record: ConnectionRecord{ID: id, RoomID: roomID, Sink: sink},
		seq:    r.nextSeq,
	}
	return true
}

// RegisterDevice attaches device metadata to a connection. A device can be
// set only once.
func (r *Registry) RegisterDevice(id, name, deviceType string) (DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return DeviceInfo{}, ErrNotConnected
	}
	if entry.record.Device != nil {
		return DeviceInfo{}, ErrAlreadyRegistered
	}

	device := DeviceInfo{ID: id, Name: name, Type: deviceType}
	entry.record.Device = &device
	return device, nil
}

// OnDisconnect removes a connection and returns the room it belonged to.
func (r *Registry) OnDisconnect(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return "", ErrNotConnected
	}
	delete(r.entries, id)
	return entry.record.RoomID, nil
}

// Lookup returns a copy of the connection record for id.
func (r *Registry) Lookup(id string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return ConnectionRecord{}, false
	}
	return copyRecord(entry.record), true
}

// InRoom returns the connections attached to roomID in connect order.
func (r *Registry) InRoom(roomID string) []ConnectionRecord {
	return r.snapshot(func(rec ConnectionRecord) bool { return rec.RoomID == roomID })
}

// All returns every live connection in connect order.
func (r *Registry) All() []ConnectionRecord {
	return r.snapshot(func(ConnectionRecord) bool { return true })
}

// RegisteredInRoom counts connections in roomID that have a device set.
func (r *Registry) RegisteredInRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.entries {
		if entry.record.RoomID == roomID && entry.record.Device != nil {
			n++
		}
	}
	return n
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) snapshot(keep func(ConnectionRecord) bool) []ConnectionRecord {
	r.mu.RLock()
	matched := make([]registryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if keep(entry.record) {
			matched = append(matched, registryEntry{record: copyRecord(entry.record), seq: entry.seq})
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b registryEntry) int { return cmp.Compare(a.seq, b.seq) })

	records := make([]ConnectionRecord, len(matched))
	for i, entry := range matched {
		records[i] = entry.record
	}
	return records
}

func copyRecord(rec ConnectionRecord) ConnectionRecord {
	if rec.Device != nil {
		device := *rec.Device
		rec.Device = &device
	}
	return rec
}
