package coordinator

import (
	"encoding/json"
	"log"
)

// Outbound event names. These are part of the wire contract.
const (
	EventWelcome        = "welcome"
	EventDeviceList     = "device_list"
	EventDeviceLeft     = "device_left"
	EventFileList       = "file_list"
	EventFileShared     = "file_shared"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// Frame is the JSON envelope for every message exchanged with clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals data into a Frame for event.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

type deviceLeft struct {
	ID string `json:"id"`
}

type errorNotice struct {
	Message string `json:"message"`
}

// Router fans events out to the live connections of a room. Delivery is
// best effort: every frame is offered to each sink once, and a sink that
// cannot take it is skipped without affecting the others.
type Router struct {
	registry *Registry
	rooms    *RoomStore

	// broadcastUnresolved enables the degraded fallback of sending a file
	// notice to every connection when its room cannot be resolved.
	broadcastUnresolved bool
}

// NewRouter creates a router over the given registry and room store.
func NewRouter(registry *Registry, rooms *RoomStore, broadcastUnresolved bool) *Router {
	return &Router{
		registry:            registry,
		rooms:               rooms,
		broadcastUnresolved: broadcastUnresolved,
	}
}

// BroadcastMessage delivers msg to every connection in roomID, the sender
// included. It returns the number of connections that accepted the frame.
func (r *Router) BroadcastMessage(roomID string, msg MessageRecord) int {
	return r.deliver(r.registry.InRoom(roomID), EventReceiveMessage, msg)
}

// BroadcastMessageAll delivers msg to every live connection regardless of room.
func (r *Router) BroadcastMessageAll(msg MessageRecord) int {
	return r.deliver(r.registry.All(), EventReceiveMessage, msg)
}

// BroadcastFileShared announces record to roomID. If the room no longer
// exists the notice goes to every connection when the fallback is enabled;
// otherwise ErrRoomNotFound is returned and nothing is sent.
func (r *Router) BroadcastFileShared(roomID string, record FileShareRecord) (int, error) {
	if !r.rooms.Exists(roomID) {
		if !r.broadcastUnresolved {
			return 0, ErrRoomNotFound
		}
		log.Printf("Room %s not found; broadcasting file %s to all connections", roomID, record.FileID)
		return r.deliver(r.registry.All(), EventFileShared, record), nil
	}
	return r.deliver(r.registry.InRoom(roomID), EventFileShared, record), nil
}

// BroadcastMemberList sends the room's current member list to all of its
// connections.
func (r *Router) BroadcastMemberList(roomID string) int {
	members := r.rooms.ListMembers(roomID)
	if members == nil {
		members = []DeviceInfo{}
	}
	return r.deliver(r.registry.InRoom(roomID), EventDeviceList, members)
}

// NotifyMemberLeft tells the remaining connections of roomID that connID left.
func (r *Router) NotifyMemberLeft(roomID, connID string) int {
	return r.deliver(r.registry.InRoom(roomID), EventDeviceLeft, deviceLeft{ID: connID})
}

// SendFileList sends the room's file history to a single connection.
func (r *Router) SendFileList(conn ConnectionRecord) bool {
	files := r.rooms.ListFiles(conn.RoomID)
	if files == nil {
		files = []FileShareRecord{}
	}
	return r.deliver([]ConnectionRecord{conn}, EventFileList, files) == 1
}

// SendError reports a rejected request to a single connection.
func (r *Router) SendError(conn ConnectionRecord, message string) bool {
	return r.deliver([]ConnectionRecord{conn}, EventError, errorNotice{Message: message}) == 1
}

// SendTo delivers an arbitrary event to one connection.
func (r *Router) SendTo(conn ConnectionRecord, event string, data any) bool {
	return r.deliver([]ConnectionRecord{conn}, event, data) == 1
}

func (r *Router) deliver(targets []ConnectionRecord, event string, data any) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := EncodeFrame(event, data)
	if err != nil {
		log.Printf("Error encoding %s frame: %v", event, err)
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if conn.Sink == nil {
			continue
		}
		if conn.Sink.Send(frame) {
			delivered++
			continue
		}
		log.Printf("Dropped %s frame for connection %s", event, conn.ID)
	}
	return delivered
}
