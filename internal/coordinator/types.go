package coordinator

import (
	"encoding/json"
	"time"
)

// Known device types. Other values are accepted and passed through untouched.
const (
	DeviceTypePhone   = "phone"
	DeviceTypeLaptop  = "laptop"
	DeviceTypeTablet  = "tablet"
	DeviceTypeDesktop = "desktop"
)

// AnonymousSender is the sender name used for messages from connections
// that have not registered a device.
const AnonymousSender = "Anonymous"

// DeviceInfo is the identity a connection presents after registering.
// ID is the connection id of the registering connection.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// KnownDeviceType reports whether t is one of the enumerated device types.
func KnownDeviceType(t string) bool {
	switch t {
	case DeviceTypePhone, DeviceTypeLaptop, DeviceTypeTablet, DeviceTypeDesktop:
		return true
	}
	return false
}

// FileShareRecord describes one shared file. Records are immutable once
// appended to a room.
type FileShareRecord struct {
	FileID      string
	DisplayName string
	StorageName string
	Size        int64
	MIMEType    string
	Sender      string
	UploadedAt  time.Time
}

type fileShareWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StorageName string `json:"storageName"`
	Size        string `json:"size"`
	Bytes       int64  `json:"bytes"`
	Type        string `json:"type"`
	Sender      string `json:"sender"`
	Timestamp   string `json:"timestamp"`
}

// MarshalJSON encodes the record in the shape clients render, with the size
// normalised to a human readable string.
func (r FileShareRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileShareWire{
		ID:          r.FileID,
		Name:        r.DisplayName,
		StorageName: r.StorageName,
		Size:        FormatSize(r.Size),
		Bytes:       r.Size,
		Type:        r.MIMEType,
		Sender:      r.Sender,
		Timestamp:   r.UploadedAt.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. The human size is ignored in
// favour of the byte count.
func (r *FileShareRecord) UnmarshalJSON(data []byte) error {
	var w fileShareWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	uploadedAt, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil && w.Timestamp != "" {
		return err
	}
	*r = FileShareRecord{
		FileID:      w.ID,
		DisplayName: w.Name,
		StorageName: w.StorageName,
		Size:        w.Bytes,
		MIMEType:    w.Type,
		Sender:      w.Sender,
		UploadedAt:  uploadedAt,
	}
	return nil
}

// MessageRecord is a text message as delivered to room members. Sender and
// SenderID are filled in by the server, never trusted from the client.
type MessageRecord struct {
	Text     string `json:"text"`
	Time     string `json:"time"`
	Device   string `json:"device"`
	Sender   string `json:"sender"`
	SenderID string `json:"senderId"`
}

// Sink delivers encoded frames to one client. Send must not block; it
// returns false when the frame could not be queued (buffer full or the
// connection already closed).
type Sink interface {
	Send(frame []byte) bool
}

// ConnectionRecord is the registry entry for one live connection.
type ConnectionRecord struct {
	ID     string
	RoomID string
	Device *DeviceInfo
	Sink   Sink
}

// Registered reports whether the connection has presented a device.
func (c ConnectionRecord) Registered() bool {
	return c.Device != nil
}
