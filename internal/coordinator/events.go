package coordinator

// Event is an inbound presence event. The set of implementations is closed:
// Connect, RegisterDevice, SendMessage, ShareFile and Disconnect.
type Event interface {
	eventName() string
}

// Connect is raised by the transport when a new connection is accepted and
// its room id has been derived.
type Connect struct {
	ConnID string
	RoomID string
	Sink   Sink
}

// RegisterDevice carries the register_device payload.
type RegisterDevice struct {
	ConnID string
	Name   string
	Type   string
}

// SendMessage carries the send_message payload. Room is empty when the
// client omitted it.
type SendMessage struct {
	ConnID string
	Room   string
	Text   string
	Time   string
	Device string
}

// ShareFile announces an uploaded file to a room. It is raised by the
// upload handler once the file is stored.
type ShareFile struct {
	RoomID string
	Record FileShareRecord
}

// Disconnect is raised by the transport when a connection closes.
type Disconnect struct {
	ConnID string
}

func (Connect) eventName() string        { return "connect" }
func (RegisterDevice) eventName() string { return "register_device" }
func (SendMessage) eventName() string    { return "send_message" }
func (ShareFile) eventName() string      { return "file_shared" }
func (Disconnect) eventName() string     { return "disconnect" }
