package server

import (
	"encoding/json"
	"strings"
)

// Inbound event names accepted on the WebSocket.
const (
	eventRegisterDevice = "register_device"
	eventSendMessage    = "send_message"
)

// inboundFrame is the envelope every client frame arrives in.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registerDevicePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type sendMessagePayload struct {
	Room    string `json:"room"`
	Message struct {
		Text   string `json:"text"`
		Time   string `json:"time"`
		Device string `json:"device"`
	} `json:"message"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
