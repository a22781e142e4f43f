// Package server implements the HTTP and WebSocket surface of the FlyShare
// relay.
//
// Connections are accepted on /ws and grouped by a network id derived from
// the client's address. Each connection's frames are decoded into
// coordinator events; the coordinator owns all presence state. Uploads are
// written through the filestore and then announced to the uploader's room.
package server
