// Package coordinator tracks live connections, the network rooms they belong
// to, and routes presence, message and file events to room members.
package coordinator
