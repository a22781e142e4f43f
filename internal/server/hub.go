// Package server tracks live WebSocket clients, runs their pumps, and
// forwards their lifecycle to the coordinator via the Hub type.
package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/flyshare/internal/coordinator"
)

// ErrHubClosed is returned when a client is attached after Shutdown.
var ErrHubClosed = errors.New("hub is shut down")

// Hub owns the set of live clients. Presence and routing belong to the
// coordinator; the hub only attaches clients to it and tears them down.
type Hub struct {
	coord   *coordinator.Coordinator
	clients map[*Client]struct{}
	mutex   sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a hub that forwards client events to coord.
func NewHub(coord *coordinator.Coordinator) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		coord:   coord,
		clients: make(map[*Client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Attach announces client to the coordinator and starts its pumps. The
// connect event is applied before the read pump starts, so the welcome
// frame always precedes any reply to the client's own frames.
func (h *Hub) Attach(client *Client) error {
	if h.ctx.Err() != nil {
		client.close()
		return ErrHubClosed
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	err := h.dispatch(h.ctx, coordinator.Connect{ConnID: client.id, RoomID: client.roomID, Sink: client})
	if err != nil {
		h.mutex.Lock()
		delete(h.clients, client)
		h.mutex.Unlock()
		client.close()

		// The connect may already sit in the coordinator's queue and be
		// applied later; follow it with a disconnect so it cannot linger.
		h.settleDisconnect(client.id)
		return err
	}
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump(h.ctx)
	}()
	return nil
}

// unregister removes client and raises its disconnect. It runs once per
// client, from the read pump.
func (h *Hub) unregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.close()
	if !ok {
		return
	}

	h.settleDisconnect(client.id)
	log.Printf("Client %s unregistered. Total clients: %d", client.id, clientCount)
}

// settleDisconnect applies a disconnect for connID. It is independent of
// the hub context and has no deadline: it returns once the coordinator has
// handled the event or stopped. A connection that never landed is ignored.
func (h *Hub) settleDisconnect(connID string) {
	err := h.coord.Dispatch(context.Background(), coordinator.Disconnect{ConnID: connID})
	if err != nil && !errors.Is(err, coordinator.ErrStopped) && !errors.Is(err, coordinator.ErrNotConnected) {
		log.Printf("Error dispatching disconnect for %s: %v", connID, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, ev coordinator.Event) error {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	return h.coord.Dispatch(ctx, ev)
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// shutdownClients closes all active client connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection %s: %v", client.id, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown closes every client and waits for their pumps to finish, or
// until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-ctx.Done():
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}

// ShutdownTimeout is Shutdown bounded by timeout.
func (h *Hub) ShutdownTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Shutdown(ctx)
}
