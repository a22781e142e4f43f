package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrStopped is returned by Dispatch once the coordinator loop has exited.
var ErrStopped = errors.New("coordinator stopped")

// Options controls the behaviours that are deliberately configurable.
type Options struct {
	// AllowGuestMessages lets connections that have not registered a device
	// send text messages; they appear under AnonymousSender.
	AllowGuestMessages bool
	// BroadcastUnresolvedFiles sends file notices to every connection when
	// the target room cannot be found. This leaks across rooms and is off
	// by default.
	BroadcastUnresolvedFiles bool
	// LegacyGlobalMessages accepts send_message without a room and delivers
	// it to every connection.
	LegacyGlobalMessages bool
	// MaxDeviceName bounds the registered device name, in runes.
	MaxDeviceName int
	// QueueSize is the capacity of the inbound event queue.
	QueueSize int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		AllowGuestMessages: true,
		MaxDeviceName:      64,
		QueueSize:          256,
	}
}

type request struct {
	event  Event
	result chan error
}

// Welcome is sent to a connection right after it joins, so the client
// learns its own id and room.
type Welcome struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}

// Coordinator owns the connection registry and room store and applies
// inbound events to them one at a time. Events from every connection are
// funnelled through a single queue consumed by Run.
type Coordinator struct {
	registry *Registry
	rooms    *RoomStore
	router   *Router
	opts     Options

	queue    chan request
	done     chan struct{}
	runOnce  sync.Once
	doneOnce sync.Once
}

// New creates a coordinator with empty state. Run must be started before
// events are dispatched.
func New(opts Options) *Coordinator {
	if opts.MaxDeviceName <= 0 {
		opts.MaxDeviceName = DefaultOptions().MaxDeviceName
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}

	registry := NewRegistry()
	rooms := NewRoomStore()
	return &Coordinator{
		registry: registry,
		rooms:    rooms,
		router:   NewRouter(registry, rooms, opts.BroadcastUnresolvedFiles),
		opts:     opts,
		queue:    make(chan request, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Registry exposes the connection registry for read-only inspection.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Rooms exposes the room store for read-only inspection.
func (c *Coordinator) Rooms() *RoomStore { return c.rooms }

// ListFiles returns the shared-file history of roomID.
func (c *Coordinator) ListFiles(roomID string) []FileShareRecord {
	return c.rooms.ListFiles(roomID)
}

// Run processes queued events until ctx is cancelled. It must be called
// once, typically in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		log.Println("Coordinator already running; ignoring second Run call")
		return
	}
	defer c.doneOnce.Do(func() { close(c.done) })

	log.Println("Coordinator started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("Coordinator stopping with %d connections in %d rooms", c.registry.Len(), c.rooms.Len())
			return
		case req := <-c.queue:
			req.result <- c.handle(req.event)
		}
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Dispatch queues ev and waits until it has been handled, returning the
// handler's error. Errors are informational: they have already been logged
// and, where applicable, reported to the client.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) error {
	req := request{event: ev, result: make(chan error, 1)}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Coordinator) handle(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling %s: %v", ev.eventName(), r)
			err = fmt.Errorf("handling %s: %v", ev.eventName(), r)
		}
	}()

	switch e := ev.(type) {
	case Connect:
		return c.handleConnect(e)
	case RegisterDevice:
		return c.handleRegisterDevice(e)
	case SendMessage:
		return c.handleSendMessage(e)
	case ShareFile:
		return c.handleShareFile(e)
	case Disconnect:
		return c.handleDisconnect(e)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

func (c *Coordinator) handleConnect(e Connect) error {
	if !c.registry.OnConnect(e.ConnID, e.RoomID, e.Sink) {
		log.Printf("Connection %s already registered; ignoring duplicate connect", e.ConnID)
		return nil
	}
	c.rooms.Join(e.RoomID, e.ConnID)
	log.Printf("Connection %s joined room %s. Total connections: %d", e.ConnID, e.RoomID, c.registry.Len())

	if rec, ok := c.registry.Lookup(e.ConnID); ok {
		c.router.SendTo(rec, EventWelcome, Welcome{ID: e.ConnID, Room: e.RoomID})
	}
	return nil
}

func (c *Coordinator) handleRegisterDevice(e RegisterDevice) error {
	rec, ok := c.registry.Lookup(e.ConnID)
	if !ok {
		log.Printf("Ignoring register_device from unknown connection %s", e.ConnID)
		return ErrNotConnected
	}

	name, deviceType, err := c.validateDevice(e.Name, e.Type)
	if err != nil {
		log.Printf("Rejected register_device from %s: %v", e.ConnID, err)
		c.router.SendError(rec, err.Error())
		return err
	}

	device, err := c.registry.RegisterDevice(e.ConnID, name, deviceType)
	if err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			c.router.SendError(rec, err.Error())
			return invalid("device", err.Error())
		}
		log.Printf("Failed to register device for %s: %v", e.ConnID, err)
		return err
	}

	if err := c.rooms.AddMember(rec.RoomID, device); err != nil {
		log.Printf("Failed to add %s to room %s: %v", e.ConnID, rec.RoomID, err)
		return err
	}
	log.Printf("Connection %s registered as %q (%s) in room %s", e.ConnID, device.Name, device.Type, rec.RoomID)

	c.router.BroadcastMemberList(rec.RoomID)
	rec.Device = &device
	c.router.SendFileList(rec)
	return nil
}

func (c *Coordinator) validateDevice(name, deviceType string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > c.opts.MaxDeviceName {
		return "", "", invalid("name", fmt.Sprintf("must be at most %d characters", c.opts.MaxDeviceName))
	}
	deviceType = strings.TrimSpace(deviceType)
	if lower := strings.ToLower(deviceType); KnownDeviceType(lower) {
		deviceType = lower
	}
	return name, deviceType, nil
}

func (c *Coordinator) handleSendMessage(e SendMessage) error {
	rec, ok := c.registry.Lookup(e.ConnID)
	if !ok {
		log.Printf("Ignoring send_message from unknown connection %s", e.ConnID)
		return ErrNotConnected
	}

	if err := c.validateMessage(rec, e); err != nil {
		log.Printf("Rejected send_message from %s: %v", e.ConnID, err)
		c.router.SendError(rec, err.Error())
		return err
	}

	msg := MessageRecord{
		Text:     e.Text,
		Time:     e.Time,
		Device:   e.Device,
		Sender:   AnonymousSender,
		SenderID: rec.ID,
	}
	if rec.Device != nil {
		msg.Sender = rec.Device.Name
	}
	if msg.Time == "" {
		msg.Time = time.Now().UTC().Format(time.RFC3339)
	}

	if e.Room == "" {
		n := c.router.BroadcastMessageAll(msg)
		log.Printf("Broadcast legacy message from %s to %d connections", e.ConnID, n)
		return nil
	}
	n := c.router.BroadcastMessage(rec.RoomID, msg)
	log.Printf("Broadcast message from %s to %d connections in room %s", e.ConnID, n, rec.RoomID)
	return nil
}

func (c *Coordinator) validateMessage(rec ConnectionRecord, e SendMessage) error {
	if strings.TrimSpace(e.Text) == "" {
		return invalid("text", "must not be empty")
	}
	if e.Room == "" && !c.opts.LegacyGlobalMessages {
		return invalid("room", "is required")
	}
	if e.Room != "" && e.Room != rec.RoomID {
		return invalid("room", "does not match this connection's network")
	}
	if rec.Device == nil && !c.opts.AllowGuestMessages {
		return invalid("device", "registration required before sending messages")
	}
	return nil
}

func (c *Coordinator) handleShareFile(e ShareFile) error {
	if err := c.rooms.AppendFile(e.RoomID, e.Record); err != nil {
		n, fallbackErr := c.router.BroadcastFileShared(e.RoomID, e.Record)
		if fallbackErr != nil {
			log.Printf("File %s shared to unknown room %s; not broadcast", e.Record.FileID, e.RoomID)
			return fmt.Errorf("share file %s: %w", e.Record.FileID, err)
		}
		// Delivered by the global fallback, so the share counts as announced.
		log.Printf("File %s shared to unknown room %s; sent to %d connections", e.Record.FileID, e.RoomID, n)
		return nil
	}

	n, err := c.router.BroadcastFileShared(e.RoomID, e.Record)
	if err != nil {
		return fmt.Errorf("share file %s: %w", e.Record.FileID, err)
	}
	log.Printf("File %s (%s) shared in room %s to %d connections", e.Record.FileID, FormatSize(e.Record.Size), e.RoomID, n)
	return nil
}

func (c *Coordinator) handleDisconnect(e Disconnect) error {
	roomID, err := c.registry.OnDisconnect(e.ConnID)
	if err != nil {
		log.Printf("Ignoring disconnect for unknown connection %s", e.ConnID)
		return err
	}

	empty, err := c.rooms.RemoveMember(roomID, e.ConnID)
	if err != nil {
		log.Printf("Failed to remove %s from room %s: %v", e.ConnID, roomID, err)
		return err
	}
	if empty {
		log.Printf("Connection %s left; room %s is empty and was removed", e.ConnID, roomID)
		return nil
	}

	log.Printf("Connection %s left room %s. Total connections: %d", e.ConnID, roomID, c.registry.Len())
	c.router.NotifyMemberLeft(roomID, e.ConnID)
	c.router.BroadcastMemberList(roomID)
	return nil
}
