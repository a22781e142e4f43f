package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingSink captures every frame offered to it.
type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (s *recordingSink) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	s.frames = append(s.frames, f)
	return true
}

func (s *recordingSink) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) all() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

func (s *recordingSink) events() []string {
	var names []string
	for _, f := range s.all() {
		names = append(names, f.Event)
	}
	return names
}

func (s *recordingSink) ofType(event string) []Frame {
	var out []Frame
	for _, f := range s.all() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// fullSink never accepts a frame.
type fullSink struct{}

func (fullSink) Send([]byte) bool { return false }

func startCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Error("coordinator did not stop")
		}
	})
	return c
}

func dispatch(t *testing.T, c *Coordinator, ev Event) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.Dispatch(ctx, ev)
}

func connect(t *testing.T, c *Coordinator, id, room string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	require.NoError(t, dispatch(t, c, Connect{ConnID: id, RoomID: room, Sink: sink}))
	return sink
}

func register(t *testing.T, c *Coordinator, id, name, deviceType string) {
	t.Helper()
	require.NoError(t, dispatch(t, c, RegisterDevice{ConnID: id, Name: name, Type: deviceType}))
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func lastOf(t *testing.T, s *recordingSink, event string) Frame {
	t.Helper()
	frames := s.ofType(event)
	require.NotEmpty(t, frames, "no %s frame received", event)
	return frames[len(frames)-1]
}
