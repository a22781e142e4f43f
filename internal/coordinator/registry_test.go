package coordinator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry tests the connection registry in isolation.
func TestRegistry(t *testing.T) {
	t.Run("new registry is empty", func(t *testing.T) {
		r := NewRegistry()
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, r.All())

		_, ok := r.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("connect records entry without device", func(t *testing.T) {
		r := NewRegistry()
		require.True(t, r.OnConnect("a", "room", nil))

		rec, ok := r.Lookup("a")
		require.True(t, ok)
		assert.Equal(t, "room", rec.RoomID)
		assert.False(t, rec.Registered())
	})

	t.Run("duplicate connect is ignored", func(t *testing.T) {
		r := NewRegistry()
		require.True(t, r.OnConnect("a", "room1", nil))
		assert.False(t, r.OnConnect("a", "room2", nil))

		rec, _ := r.Lookup("a")
		assert.Equal(t, "room1", rec.RoomID)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("register device", func(t *testing.T) {
		r := NewRegistry()
		r.OnConnect("a", "room", nil)

		device, err := r.RegisterDevice("a", "Laptop", "laptop")
		require.NoError(t, err)
		assert.Equal(t, DeviceInfo{ID: "a", Name: "Laptop", Type: "laptop"}, device)

		rec, _ := r.Lookup("a")
		require.True(t, rec.Registered())
		assert.Equal(t, device, *rec.Device)
	})

	t.Run("register unknown connection", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.RegisterDevice("ghost", "x", "phone")
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("register twice", func(t *testing.T) {
		r := NewRegistry()
		r.OnConnect("a", "room", nil)
		_, err := r.RegisterDevice("a", "first", "phone")
		require.NoError(t, err)

		_, err = r.RegisterDevice("a", "second", "phone")
		assert.ErrorIs(t, err, ErrAlreadyRegistered)

		rec, _ := r.Lookup("a")
		assert.Equal(t, "first", rec.Device.Name)
	})

	t.Run("disconnect returns room and is idempotent", func(t *testing.T) {
		r := NewRegistry()
		r.OnConnect("a", "room", nil)

		room, err := r.OnDisconnect("a")
		require.NoError(t, err)
		assert.Equal(t, "room", room)

		_, err = r.OnDisconnect("a")
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("lookup returns a copy", func(t *testing.T) {
		r := NewRegistry()
		r.OnConnect("a", "room", nil)
		_, _ = r.RegisterDevice("a", "orig", "phone")

		rec, _ := r.Lookup("a")
		rec.Device.Name = "changed"

		again, _ := r.Lookup("a")
		assert.Equal(t, "orig", again.Device.Name)
	})

	t.Run("in room keeps connect order", func(t *testing.T) {
		r := NewRegistry()
		for i := 0; i < 10; i++ {
			room := "even"
			if i%2 == 1 {
				room = "odd"
			}
			r.OnConnect(fmt.Sprintf("c%d", i), room, nil)
		}

		var ids []string
		for _, rec := range r.InRoom("odd") {
			ids = append(ids, rec.ID)
		}
		assert.Equal(t, []string{"c1", "c3", "c5", "c7", "c9"}, ids)
		assert.Len(t, r.All(), 10)
	})

	t.Run("registered in room counts devices only", func(t *testing.T) {
		r := NewRegistry()
		r.OnConnect("a", "room", nil)
		r.OnConnect("b", "room", nil)
		_, _ = r.RegisterDevice("a", "A", "phone")

		assert.Equal(t, 1, r.RegisteredInRoom("room"))
		assert.Equal(t, 0, r.RegisteredInRoom("other"))
	})
}

// TestRegistryConcurrentAccess verifies thread-safety under concurrent use.
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", id)
			r.OnConnect(conn, "room", nil)
			_, _ = r.RegisterDevice(conn, conn, "phone")
			_ = r.InRoom("room")
			_, _ = r.OnDisconnect(conn)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}
