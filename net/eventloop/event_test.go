// +build linux

package eventloop

import (
	"testing"
	"time"

	"github.com/munetio/munet/net/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEventMaskUpdate(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)

		eventTest := NewEvent(loop, p[0])
		require.NoError(t, eventTest.EnableReading(true))
		assert.True(t, eventTest.IsReading())
		assert.False(t, eventTest.IsWriting())
		assert.True(t, loop.eventCtrl.HasEvent(p[0]))

		require.NoError(t, eventTest.EnableWriting(true))
		assert.True(t, eventTest.IsWriting())

		require.NoError(t, eventTest.EnableWriting(false))
		assert.False(t, eventTest.IsWriting())
		assert.True(t, eventTest.IsReading())

		require.NoError(t, eventTest.DisableAll())
		assert.True(t, eventTest.IsNoneEvent())

		require.NoError(t, eventTest.RemoveFromLoop())
		assert.False(t, loop.eventCtrl.HasEvent(p[0]))
	})
	<-done
}

func TestEventReadDispatchCarriesTimestamp(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	got := make(chan time.Time, 1)
	loop.RunInLoop(func() {
		ev := NewEvent(loop, p[0])
		ev.SetReadFunc(func(receiveTime time.Time) {
			var buf [8]byte
			_, _ = unix.Read(p[0], buf[:])
			select {
			case got <- receiveTime:
			default:
			}
		})
		require.NoError(t, ev.EnableReading(true))
	})

	before := time.Now()
	_, err := unix.Write(p[1], []byte("x"))
	require.NoError(t, err)

	select {
	case receiveTime := <-got:
		assert.False(t, receiveTime.Before(before.Add(-time.Second)))
		assert.False(t, receiveTime.After(time.Now()))
	case <-time.After(2 * time.Second):
		t.Fatal("read callback did not run")
	}
}

func TestEventDispatchSkipsMissingCallbacks(t *testing.T) {
	// no callbacks set: dispatch of any mask must be a silent no-op
	ev := NewEvent(nil, 1)
	ev.SetRevents(protocol.EventRead | protocol.EventWrite | protocol.EventErr | protocol.EventClose)
	ev.HandleEvent(time.Now())
}

func TestEventDispatchOrder(t *testing.T) {
	ev := NewEvent(nil, 1)

	var order []string
	ev.SetCloseFunc(func() { order = append(order, "close") })
	ev.SetErrorFunc(func() { order = append(order, "error") })
	ev.SetReadFunc(func(time.Time) { order = append(order, "read") })
	ev.SetWriteFunc(func() { order = append(order, "write") })

	ev.SetRevents(protocol.EventClose | protocol.EventErr | protocol.EventRead | protocol.EventWrite)
	ev.HandleEvent(time.Now())
	assert.Equal(t, []string{"close", "error", "read", "write"}, order)

	// a readable hangup reads; it does not close
	order = nil
	ev.SetRevents(protocol.EventRead)
	ev.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, order)
}

func TestEventTieGuard(t *testing.T) {
	ev := NewEvent(nil, 1)
	ran := false
	ev.SetReadFunc(func(time.Time) { ran = true })
	ev.SetRevents(protocol.EventRead)

	// tied to nothing: dispatch is skipped
	ev.Tie(nil)
	ev.HandleEvent(time.Now())
	assert.False(t, ran)

	owner := &struct{ int }{}
	ev.Tie(owner)
	ev.HandleEvent(time.Now())
	assert.True(t, ran)
}
