package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, "tcp", opts.GetNet().Network)
	assert.Equal(t, ":58800", opts.GetNet().Address)
	assert.False(t, opts.GetNet().ReusePort)
	assert.Equal(t, "munet", opts.GetName())
	assert.Equal(t, 0, opts.NumLoops)
	assert.Equal(t, time.Millisecond, opts.GetTick())
	assert.Equal(t, int64(1000), opts.GetWheelSize())
	assert.True(t, opts.GetKeepAlive())
	assert.Equal(t, time.Duration(0), opts.GetKeepAlivePeriod())
}

func TestOptionsSetters(t *testing.T) {
	opts := NewOptions(
		Network("tcp4"),
		Address("127.0.0.1:0"),
		Name("opts-test"),
		NumLoops(4),
		ReusePort(true),
		IdleTime(time.Minute),
		Tick(10*time.Millisecond),
		WheelSize(512),
		KeepAlive(false),
		KeepAlivePeriod(75*time.Second),
	)

	assert.Equal(t, "tcp4", opts.GetNet().Network)
	assert.Equal(t, "127.0.0.1:0", opts.GetNet().Address)
	assert.True(t, opts.GetNet().ReusePort)
	assert.Equal(t, "opts-test", opts.GetName())
	assert.Equal(t, 4, opts.NumLoops)
	assert.Equal(t, time.Minute, opts.IdleTime)
	assert.Equal(t, 10*time.Millisecond, opts.GetTick())
	assert.Equal(t, int64(512), opts.GetWheelSize())
	assert.False(t, opts.GetKeepAlive())
	assert.Equal(t, 75*time.Second, opts.GetKeepAlivePeriod())
}
