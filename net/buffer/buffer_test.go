// +build linux

package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func join(first, end []byte) []byte {
	out := make([]byte, 0, len(first)+len(end))
	out = append(out, first...)
	out = append(out, end...)
	return out
}

func TestAppendPeekRetrieve(t *testing.T) {
	buf := Get()
	defer Put(buf)

	payload := []byte("hello world")
	buf.Append(payload)
	assert.Equal(t, len(payload), buf.ReadableBytes())

	first, end := buf.PeekAll()
	assert.True(t, bytes.Equal(payload, join(first, end)))
	// peek must not consume
	assert.Equal(t, len(payload), buf.ReadableBytes())

	buf.Retrieve(6)
	assert.Equal(t, 5, buf.ReadableBytes())
	first, end = buf.PeekAll()
	assert.Equal(t, []byte("world"), join(first, end))

	buf.RetrieveAll()
	assert.True(t, buf.IsEmpty())
}

func TestAppendRetrieveRestoresState(t *testing.T) {
	buf := Get()
	defer Put(buf)

	extra := []byte("transient")
	buf.Append(extra)
	buf.Retrieve(len(extra))
	assert.True(t, buf.IsEmpty())

	buf.Append([]byte("stable"))
	buf.Append(extra)
	buf.Retrieve(len(extra))
	assert.Equal(t, 6, buf.ReadableBytes())
}

func TestRetrieveAllString(t *testing.T) {
	buf := Get()
	defer Put(buf)

	buf.Append([]byte("ping"))
	buf.Append([]byte("pong"))
	assert.Equal(t, "pingpong", buf.RetrieveAllString())
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, "", buf.RetrieveAllString())
}

func TestReadFromFd(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	payload := []byte("bytes over a pipe")
	_, err := unix.Write(p[1], payload)
	require.NoError(t, err)

	buf := Get()
	defer Put(buf)
	scratch := make([]byte, 4096)

	n, err := buf.ReadFromFd(p[0], scratch)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	first, end := buf.PeekAll()
	assert.Equal(t, payload, join(first, end))

	// drained pipe reports EAGAIN, not EOF
	n, err = buf.ReadFromFd(p[0], scratch)
	assert.Equal(t, 0, n)
	assert.Equal(t, unix.EAGAIN, err)

	// closed write side reads as n == 0
	unix.Close(p[1])
	n, err = buf.ReadFromFd(p[0], scratch)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
