// +build linux

package tcpserver

import (
	"bytes"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/munetio/munet/net/buffer"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/protocol"
	"github.com/munetio/munet/net/tcpconnect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, opts ...protocol.Option) (*TcpServer, *eventloop.EventLoop, func()) {
	thread := eventloop.NewLoopThread()
	loop := thread.StartLoop()

	opts = append([]protocol.Option{
		protocol.Network("tcp"),
		protocol.Address("127.0.0.1:0"),
	}, opts...)
	srv, err := New(loop, opts...)
	require.NoError(t, err)

	return srv, loop, func() {
		srv.Stop()
		require.NoError(t, loop.Stop())
	}
}

func TestServerEcho(t *testing.T) {
	srv, _, stop := startServer(t, protocol.Name("echo-test"), protocol.NumLoops(2))
	defer stop()

	var connected, disconnected int64
	srv.SetConnectionCallback(func(c *tcpconnect.TcpConnect) {
		if c.IsConnected() {
			atomic.AddInt64(&connected, 1)
		} else {
			atomic.AddInt64(&disconnected, 1)
		}
	})
	srv.SetMessageCallback(func(c *tcpconnect.TcpConnect, buf *buffer.Buffer, receiveTime time.Time) {
		_ = c.SendString(buf.RetrieveAllString())
	})
	srv.Start()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)

	payload := []byte("hello\n")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&disconnected) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&connected))
}

func TestServerStartIdempotent(t *testing.T) {
	srv, _, stop := startServer(t, protocol.Name("idem-test"))
	defer stop()

	srv.Start()
	srv.Start()
	srv.Start()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	_ = conn.Close()
}

func TestServerCrossGoroutineSend(t *testing.T) {
	srv, _, stop := startServer(t, protocol.Name("xsend-test"), protocol.NumLoops(1))
	defer stop()

	const senders = 8
	payload := bytes.Repeat([]byte("z"), 1000)

	srv.SetConnectionCallback(func(c *tcpconnect.TcpConnect) {
		if !c.IsConnected() {
			return
		}
		for i := 0; i < senders; i++ {
			go func() {
				_ = c.Send(payload)
			}()
		}
	})
	srv.Start()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	want := senders * len(payload)
	got := make([]byte, want)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	// every byte of every concurrent send arrived, in some interleaving
	assert.Equal(t, want, bytes.Count(got, []byte("z")))
}

func TestServerBackPressure(t *testing.T) {
	srv, _, stop := startServer(t, protocol.Name("bp-test"))
	defer stop()

	const highWaterMark = 1024 * 1024
	// large enough that the kernel socket buffers on both ends cannot
	// swallow it while the client refuses to read
	blob := bytes.Repeat([]byte("b"), 32*1024*1024)

	var highWater, writeComplete, highWaterFirst int64
	srv.SetConnectionCallback(func(c *tcpconnect.TcpConnect) {
		if c.IsConnected() {
			c.SetHighWaterMark(highWaterMark)
			c.SetHighWaterMarkCallback(func(c *tcpconnect.TcpConnect, size int) {
				atomic.AddInt64(&highWater, 1)
				if atomic.LoadInt64(&writeComplete) == 0 {
					atomic.StoreInt64(&highWaterFirst, 1)
				}
			})
		}
	})
	srv.SetWriteCompleteCallback(func(c *tcpconnect.TcpConnect) {
		atomic.AddInt64(&writeComplete, 1)
	})
	srv.SetMessageCallback(func(c *tcpconnect.TcpConnect, buf *buffer.Buffer, receiveTime time.Time) {
		buf.RetrieveAll()
		_ = c.Send(blob)
	})
	srv.Start()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("go"))
	require.NoError(t, err)

	// don't read yet: the server's output buffer has to climb past the mark
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&highWater) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&writeComplete))

	// now drain; the buffered remainder flushes and write-complete fires
	got := make([]byte, len(blob))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&writeComplete) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&highWaterFirst))
}

func TestServerIdleConnectionReaped(t *testing.T) {
	srv, _, stop := startServer(t,
		protocol.Name("idle-test"),
		protocol.IdleTime(200*time.Millisecond),
		protocol.Tick(10*time.Millisecond),
	)
	defer stop()

	var disconnected int64
	srv.SetConnectionCallback(func(c *tcpconnect.TcpConnect) {
		if !c.IsConnected() {
			atomic.AddInt64(&disconnected, 1)
		}
	})
	srv.Start()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// an idle connection is force-closed by the reaper: the read returns EOF
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&disconnected) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
