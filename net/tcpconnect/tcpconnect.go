// +build linux

package tcpconnect

import (
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/munetio/munet/net/buffer"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"github.com/munetio/munet/net/socket"
	"golang.org/x/sys/unix"
)

// OnConnectionCallback fires when the state reaches Connected and again when
// it reaches Disconnected.
type OnConnectionCallback func(c *TcpConnect)

// OnMessageCallback receives the input buffer; it is expected to consume
// what it can and leave the rest.
type OnMessageCallback func(c *TcpConnect, buf *buffer.Buffer, receiveTime time.Time)

// OnWriteCompleteCallback fires when the output buffer drains to empty.
type OnWriteCompleteCallback func(c *TcpConnect)

// OnHighWaterMarkCallback fires once per upward crossing of the output
// buffer threshold.
type OnHighWaterMarkCallback func(c *TcpConnect, size int)

// OnCloseCallback is the owner's hook (TcpServer/TcpClient bookkeeping).
type OnCloseCallback func(c *TcpConnect)

type ConnectState int64

const (
	Connecting ConnectState = iota + 1
	Connected
	Disconnecting
	Disconnected
)

func (s ConnectState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	case Disconnected:
		return "Disconnected"
	}
	return "Unknown"
}

const (
	// defaultHighWaterMark is the output-buffer size that triggers the
	// back-pressure callback.
	defaultHighWaterMark = 64 * 1024 * 1024

	readScratchSize = 0xFFFF
)

// TcpConnect is one established TCP connection: a socket, its event
// registration and the two byte buffers, driven entirely on its loop
// goroutine. User code sees it between the Connected and the Disconnected
// connection callback, never outside.
type TcpConnect struct {
	loop *eventloop.EventLoop
	name string

	fd    int
	event *eventloop.Event
	state atomic.Int64 // ConnectState; written on the loop, read anywhere

	localAddr, peerAddr *socket.InetAddr

	inBuffer  *buffer.Buffer
	outBuffer *buffer.Buffer
	scratch   []byte

	highWaterMark int

	connectionCallback    OnConnectionCallback
	messageCallback       OnMessageCallback
	writeCompleteCallback OnWriteCompleteCallback
	highWaterMarkCallback OnHighWaterMarkCallback
	closeCallback         OnCloseCallback

	context interface{}

	activeTime atomic.Int64 // unix seconds of last I/O, for idle reaping
	destroyed  bool
}

// New wraps an already-connected nonblocking fd. The connection starts in
// Connecting; the owner dispatches ConnectedHandle on the loop to finish.
func New(loop *eventloop.EventLoop, name string, fd int, localAddr, peerAddr *socket.InetAddr) *TcpConnect {
	var tcpConnect = TcpConnect{
		loop:          loop,
		name:          name,
		fd:            fd,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inBuffer:      buffer.Get(),
		outBuffer:     buffer.Get(),
		scratch:       make([]byte, readScratchSize),
		highWaterMark: defaultHighWaterMark,
	}
	tcpConnect.state.Swap(int64(Connecting))

	if err := socket.SetKeepAlive(fd, true); err != nil {
		log.Errorf("set keepalive fd[%d] error[%v]", fd, err)
	}

	tcpConnect.event = eventloop.NewEvent(loop, fd)
	tcpConnect.event.SetReadFunc(tcpConnect.readEvent)
	tcpConnect.event.SetWriteFunc(tcpConnect.writeEvent)
	tcpConnect.event.SetCloseFunc(tcpConnect.closeEvent)
	tcpConnect.event.SetErrorFunc(tcpConnect.errorEvent)

	return &tcpConnect
}

func (this *TcpConnect) Name() string {
	return this.name
}

func (this *TcpConnect) OwnerLoop() *eventloop.EventLoop {
	return this.loop
}

func (this *TcpConnect) State() ConnectState {
	return ConnectState(this.state.Get())
}

func (this *TcpConnect) IsConnected() bool {
	return this.State() == Connected
}

func (this *TcpConnect) LocalAddr() *socket.InetAddr {
	return this.localAddr
}

// PeerAddr 获取客户端地址信息
func (this *TcpConnect) PeerAddr() *socket.InetAddr {
	return this.peerAddr
}

// SetContext parks an opaque user value on the connection.
func (this *TcpConnect) SetContext(ctx interface{}) {
	this.context = ctx
}

func (this *TcpConnect) Context() interface{} {
	return this.context
}

// SetNoDelay toggles Nagle's algorithm; connections start with it on
// (kernel default), so this is the opt-out.
func (this *TcpConnect) SetNoDelay(on bool) error {
	return socket.SetNoDelay(this.fd, on)
}

// SetKeepAlive toggles SO_KEEPALIVE; connections start with it on.
func (this *TcpConnect) SetKeepAlive(on bool) error {
	return socket.SetKeepAlive(this.fd, on)
}

// SetKeepAlivePeriod enables keep-alive with the probe interval in seconds.
func (this *TcpConnect) SetKeepAlivePeriod(secs int) error {
	return socket.SetKeepAlivePeriod(this.fd, secs)
}

// SetHighWaterMark replaces the back-pressure threshold.
func (this *TcpConnect) SetHighWaterMark(bytes int) {
	this.highWaterMark = bytes
}

func (this *TcpConnect) SetConnectionCallback(cb OnConnectionCallback) {
	this.connectionCallback = cb
}

func (this *TcpConnect) SetMessageCallback(cb OnMessageCallback) {
	this.messageCallback = cb
}

func (this *TcpConnect) SetWriteCompleteCallback(cb OnWriteCompleteCallback) {
	this.writeCompleteCallback = cb
}

func (this *TcpConnect) SetHighWaterMarkCallback(cb OnHighWaterMarkCallback) {
	this.highWaterMarkCallback = cb
}

func (this *TcpConnect) SetCloseCallback(cb OnCloseCallback) {
	this.closeCallback = cb
}

// ActiveTime is the unix-seconds stamp of the last read or write.
func (this *TcpConnect) ActiveTime() int64 {
	return this.activeTime.Get()
}

// Send queues data for delivery. Callable from any goroutine; off-loop
// callers get their bytes copied before the hand-off.
func (this *TcpConnect) Send(data []byte) error {
	if this.State() != Connected {
		return protocol.ErrConnectionClosed
	}
	if this.loop.IsInLoopGoroutine() {
		this.sendInLoop(data)
		return nil
	}
	owned := append([]byte(nil), data...)
	this.loop.QueueInLoop(func() {
		this.sendInLoop(owned)
	})
	return nil
}

// SendString ...
func (this *TcpConnect) SendString(data string) error {
	return this.Send([]byte(data))
}

// SendBuffer drains buf into the connection.
func (this *TcpConnect) SendBuffer(buf *buffer.Buffer) error {
	first, end := buf.PeekAll()
	data := make([]byte, 0, len(first)+len(end))
	data = append(data, first...)
	data = append(data, end...)
	buf.RetrieveAll()
	if this.State() != Connected {
		return protocol.ErrConnectionClosed
	}
	this.loop.RunInLoop(func() {
		this.sendInLoop(data)
	})
	return nil
}

// sendInLoop tries one direct write when nothing is queued, buffers the
// remainder, flips WRITE interest on when bytes are left, and reports the
// high-water crossing exactly once per climb.
func (this *TcpConnect) sendInLoop(data []byte) {
	if ConnectState(this.state.Get()) == Disconnected {
		log.Warn("send on disconnected connection ", this.name)
		return
	}

	var (
		nwrote     int
		err        error
		faultError bool
	)

	if !this.event.IsWriting() && this.outBuffer.ReadableBytes() == 0 {
		nwrote, err = unix.Write(this.fd, data)
		if err != nil {
			nwrote = 0
			if err != unix.EAGAIN && err != unix.EINTR {
				log.Errorf("write fd[%d] error[%v]; in sendInLoop", this.fd, err)
				if err == unix.EPIPE || err == unix.ECONNRESET {
					faultError = true
				}
			}
		} else {
			this.updateActivityTime()
			if nwrote == len(data) && this.writeCompleteCallback != nil {
				cb := this.writeCompleteCallback
				this.loop.QueueInLoop(func() {
					cb(this)
				})
			}
		}
	}

	remaining := len(data) - nwrote
	if remaining > 0 && !faultError {
		oldLen := this.outBuffer.ReadableBytes()
		if oldLen < this.highWaterMark && oldLen+remaining >= this.highWaterMark && this.highWaterMarkCallback != nil {
			cb := this.highWaterMarkCallback
			size := oldLen + remaining
			this.loop.QueueInLoop(func() {
				cb(this, size)
			})
		}
		this.outBuffer.Append(data[nwrote:])
		if !this.event.IsWriting() {
			_ = this.event.EnableWriting(true)
		}
	}
}

// readEvent appends whatever the socket holds to the input buffer through
// the scratch slab and hands the buffer to the message callback.
func (this *TcpConnect) readEvent(receiveTime time.Time) {
	n, err := this.inBuffer.ReadFromFd(this.fd, this.scratch)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		log.Errorf("fd[%d] readEvent error[%v]", this.fd, err)
		this.errorEvent()
		return
	}
	if n == 0 {
		this.closeEvent()
		return
	}

	this.updateActivityTime()
	if this.messageCallback != nil {
		this.messageCallback(this, this.inBuffer, receiveTime)
	}
}

// writeEvent flushes the output buffer; on full drain WRITE interest goes
// off, the write-complete callback is posted, and a pending half-close is
// finished.
func (this *TcpConnect) writeEvent() {
	if !this.event.IsWriting() {
		log.Warnf("fd[%d] is down, no more writing", this.fd)
		return
	}

	first, end := this.outBuffer.PeekAll()
	n, err := unix.Write(this.fd, first)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		log.Errorf("fd[%d] writeEvent error[%v]", this.fd, err)
		this.closeEvent()
		return
	}
	this.outBuffer.Retrieve(n)

	if n == len(first) && len(end) > 0 {
		n, err = unix.Write(this.fd, end)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.Errorf("fd[%d] writeEvent error[%v]", this.fd, err)
			this.closeEvent()
			return
		}
		this.outBuffer.Retrieve(n)
	}

	this.updateActivityTime()

	if this.outBuffer.ReadableBytes() == 0 {
		_ = this.event.EnableWriting(false)

		if this.writeCompleteCallback != nil {
			cb := this.writeCompleteCallback
			this.loop.QueueInLoop(func() {
				cb(this)
			})
		}

		if ConnectState(this.state.Get()) == Disconnecting {
			this.shutdownInLoop()
		}
	}
}

// Shutdown half-closes: no more writes from this side once the output
// buffer drains; reads continue until the peer closes.
func (this *TcpConnect) Shutdown() {
	if ConnectState(this.state.Get()) == Connected {
		this.state.Swap(int64(Disconnecting))
		this.loop.RunInLoop(this.shutdownInLoop)
	}
}

func (this *TcpConnect) shutdownInLoop() {
	this.loop.AssertInLoopGoroutine()
	if !this.event.IsWriting() {
		if err := socket.ShutdownWrite(this.fd); err != nil {
			log.Errorf("shutdown write fd[%d] error[%v]", this.fd, err)
		}
	}
}

// ForceClose tears the connection down without waiting for the output
// buffer. Repeated calls collapse into one close-path traversal.
func (this *TcpConnect) ForceClose() {
	state := ConnectState(this.state.Get())
	if state == Connected || state == Disconnecting {
		this.state.Swap(int64(Disconnecting))
		this.loop.QueueInLoop(this.forceCloseInLoop)
	}
}

// ForceCloseWithDelay arms a one-shot timer for ForceClose; an earlier
// normal close makes the fire a no-op.
func (this *TcpConnect) ForceCloseWithDelay(delay time.Duration) {
	state := ConnectState(this.state.Get())
	if state == Connected || state == Disconnecting {
		this.loop.RunAfter(delay, this.ForceClose)
	}
}

func (this *TcpConnect) forceCloseInLoop() {
	this.loop.AssertInLoopGoroutine()
	state := ConnectState(this.state.Get())
	if state == Connected || state == Disconnecting {
		this.closeEvent()
	}
}

func (this *TcpConnect) errorEvent() {
	err := socket.GetSocketError(this.fd)
	log.Errorf("connection %s SO_ERROR[%v]", this.name, err)
	this.closeEvent()
}

// closeEvent is the single close path: peer close, read/write error and
// force close all end up here, exactly once.
func (this *TcpConnect) closeEvent() {
	state := ConnectState(this.state.Get())
	if state == Disconnected {
		return
	}
	log.Debugf("connection %s fd[%d] closing from state %v", this.name, this.fd, state)
	this.state.Swap(int64(Disconnected))
	_ = this.event.DisableAll()

	if this.connectionCallback != nil {
		this.connectionCallback(this)
	}
	// the owner unhooks its bookkeeping and queues ConnectDestroyed
	if this.closeCallback != nil {
		this.closeCallback(this)
	}
}

// ConnectedHandle finishes establishment on the loop goroutine: ties the
// event to the connection, registers READ interest and announces Connected.
func (this *TcpConnect) ConnectedHandle() {
	this.loop.AssertInLoopGoroutine()
	if ConnectState(this.state.Get()) != Connecting {
		log.Fatalf("connection %s established twice", this.name)
	}
	this.state.Swap(int64(Connected))
	this.updateActivityTime()

	this.event.Tie(this)
	_ = this.event.EnableReading(true)

	if this.connectionCallback != nil {
		this.connectionCallback(this)
	}
}

// ConnectDestroyed is the terminal step, queued by the owner after the
// close path ran. Idempotent; the socket is closed here, exactly once.
func (this *TcpConnect) ConnectDestroyed() {
	this.loop.AssertInLoopGoroutine()
	if this.destroyed {
		return
	}
	this.destroyed = true

	if ConnectState(this.state.Get()) == Connected {
		// owner dropped the connection without a close event
		this.state.Swap(int64(Disconnected))
		_ = this.event.DisableAll()
		if this.connectionCallback != nil {
			this.connectionCallback(this)
		}
	}
	_ = this.event.RemoveFromLoop()

	if err := unix.Close(this.fd); err != nil {
		log.Errorf("close fd[%d] error[%v]", this.fd, err)
	}

	buffer.Put(this.inBuffer)
	buffer.Put(this.outBuffer)
}

func (this *TcpConnect) updateActivityTime() {
	this.activeTime.Swap(time.Now().Unix())
}
