// +build linux

package connector

import (
	"syscall"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/socket"
	"golang.org/x/sys/unix"
)

// OnNewConnectionCallback receives a freshly connected fd.
type OnNewConnectionCallback func(fd int)

type ConnectorState int

const (
	Disconnected ConnectorState = iota + 1
	Connecting
	Connected
)

const (
	// InitRetryDelay is the first retry delay; it doubles per failure.
	InitRetryDelay = 500 * time.Millisecond
	// MaxRetryDelay caps the backoff.
	MaxRetryDelay = 30 * time.Second
)

// Connector drives one nonblocking connect attempt at a time toward a fixed
// peer, retrying refused/unreachable outcomes with exponential backoff. The
// connected fd is handed to the owner; the Connector never owns a
// connection.
//
// All state lives on the loop goroutine; Start/Stop funnel.
type Connector struct {
	loop       *eventloop.EventLoop
	serverAddr *socket.InetAddr
	connect    atomic.Bool // owner wants a connection
	state      ConnectorState
	event      *eventloop.Event
	retryDelay time.Duration

	newConnectionCallback OnNewConnectionCallback
}

func New(loop *eventloop.EventLoop, serverAddr *socket.InetAddr) *Connector {
	return &Connector{
		loop:       loop,
		serverAddr: serverAddr,
		state:      Disconnected,
		retryDelay: InitRetryDelay,
	}
}

func (this *Connector) SetNewConnectionCallback(cb OnNewConnectionCallback) {
	this.newConnectionCallback = cb
}

func (this *Connector) ServerAddr() *socket.InetAddr {
	return this.serverAddr
}

// Start begins connecting. Any goroutine.
func (this *Connector) Start() {
	this.connect.Set(true)
	this.loop.RunInLoop(this.startInLoop)
}

// Stop withdraws the wish to connect. An in-flight attempt is abandoned; an
// already-published connection is untouched. A retry timer left behind fires
// into the cleared connect flag and does nothing.
func (this *Connector) Stop() {
	this.connect.Set(false)
	this.loop.QueueInLoop(this.stopInLoop)
}

// Restart resets the backoff and reconnects immediately. Loop goroutine
// only: the owner calls it from its close callback.
func (this *Connector) Restart() {
	this.loop.AssertInLoopGoroutine()
	this.state = Disconnected
	this.retryDelay = InitRetryDelay
	this.connect.Set(true)
	this.startInLoop()
}

func (this *Connector) startInLoop() {
	this.loop.AssertInLoopGoroutine()
	if this.state != Disconnected {
		log.Debugf("connector to %s not disconnected, skip start", this.serverAddr.IPPort())
		return
	}
	if !this.connect.Get() {
		log.Debugf("connector to %s was stopped", this.serverAddr.IPPort())
		return
	}
	this.doConnect()
}

func (this *Connector) stopInLoop() {
	if this.state == Connecting {
		this.state = Disconnected
		fd := this.removeAndResetEvent()
		this.retry(fd)
	}
}

// doConnect sorts the connect(2) outcome three ways: in-progress outcomes
// wait for writability, retriable errnos back off, anything else abandons
// the attempt.
func (this *Connector) doConnect() {
	fd, err := socket.Create(this.serverAddr.Family())
	if err != nil {
		log.Errorf("connector create socket error[%v]", err)
		return
	}

	err = socket.Connect(fd, this.serverAddr)
	errno, _ := err.(syscall.Errno)
	switch errno {
	case 0, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		this.connecting(fd)

	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		this.retry(fd)

	default:
		log.Errorf("connect to %s error[%v]", this.serverAddr.IPPort(), err)
		_ = unix.Close(fd)
	}
}

// connecting parks the socket in the poller with WRITE interest; the result
// of the attempt shows up as writability.
func (this *Connector) connecting(fd int) {
	this.state = Connecting
	this.event = eventloop.NewEvent(this.loop, fd)
	this.event.SetWriteFunc(this.handleWrite)
	this.event.SetErrorFunc(this.handleError)
	_ = this.event.EnableWriting(true)
}

func (this *Connector) handleWrite() {
	if this.state != Connecting {
		return
	}

	fd := this.removeAndResetEvent()
	if err := socket.GetSocketError(fd); err != nil {
		log.Warnf("connector SO_ERROR[%v] for %s", err, this.serverAddr.IPPort())
		this.state = Disconnected
		this.retry(fd)
		return
	}
	if socket.IsSelfConnect(fd) {
		log.Warnf("connector self connect to %s", this.serverAddr.IPPort())
		this.state = Disconnected
		this.retry(fd)
		return
	}

	this.state = Connected
	if this.connect.Get() && this.newConnectionCallback != nil {
		this.newConnectionCallback(fd)
	} else {
		_ = unix.Close(fd)
	}
}

func (this *Connector) handleError() {
	if this.state != Connecting {
		return
	}
	fd := this.removeAndResetEvent()
	err := socket.GetSocketError(fd)
	log.Errorf("connector handleError SO_ERROR[%v]", err)
	this.state = Disconnected
	this.retry(fd)
}

// retry closes the failed socket and schedules a fresh attempt after the
// current delay, doubling it up to the cap. The timer callback re-checks the
// connect flag, so Stop between fires wins.
func (this *Connector) retry(fd int) {
	_ = unix.Close(fd)
	this.state = Disconnected
	if !this.connect.Get() {
		log.Debugf("connector to %s stopped, no retry", this.serverAddr.IPPort())
		return
	}

	log.Infof("connector retry connecting to %s in %v", this.serverAddr.IPPort(), this.retryDelay)
	this.loop.RunAfter(this.retryDelay, this.startInLoop)
	this.retryDelay *= 2
	if this.retryDelay > MaxRetryDelay {
		this.retryDelay = MaxRetryDelay
	}
}

// removeAndResetEvent detaches the in-flight event and returns its fd. The
// event object itself is dropped in a queued task: it may be the one
// currently dispatching.
func (this *Connector) removeAndResetEvent() int {
	event := this.event
	_ = event.DisableAll()
	_ = event.RemoveFromLoop()
	fd := event.GetFd()
	this.loop.QueueInLoop(func() {
		if this.event == event {
			this.event = nil
		}
	})
	return fd
}
