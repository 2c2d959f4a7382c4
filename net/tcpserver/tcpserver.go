// +build linux

package tcpserver

import (
	"fmt"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/RussellLuo/timingwheel"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"github.com/munetio/munet/net/socket"
	"github.com/munetio/munet/net/tcpaccept"
	"github.com/munetio/munet/net/tcpconnect"
	"golang.org/x/sys/unix"
)

// TcpServer owns the acceptor on the loop it was given (the accept loop) and
// fans new connections out round-robin over a pool of worker loops. The
// connection map is touched only on the accept loop.
type TcpServer struct {
	loop    *eventloop.EventLoop // accept loop
	options *protocol.Options
	name    string
	ipPort  string

	tcpAccept *tcpaccept.TcpAccept
	loopPool  *eventloop.LoopThreadPool

	connectionCallback    tcpconnect.OnConnectionCallback
	messageCallback       tcpconnect.OnMessageCallback
	writeCompleteCallback tcpconnect.OnWriteCompleteCallback

	started     atomic.Bool
	nextConnID  int64
	connectPool map[string]*tcpconnect.TcpConnect

	timingWheel *timingwheel.TimingWheel
}

// New builds the server; nothing listens until Start.
func New(loop *eventloop.EventLoop, opts ...protocol.Option) (*TcpServer, error) {
	options := protocol.NewOptions(opts...)

	var tcpServer = TcpServer{
		loop:        loop,
		options:     options,
		name:        options.GetName(),
		connectPool: make(map[string]*tcpconnect.TcpConnect),
	}

	tcpServer.timingWheel = timingwheel.NewTimingWheel(options.GetTick(), options.GetWheelSize())

	var err error
	tcpServer.tcpAccept, err = tcpaccept.New(loop, options.GetNet())
	if err != nil {
		log.Errorf("new accept error[%v]", err)
		return nil, err
	}
	tcpServer.tcpAccept.SetNewConnectCallback(tcpServer.newConnected)
	tcpServer.ipPort = tcpServer.tcpAccept.Addr().String()

	numLoops := options.NumLoops
	if numLoops < 0 {
		numLoops = 0
	}
	tcpServer.loopPool = eventloop.NewLoopThreadPool(loop, numLoops)

	return &tcpServer, nil
}

func (this *TcpServer) Name() string {
	return this.name
}

// Addr is the bound listen address, useful after a port-0 bind.
func (this *TcpServer) Addr() string {
	return this.tcpAccept.Addr().String()
}

func (this *TcpServer) SetConnectionCallback(cb tcpconnect.OnConnectionCallback) {
	this.connectionCallback = cb
}

func (this *TcpServer) SetMessageCallback(cb tcpconnect.OnMessageCallback) {
	this.messageCallback = cb
}

func (this *TcpServer) SetWriteCompleteCallback(cb tcpconnect.OnWriteCompleteCallback) {
	this.writeCompleteCallback = cb
}

// Start spins up the worker pool and begins listening. Idempotent; callable
// from any goroutine.
func (this *TcpServer) Start() {
	if this.started.Set(true) {
		return
	}
	this.timingWheel.Start()
	this.loop.RunInLoop(func() {
		this.loopPool.Start()
		if err := this.tcpAccept.Listen(); err != nil {
			log.Fatalf("server %s listen error[%v]", this.name, err)
		}
	})
}

// Stop closes the acceptor, force-closes live connections and winds the
// worker pool down. The accept loop itself stays with its owner.
func (this *TcpServer) Stop() {
	this.timingWheel.Stop()
	_ = this.tcpAccept.Close()

	done := make(chan struct{})
	this.loop.RunInLoop(func() {
		for _, connect := range this.connectPool {
			connect.ForceClose()
		}
		close(done)
	})
	if !this.loop.IsInLoopGoroutine() {
		<-done
	}
	this.loopPool.Stop()
}

// RunAfter 延时任务
func (this *TcpServer) RunAfter(d time.Duration, f func()) *timingwheel.Timer {
	return this.timingWheel.AfterFunc(d, f)
}

// RunEvery 定时任务
func (this *TcpServer) RunEvery(d time.Duration, f func()) *timingwheel.Timer {
	return this.timingWheel.ScheduleFunc(&protocol.EveryScheduler{Interval: d}, f)
}

// newConnected runs on the accept loop for every accepted fd: name it, pick
// a worker, wire the callbacks, and finish establishment over there.
func (this *TcpServer) newConnected(fd int, sa unix.Sockaddr) {
	this.loop.AssertInLoopGoroutine()

	workLoop := this.loopPool.GetNextLoop()
	peerAddr := socket.FromSockaddr(sa)
	localAddr := socket.FromSockaddr(socket.GetLocalAddr(fd))

	this.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", this.name, this.ipPort, this.nextConnID)
	log.Infof("server %s new connection [%s] from %s", this.name, name, peerAddr.IPPort())

	connect := tcpconnect.New(workLoop, name, fd, localAddr, peerAddr)
	if !this.options.GetKeepAlive() {
		_ = connect.SetKeepAlive(false)
	} else if period := this.options.GetKeepAlivePeriod(); period > 0 {
		_ = connect.SetKeepAlivePeriod(int(period / time.Second))
	}
	connect.SetConnectionCallback(this.connectionCallback)
	connect.SetMessageCallback(this.messageCallback)
	connect.SetWriteCompleteCallback(this.writeCompleteCallback)
	connect.SetCloseCallback(this.connectCloseEvent)

	if this.options.IdleTime > 0 {
		this.timingWheel.AfterFunc(this.options.IdleTime, this.closeTimeoutConnect(connect))
	}

	this.addConnect(name, connect)
	workLoop.RunInLoop(connect.ConnectedHandle)
}

// closeTimeoutConnect re-arms itself until the connection has been idle for
// the whole window, then force-closes it.
func (this *TcpServer) closeTimeoutConnect(connect *tcpconnect.TcpConnect) func() {
	return func() {
		if connect.State() == tcpconnect.Disconnected {
			return
		}
		idle := time.Since(time.Unix(connect.ActiveTime(), 0))
		if idle >= this.options.IdleTime {
			connect.ForceClose()
			return
		}
		this.timingWheel.AfterFunc(this.options.IdleTime-idle, this.closeTimeoutConnect(connect))
	}
}

// connectCloseEvent runs on the worker loop; map maintenance funnels back to
// the accept loop, destruction funnels to the worker.
func (this *TcpServer) connectCloseEvent(connect *tcpconnect.TcpConnect) {
	this.loop.RunInLoop(func() {
		this.removeConnect(connect.Name())
		connect.OwnerLoop().QueueInLoop(connect.ConnectDestroyed)
	})
}

func (this *TcpServer) addConnect(name string, connect *tcpconnect.TcpConnect) {
	this.connectPool[name] = connect
}

func (this *TcpServer) removeConnect(name string) {
	if _, ok := this.connectPool[name]; ok {
		delete(this.connectPool, name)
	}
}
