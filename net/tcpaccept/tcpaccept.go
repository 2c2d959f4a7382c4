// +build linux

package tcpaccept

import (
	"net"
	"os"
	"time"

	reuseport "github.com/libp2p/go-reuseport"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OnNewConnectCallback 处理新连接
type OnNewConnectCallback func(fd int, sa unix.Sockaddr)

// TcpAccept owns the listening socket and publishes accepted (fd, peer)
// pairs. It reserves one spare descriptor at construction: when accept hits
// EMFILE the spare is closed, the pending connection is accepted and
// dropped, and the spare reopened, so a full process does not spin on a
// permanently readable listen fd.
type TcpAccept struct {
	listener                   net.Listener
	aCopyOfTheUnderlyingOsFile *os.File
	loop                       *eventloop.EventLoop
	newConnectCallback         OnNewConnectCallback
	event                      *eventloop.Event
	listening                  bool
	idleFd                     int
}

// New creates the listener. SO_REUSEADDR is always on (the net package
// does that for listeners); SO_REUSEPORT comes via the reuseport listen
// path when asked for.
func New(loop *eventloop.EventLoop, option protocol.NetWorkAndAddressAndOption) (*TcpAccept, error) {
	var (
		listener net.Listener
		err      error
	)
	if option.ReusePort {
		listener, err = reuseport.Listen(option.Network, option.Address)
	} else {
		listener, err = net.Listen(option.Network, option.Address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", option.Network, option.Address)
	}

	var tcpAccept = TcpAccept{
		listener: listener,
		loop:     loop,
		idleFd:   -1,
	}

	if err = tcpAccept.setFd(); err != nil {
		_ = listener.Close()
		return nil, err
	}
	if err = tcpAccept.setNonblock(); err != nil {
		_ = listener.Close()
		return nil, err
	}

	tcpAccept.idleFd, err = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Errorf("reserve idle fd error[%v]; in tcp accept", err)
		tcpAccept.idleFd = -1
	}

	log.Debugf("created listen fd[%d]; in tcp accept", tcpAccept.Fd())
	tcpAccept.event = eventloop.NewEvent(loop, tcpAccept.Fd())
	tcpAccept.event.SetReadFunc(tcpAccept.acceptHandle)

	return &tcpAccept, nil
}

func (this *TcpAccept) SetNewConnectCallback(newConnectCallback OnNewConnectCallback) {
	this.newConnectCallback = newConnectCallback
}

// Listen enables READ interest on the listen fd. Loop goroutine only;
// owners funnel through RunInLoop.
func (this *TcpAccept) Listen() error {
	this.loop.AssertInLoopGoroutine()
	this.listening = true
	log.Debugf("enable reading; in tcp accept activity; FD(%d)", this.event.GetFd())
	return this.event.EnableReading(true)
}

func (this *TcpAccept) Listening() bool {
	return this.listening
}

// Addr is the bound address; with port 0 it carries the kernel-picked port.
func (this *TcpAccept) Addr() net.Addr {
	return this.listener.Addr()
}

// Close unregisters and closes the listen socket and the idle reserve.
func (this *TcpAccept) Close() error {
	this.loop.RunInLoop(func() {
		this.listening = false
		if err := this.event.DisableAll(); err != nil {
			log.Errorf("close event.DisableAll; error[%v]", err)
		}
		if err := this.event.RemoveFromLoop(); err != nil {
			log.Errorf("close event.RemoveFromLoop; error[%v]", err)
		}
		if err := this.listener.Close(); err != nil {
			log.Errorf("[Listener] close; error[%v] ", err)
		}
		_ = this.aCopyOfTheUnderlyingOsFile.Close()
		if this.idleFd >= 0 {
			_ = unix.Close(this.idleFd)
			this.idleFd = -1
		}
	})
	return nil
}

func (this *TcpAccept) setFd() error {
	tcpListener, ok := this.listener.(*net.TCPListener)
	if !ok {
		return errors.New("could not get file descriptor")
	}
	file, err := tcpListener.File()
	if err != nil {
		return errors.Wrap(err, "listener file")
	}
	this.aCopyOfTheUnderlyingOsFile = file
	return nil
}

func (this *TcpAccept) setNonblock() error {
	return unix.SetNonblock(this.Fd(), true)
}

// acceptHandle accepts once per readable event and hands the connected fd
// to the owner; without an owner callback the fd is closed on the spot.
func (this *TcpAccept) acceptHandle(receiveTime time.Time) {
	nfd, sa, err := unix.Accept4(this.Fd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
		case unix.EMFILE:
			this.drainWithIdleFd()
		default:
			log.Error("accept:", err)
		}
		return
	}

	if this.newConnectCallback != nil {
		this.newConnectCallback(nfd, sa)
	} else {
		_ = unix.Close(nfd)
	}
}

// drainWithIdleFd gives back the reserved descriptor, accepts the pending
// connection just to close it, then re-reserves. Keeps the loop from
// spinning while the process is out of descriptors.
func (this *TcpAccept) drainWithIdleFd() {
	log.Error("accept: too many open files, dropping one pending connection")
	if this.idleFd < 0 {
		return
	}
	_ = unix.Close(this.idleFd)
	nfd, _, err := unix.Accept(this.Fd())
	if err == nil {
		_ = unix.Close(nfd)
	}
	this.idleFd, err = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Errorf("re-reserve idle fd error[%v]; in tcp accept", err)
		this.idleFd = -1
	}
}

// Fd TcpAccept fd
func (this *TcpAccept) Fd() int {
	return int(this.aCopyOfTheUnderlyingOsFile.Fd())
}
