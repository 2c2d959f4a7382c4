// +build linux

package multiplex

import (
	"time"

	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"golang.org/x/sys/unix"
)

const initWaitEventsNumber = 1024

// Epoll is the readiness-notifying backend. The kernel keeps the interest
// set; each registered event carries its tri-state (New/Added/Deleted) in its
// index so UpdateEvent knows whether to ADD, MOD or DEL.
type Epoll struct {
	fd         int // epoll fd
	wakeFd     int
	wakeBuf    []byte
	waitEvents []unix.EpollEvent // scratch, grown 2x on saturation
}

// NewEpoll 创建 Epoll 后端
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, err := newWakeFd()
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	err = unix.EpollCtl(fd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	})
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Close(wakeFd)
		return nil, err
	}

	return &Epoll{
		fd:         fd,
		wakeFd:     wakeFd,
		wakeBuf:    make([]byte, 8),
		waitEvents: make([]unix.EpollEvent, initWaitEventsNumber),
	}, nil
}

func epollEventsFromIOEvent(eventType protocol.EventType) (events uint32) {
	if eventType&protocol.EventRead != protocol.EventNone {
		events |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if eventType&protocol.EventWrite != protocol.EventNone {
		events |= unix.EPOLLOUT
	}
	return
}

func (this *Epoll) epollCtrl(op int, fd int, eventType protocol.EventType) error {
	var epollEvent = unix.EpollEvent{
		Events: epollEventsFromIOEvent(eventType),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(this.fd, op, fd, &epollEvent)
}

// UpdateEvent walks the tri-state: New/Deleted go to Added with a kernel ADD;
// Added either mutates in place (MOD) or, on an empty mask, steps to Deleted
// with a kernel DEL.
func (this *Epoll) UpdateEvent(ev FDEvent) error {
	switch ev.Index() {
	case StatusNew, StatusDeleted:
		if ev.GetEvents() == protocol.EventNone {
			return nil
		}
		ev.SetIndex(StatusAdded)
		return this.epollCtrl(unix.EPOLL_CTL_ADD, ev.GetFd(), ev.GetEvents())
	default: // StatusAdded
		if ev.GetEvents() == protocol.EventNone {
			ev.SetIndex(StatusDeleted)
			return this.epollCtrl(unix.EPOLL_CTL_DEL, ev.GetFd(), protocol.EventNone)
		}
		return this.epollCtrl(unix.EPOLL_CTL_MOD, ev.GetFd(), ev.GetEvents())
	}
}

// RemoveEvent forgets the fd entirely; only legal with an empty mask.
func (this *Epoll) RemoveEvent(ev FDEvent) error {
	if ev.GetEvents() != protocol.EventNone {
		log.Fatalf("remove fd[%d] with non-empty interest mask", ev.GetFd())
	}
	idx := ev.Index()
	ev.SetIndex(StatusNew)
	if idx == StatusAdded {
		return this.epollCtrl(unix.EPOLL_CTL_DEL, ev.GetFd(), protocol.EventNone)
	}
	return nil
}

func ioEventFromEpollEvents(events uint32) (rEvents protocol.EventType) {
	if events&unix.EPOLLHUP != 0 && events&unix.EPOLLIN == 0 {
		rEvents |= protocol.EventClose
	}
	if events&unix.EPOLLERR != 0 {
		rEvents |= protocol.EventErr
	}
	if events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		rEvents |= protocol.EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		rEvents |= protocol.EventWrite
	}
	return
}

// WaitEvent waits once, translates each ready fd's mask and hands it to the
// handler. The wake fd is drained internally and never surfaces.
func (this *Epoll) WaitEvent(handler protocol.EmbedHandler2Multiplex, timeMs int) (time.Time, error) {
	n, err := unix.EpollWait(this.fd, this.waitEvents, timeMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}

	for i := 0; i < n; i++ {
		fd := int(this.waitEvents[i].Fd)
		if fd == this.wakeFd {
			this.drainWake()
			continue
		}
		handler(fd, ioEventFromEpollEvents(this.waitEvents[i].Events))
	}

	if n == len(this.waitEvents) {
		this.waitEvents = make([]unix.EpollEvent, n*2)
	}
	return now, nil
}

// Wake makes the next (or current) wait return promptly. Level-triggered and
// coalescing: many pending wakes cost at most one extra wait return.
func (this *Epoll) Wake() error {
	_, err := unix.Write(this.wakeFd, wakeBytes)
	if err == unix.EAGAIN {
		// counter saturated; the pending wake already covers us
		return nil
	}
	return err
}

func (this *Epoll) drainWake() {
	n, err := unix.Read(this.wakeFd, this.wakeBuf)
	if err != nil || n != 8 {
		log.Error("drain wake fd: ", err, n)
	}
}

// Close ...
func (this *Epoll) Close() error {
	if err := unix.Close(this.wakeFd); err != nil {
		return err
	}
	return unix.Close(this.fd)
}
