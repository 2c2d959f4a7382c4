// +build linux

package multiplex

import (
	"time"

	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"golang.org/x/sys/unix"
)

// Poll is the level-scan backend over poll(2). It keeps an ordered pollfd
// array and an fd→record map; every wait scans the whole array once. O(n) per
// wait, but it needs nothing from the kernel beyond POSIX poll.
type Poll struct {
	fds      []unix.PollFd
	fdEvents map[int]FDEvent // real fd → registered event
	wakeFd   int
	wakeIdx  int // position of the wake entry in fds
	wakeBuf  []byte
}

// NewPoll 创建 poll 后端
func NewPoll() (*Poll, error) {
	wakeFd, err := newWakeFd()
	if err != nil {
		return nil, err
	}
	p := &Poll{
		fdEvents: make(map[int]FDEvent),
		wakeFd:   wakeFd,
		wakeBuf:  make([]byte, 8),
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(wakeFd), Events: unix.POLLIN})
	p.wakeIdx = 0
	return p, nil
}

func pollEventsFromIOEvent(eventType protocol.EventType) (events int16) {
	if eventType&protocol.EventRead != protocol.EventNone {
		events |= unix.POLLIN | unix.POLLPRI
	}
	if eventType&protocol.EventWrite != protocol.EventNone {
		events |= unix.POLLOUT
	}
	return
}

// UpdateEvent appends a new record or rewrites one in place. A record whose
// mask went empty stays in the array with its fd bit-inverted so the kernel
// skips it and every other record keeps its position.
func (this *Poll) UpdateEvent(ev FDEvent) error {
	idx := ev.Index()
	if idx < 0 || idx >= len(this.fds) {
		if ev.GetEvents() == protocol.EventNone {
			return nil
		}
		// new registration
		this.fds = append(this.fds, unix.PollFd{
			Fd:     int32(ev.GetFd()),
			Events: pollEventsFromIOEvent(ev.GetEvents()),
		})
		ev.SetIndex(len(this.fds) - 1)
		this.fdEvents[ev.GetFd()] = ev
		return nil
	}

	pfd := &this.fds[idx]
	pfd.Events = pollEventsFromIOEvent(ev.GetEvents())
	pfd.Revents = 0
	if ev.GetEvents() == protocol.EventNone {
		// ignore this record but keep its slot
		pfd.Fd = -int32(ev.GetFd()) - 1
	} else {
		pfd.Fd = int32(ev.GetFd())
	}
	return nil
}

// RemoveEvent swaps the victim with the last record and pops, fixing the
// moved record's owner index. Only legal with an empty interest mask.
func (this *Poll) RemoveEvent(ev FDEvent) error {
	if ev.GetEvents() != protocol.EventNone {
		log.Fatalf("remove fd[%d] with non-empty interest mask", ev.GetFd())
	}
	idx := ev.Index()
	if idx < 0 || idx >= len(this.fds) {
		return nil
	}
	delete(this.fdEvents, ev.GetFd())
	ev.SetIndex(StatusNew)

	last := len(this.fds) - 1
	if idx != last {
		this.fds[idx] = this.fds[last]
		movedFd := int(this.fds[idx].Fd)
		if movedFd < 0 {
			movedFd = -movedFd - 1
		}
		if movedFd == this.wakeFd {
			this.wakeIdx = idx
		} else if moved, ok := this.fdEvents[movedFd]; ok {
			moved.SetIndex(idx)
		}
	}
	this.fds = this.fds[:last]
	return nil
}

func ioEventFromPollEvents(events int16) (rEvents protocol.EventType) {
	if events&unix.POLLHUP != 0 && events&unix.POLLIN == 0 {
		rEvents |= protocol.EventClose
	}
	if events&unix.POLLNVAL != 0 {
		log.Warn("poll reported POLLNVAL")
	}
	if events&(unix.POLLERR|unix.POLLNVAL) != 0 {
		rEvents |= protocol.EventErr
	}
	if events&(unix.POLLIN|unix.POLLPRI|unix.POLLRDHUP) != 0 {
		rEvents |= protocol.EventRead
	}
	if events&unix.POLLOUT != 0 {
		rEvents |= protocol.EventWrite
	}
	return
}

// WaitEvent waits once, then scans the array harvesting records with a
// non-zero ready mask.
func (this *Poll) WaitEvent(handler protocol.EmbedHandler2Multiplex, timeMs int) (time.Time, error) {
	n, err := unix.Poll(this.fds, timeMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	if n == 0 {
		return now, nil
	}

	for i := 0; i < len(this.fds) && n > 0; i++ {
		revents := this.fds[i].Revents
		if revents == 0 {
			continue
		}
		n--
		fd := int(this.fds[i].Fd)
		if fd == this.wakeFd {
			this.drainWake()
			continue
		}
		handler(fd, ioEventFromPollEvents(revents))
	}
	return now, nil
}

// Wake ...
func (this *Poll) Wake() error {
	_, err := unix.Write(this.wakeFd, wakeBytes)
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (this *Poll) drainWake() {
	n, err := unix.Read(this.wakeFd, this.wakeBuf)
	if err != nil || n != 8 {
		log.Error("drain wake fd: ", err, n)
	}
}

// Close ...
func (this *Poll) Close() error {
	return unix.Close(this.wakeFd)
}
