// +build linux

package multiplex

import (
	"os"
	"time"
	"unsafe"

	"github.com/munetio/munet/net/protocol"
	"golang.org/x/sys/unix"
)

// FDEvent is the slice of an event record a backend needs: the fd, the
// interest mask, and one int of backend bookkeeping (tri-state registration
// for epoll, array position for poll).
type FDEvent interface {
	GetFd() int
	GetEvents() protocol.EventType
	Index() int
	SetIndex(index int)
}

// Registration states stored in an FDEvent's index by the epoll backend.
const (
	StatusNew     = -1
	StatusAdded   = 1
	StatusDeleted = 2
)

// Multiplex is the readiness backend. UpdateEvent reconciles the interest
// mask with the kernel (ADD on first non-empty mask, MOD on change, DEL on
// empty mask); RemoveEvent is only legal once the mask is empty. WaitEvent
// blocks up to timeMs, reports each ready fd through the handler and returns
// the timestamp sampled right after the wait came back.
//
// Every method except Wake must run on the owning loop's goroutine.
type Multiplex interface {
	UpdateEvent(ev FDEvent) error
	RemoveEvent(ev FDEvent) error
	WaitEvent(handler protocol.EmbedHandler2Multiplex, timeMs int) (time.Time, error)
	Wake() error
	Close() error
}

// UsePollEnv selects the level-scan backend for every loop in the process.
const UsePollEnv = "MUNET_USE_POLL"

// PollPreferred reports whether the process asked for the poll(2) backend.
func PollPreferred() bool {
	return os.Getenv(UsePollEnv) != ""
}

// New 创建默认后端
func New() (Multiplex, error) {
	if PollPreferred() {
		return NewPoll()
	}
	return NewEpoll()
}

// eventfd write payload, endianness-compatible across architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	wakeCounter uint64 = 1
	wakeBytes          = (*(*[8]byte)(unsafe.Pointer(&wakeCounter)))[:]
)

func newWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}
