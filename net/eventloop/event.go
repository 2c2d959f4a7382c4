package eventloop

import (
	"time"

	"github.com/munetio/munet/net/multiplex"
	"github.com/munetio/munet/net/protocol"
)

// ReadFunction is a read callback; it receives the poll-return timestamp.
type ReadFunction func(receiveTime time.Time)

// Event binds one fd to its interest mask and callbacks. It never owns the
// fd: closing it is the registering component's job. Enable/disable calls
// reconcile the mask with the loop's poller; with an empty mask the event is
// kept out of the kernel set.
type Event struct {
	fd      int
	events  protocol.EventType
	revents protocol.EventType
	index   int // poller bookkeeping, see multiplex

	loop *EventLoop

	eventHandling bool
	tied          bool
	tie           interface{}

	readHandle  ReadFunction
	writeHandle protocol.DefaultFunction
	closeHandle protocol.DefaultFunction
	errorHandle protocol.DefaultFunction
}

var _ multiplex.FDEvent = (*Event)(nil)

func NewEvent(loop *EventLoop, fd int) *Event {
	return &Event{
		fd:    fd,
		loop:  loop,
		index: multiplex.StatusNew,
	}
}

func (this *Event) GetFd() int {
	return this.fd
}

func (this *Event) GetEvents() protocol.EventType {
	return this.events
}

func (this *Event) SetRevents(revents protocol.EventType) {
	this.revents = revents
}

func (this *Event) Index() int {
	return this.index
}

func (this *Event) SetIndex(index int) {
	this.index = index
}

func (this *Event) OwnerLoop() *EventLoop {
	return this.loop
}

func (this *Event) EnableReading(isEnable bool) error {
	if isEnable {
		this.events |= protocol.EventRead
	} else {
		this.events &= ^protocol.EventRead
	}
	return this.update()
}

func (this *Event) EnableWriting(isEnable bool) error {
	if isEnable {
		this.events |= protocol.EventWrite
	} else {
		this.events &= ^protocol.EventWrite
	}
	return this.update()
}

func (this *Event) DisableAll() error {
	this.events = protocol.EventNone
	return this.update()
}

func (this *Event) IsWriting() bool {
	return this.events&protocol.EventWrite != protocol.EventNone
}

func (this *Event) IsReading() bool {
	return this.events&protocol.EventRead != protocol.EventNone
}

func (this *Event) IsNoneEvent() bool {
	return this.events == protocol.EventNone
}

func (this *Event) SetReadFunc(function ReadFunction) {
	this.readHandle = function
}

func (this *Event) SetWriteFunc(function protocol.DefaultFunction) {
	this.writeHandle = function
}

func (this *Event) SetErrorFunc(function protocol.DefaultFunction) {
	this.errorHandle = function
}

func (this *Event) SetCloseFunc(function protocol.DefaultFunction) {
	this.closeHandle = function
}

// Tie pins owner for the duration of every dispatch, so a callback that
// drops the last user-visible handle to the owner mid-dispatch cannot leave
// the remaining callbacks running against a released object.
func (this *Event) Tie(owner interface{}) {
	this.tie = owner
	this.tied = true
}

func (this *Event) update() error {
	return this.loop.UpdateEvent(this)
}

// RemoveFromLoop unregisters from the owning loop; the interest mask must be
// empty (DisableAll first).
func (this *Event) RemoveFromLoop() error {
	return this.loop.RemoveEvent(this)
}

// HandleEvent dispatches the ready mask. Order matters: a hangup without
// readable data closes first, then errors, then reads, then writes, so a
// read path that still produces bytes after peer shutdown keeps working.
func (this *Event) HandleEvent(receiveTime time.Time) {
	if this.tied {
		guard := this.tie
		if guard == nil {
			return
		}
		this.handleEventWithGuard(receiveTime)
		return
	}
	this.handleEventWithGuard(receiveTime)
}

func (this *Event) handleEventWithGuard(receiveTime time.Time) {
	this.eventHandling = true

	if this.revents&protocol.EventClose != protocol.EventNone {
		if this.closeHandle != nil {
			this.closeHandle()
		}
	}
	if this.revents&protocol.EventErr != protocol.EventNone {
		if this.errorHandle != nil {
			this.errorHandle()
		}
	}
	if this.revents&protocol.EventRead != protocol.EventNone {
		if this.readHandle != nil {
			this.readHandle(receiveTime)
		}
	}
	if this.revents&protocol.EventWrite != protocol.EventNone {
		if this.writeHandle != nil {
			this.writeHandle()
		}
	}

	this.eventHandling = false
}
