package eventloop

import (
	"time"

	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/multiplex"
	"github.com/munetio/munet/net/protocol"
)

// EventCtrl pairs the poller backend with the fd→Event registry. Ready fds
// coming back from the backend resolve through the registry before dispatch.
type EventCtrl struct {
	eventPool map[int]*Event
	multi     multiplex.Multiplex
}

func NewEventCtrl() (*EventCtrl, error) {
	multi, err := multiplex.New()
	if err != nil {
		log.Errorf("create multiplex error[%v]; in eventCtrl", err)
		return nil, err
	}
	return &EventCtrl{
		eventPool: make(map[int]*Event),
		multi:     multi,
	}, nil
}

// NewEventCtrlWithBackend lets a loop run on a specific backend.
func NewEventCtrlWithBackend(multi multiplex.Multiplex) *EventCtrl {
	return &EventCtrl{
		eventPool: make(map[int]*Event),
		multi:     multi,
	}
}

func (this *EventCtrl) UpdateEvent(eventPtr *Event) error {
	if _, ok := this.eventPool[eventPtr.GetFd()]; !ok {
		this.eventPool[eventPtr.GetFd()] = eventPtr
	}
	return this.multi.UpdateEvent(eventPtr)
}

func (this *EventCtrl) RemoveEvent(eventPtr *Event) error {
	if _, ok := this.eventPool[eventPtr.GetFd()]; ok {
		delete(this.eventPool, eventPtr.GetFd())
	}
	return this.multi.RemoveEvent(eventPtr)
}

func (this *EventCtrl) HasEvent(fd int) bool {
	_, ok := this.eventPool[fd]
	return ok
}

// Poll waits once and fills active with the events whose fds came back
// ready, each stamped with its translated ready mask. Returns the timestamp
// sampled right after the wait.
func (this *EventCtrl) Poll(timeMs int, active *[]*Event) (time.Time, error) {
	return this.multi.WaitEvent(func(fd int, eventType protocol.EventType) {
		tempEvent, ok := this.eventPool[fd]
		if !ok {
			// stale fd raced with a concurrent unregister; nothing to do
			log.Debugf("poll returned unregistered fd[%d]", fd)
			return
		}
		tempEvent.SetRevents(eventType)
		*active = append(*active, tempEvent)
	}, timeMs)
}

func (this *EventCtrl) Wake() error {
	return this.multi.Wake()
}

func (this *EventCtrl) Stop() error {
	return this.multi.Close()
}
