package eventloop

import (
	"sync"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/multiplex"
	"github.com/munetio/munet/net/protocol"
)

var (
	loopsMutex      sync.Mutex
	loopOfGoroutine = make(map[int64]*EventLoop)
)

// GetLoopOfCurrentGoroutine returns the loop pinned to the calling
// goroutine, or nil.
func GetLoopOfCurrentGoroutine() *EventLoop {
	loopsMutex.Lock()
	defer loopsMutex.Unlock()
	return loopOfGoroutine[protocol.CurrentGoroutineID()]
}

// EventLoop is a single-goroutine reactor: one poller, one timer queue, one
// pending-task queue. Every event and connection registered with it is only
// ever mutated on the goroutine that constructed it; other goroutines talk
// to the loop exclusively through RunInLoop/QueueInLoop.
type EventLoop struct {
	eventCtrl  *EventCtrl
	timerQueue *TimerQueue

	goroutineID int64

	looping                atomic.Bool
	quit                   atomic.Bool
	eventHandling          atomic.Bool
	callingPendingFunctors atomic.Bool
	iteration              atomic.Int64

	mutex           sync.Mutex
	pendingFunctors []protocol.DefaultFunction

	activeEvents       []*Event
	currentActiveEvent *Event

	waitDone chan struct{}
}

// New constructs a loop pinned to the calling goroutine. Run must later be
// called on this same goroutine. A second loop on one goroutine is a
// contract violation and fatal.
func New() (*EventLoop, error) {
	gid := protocol.CurrentGoroutineID()

	loopsMutex.Lock()
	if other, ok := loopOfGoroutine[gid]; ok {
		loopsMutex.Unlock()
		log.Fatalf("another EventLoop[%p] exists in goroutine[%d]", other, gid)
	}
	loopsMutex.Unlock()

	// both poller backends are live: the level-scan one is picked for the
	// whole process via MUNET_USE_POLL, the kernel-set one otherwise
	var eventCtrl *EventCtrl
	if multiplex.PollPreferred() {
		multi, err := multiplex.NewPoll()
		if err != nil {
			log.Errorf("create poll backend error[%v]; in EventLoop", err)
			return nil, err
		}
		eventCtrl = NewEventCtrlWithBackend(multi)
	} else {
		var err error
		eventCtrl, err = NewEventCtrl()
		if err != nil {
			log.Errorf("create eventCtrl error[%v]; in EventLoop", err)
			return nil, err
		}
	}

	loop := &EventLoop{
		eventCtrl:   eventCtrl,
		goroutineID: gid,
		waitDone:    make(chan struct{}),
	}

	var err error
	loop.timerQueue, err = newTimerQueue(loop)
	if err != nil {
		_ = eventCtrl.Stop()
		log.Errorf("create timerQueue error[%v]; in EventLoop", err)
		return nil, err
	}

	loopsMutex.Lock()
	loopOfGoroutine[gid] = loop
	loopsMutex.Unlock()

	return loop, nil
}

func (this *EventLoop) IsInLoopGoroutine() bool {
	return protocol.CurrentGoroutineID() == this.goroutineID
}

// AssertInLoopGoroutine aborts on wrong-goroutine access; that is a
// programming error, not a runtime condition.
func (this *EventLoop) AssertInLoopGoroutine() {
	if !this.IsInLoopGoroutine() {
		log.Fatalf("EventLoop[%p] owned by goroutine[%d] was accessed from goroutine[%d]",
			this, this.goroutineID, protocol.CurrentGoroutineID())
	}
}

// Iteration counts completed poll cycles; useful to observe liveness.
func (this *EventLoop) Iteration() int64 {
	return this.iteration.Get()
}

// Run drives the loop until Quit. It must be called exactly once, on the
// goroutine that constructed the loop.
func (this *EventLoop) Run() {
	this.AssertInLoopGoroutine()
	if this.looping.Get() {
		log.Fatalf("EventLoop[%p] is already looping", this)
	}
	this.looping.Set(true)
	this.quit.Set(false)

	for !this.quit.Get() {
		this.activeEvents = this.activeEvents[:0]
		now, err := this.eventCtrl.Poll(protocol.PollTimeMs, &this.activeEvents)
		if err != nil {
			log.Errorf("poll error[%v]; in EventLoop", err)
		}
		this.iteration.Add(1)

		this.eventHandling.Set(true)
		for _, activeEvent := range this.activeEvents {
			this.currentActiveEvent = activeEvent
			activeEvent.HandleEvent(now)
		}
		this.currentActiveEvent = nil
		this.eventHandling.Set(false)

		this.doPendingFunctors()
	}

	this.looping.Set(false)

	loopsMutex.Lock()
	delete(loopOfGoroutine, this.goroutineID)
	loopsMutex.Unlock()

	this.timerQueue.close()
	if err := this.eventCtrl.Stop(); err != nil {
		log.Errorf("stop eventCtrl error[%v]; in EventLoop", err)
	}
	close(this.waitDone)
}

// Quit makes the next wait return and the loop exit. Callable from any
// goroutine.
func (this *EventLoop) Quit() {
	this.quit.Set(true)
	if !this.IsInLoopGoroutine() {
		this.wakeup()
	}
}

// Stop quits and waits for Run to unwind. Must not be called from the loop
// goroutine.
func (this *EventLoop) Stop() error {
	if !this.looping.Get() {
		return protocol.ErrClosed
	}
	this.Quit()
	<-this.waitDone
	return nil
}

// RunInLoop runs f inline when already on the loop goroutine, otherwise
// enqueues it for the next drain.
func (this *EventLoop) RunInLoop(f protocol.DefaultFunction) {
	if this.IsInLoopGoroutine() {
		f()
	} else {
		this.QueueInLoop(f)
	}
}

// QueueInLoop always enqueues. The wake is written when the caller is off
// the loop goroutine, or when the loop is currently draining tasks - a task
// queued during a drain must not wait for the full poll timeout.
func (this *EventLoop) QueueInLoop(f protocol.DefaultFunction) {
	this.mutex.Lock()
	this.pendingFunctors = append(this.pendingFunctors, f)
	this.mutex.Unlock()

	if !this.IsInLoopGoroutine() || this.callingPendingFunctors.Get() {
		this.wakeup()
	}
}

func (this *EventLoop) QueueSize() int {
	this.mutex.Lock()
	defer this.mutex.Unlock()
	return len(this.pendingFunctors)
}

// RunAt schedules cb once at the given time.
func (this *EventLoop) RunAt(when time.Time, cb protocol.DefaultFunction) TimerID {
	return this.timerQueue.AddTimer(cb, when, 0)
}

// RunAfter schedules cb once after delay.
func (this *EventLoop) RunAfter(delay time.Duration, cb protocol.DefaultFunction) TimerID {
	return this.timerQueue.AddTimer(cb, time.Now().Add(delay), 0)
}

// RunEvery schedules cb repeatedly with the given interval.
func (this *EventLoop) RunEvery(interval time.Duration, cb protocol.DefaultFunction) TimerID {
	return this.timerQueue.AddTimer(cb, time.Now().Add(interval), interval)
}

// Cancel stops a timer; best-effort if it is currently firing.
func (this *EventLoop) Cancel(id TimerID) {
	this.timerQueue.Cancel(id)
}

func (this *EventLoop) UpdateEvent(eventPtr *Event) error {
	this.AssertInLoopGoroutine()
	return this.eventCtrl.UpdateEvent(eventPtr)
}

// RemoveEvent unregisters eventPtr. While a dispatch sweep is running, the
// event being removed must be the one currently dispatching or outside the
// active batch: removing a later batch entry would dispatch freed state.
func (this *EventLoop) RemoveEvent(eventPtr *Event) error {
	this.AssertInLoopGoroutine()
	if this.eventHandling.Get() {
		if eventPtr != this.currentActiveEvent && this.inActiveList(eventPtr) {
			log.Fatalf("remove fd[%d] while it is still pending dispatch", eventPtr.GetFd())
		}
	}
	return this.eventCtrl.RemoveEvent(eventPtr)
}

func (this *EventLoop) inActiveList(eventPtr *Event) bool {
	for _, active := range this.activeEvents {
		if active == eventPtr {
			return true
		}
	}
	return false
}

func (this *EventLoop) wakeup() {
	if err := this.eventCtrl.Wake(); err != nil {
		log.Errorf("wakeup error[%v]; in EventLoop", err)
	}
}

// doPendingFunctors swaps the queue out under the lock and runs the batch
// outside it, so a task enqueueing further tasks neither deadlocks nor
// starves the poll: the new tasks run in the next iteration.
func (this *EventLoop) doPendingFunctors() {
	this.callingPendingFunctors.Set(true)

	this.mutex.Lock()
	functors := this.pendingFunctors
	this.pendingFunctors = nil
	this.mutex.Unlock()

	for i := 0; i < len(functors); i++ {
		functors[i]()
	}

	this.callingPendingFunctors.Set(false)
}
