// +build linux

package eventloop

import (
	"container/heap"
	"time"

	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"golang.org/x/sys/unix"
)

// timerHeap orders by (expiration, sequence); the sequence disambiguates
// timers sharing an expiration.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].expiration.Before(h[j].expiration)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// TimerQueue multiplexes all of a loop's timers over one timerfd, registered
// with the loop as a read-only event. The kernel timer always carries the
// earliest expiration.
//
// All mutations run on the loop goroutine; AddTimer and Cancel funnel.
type TimerQueue struct {
	loop       *EventLoop
	timerFd    int
	timerEvent *Event
	readBuf    []byte

	timers       timerHeap
	activeTimers map[int64]*Timer // sequence → timer

	callingExpiredTimers bool
	cancelingTimers      map[int64]struct{}
}

func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}

	tq := &TimerQueue{
		loop:            loop,
		timerFd:         fd,
		readBuf:         make([]byte, 8),
		activeTimers:    make(map[int64]*Timer),
		cancelingTimers: make(map[int64]struct{}),
	}
	tq.timerEvent = NewEvent(loop, fd)
	tq.timerEvent.SetReadFunc(tq.handleRead)
	if err = tq.timerEvent.EnableReading(true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return tq, nil
}

// AddTimer schedules cb at when, repeating every interval if interval > 0.
// Safe from any goroutine.
func (this *TimerQueue) AddTimer(cb protocol.DefaultFunction, when time.Time, interval time.Duration) TimerID {
	timer := newTimer(cb, when, interval)
	this.loop.RunInLoop(func() {
		this.addTimerInLoop(timer)
	})
	return TimerID{timer: timer, sequence: timer.sequence}
}

// Cancel drops the timer. A no-op when it already fired without repeat; a
// timer whose callback is currently running finishes the call, and if it
// repeats, the post-fire re-arm drops it. Safe from any goroutine.
func (this *TimerQueue) Cancel(id TimerID) {
	this.loop.RunInLoop(func() {
		this.cancelInLoop(id)
	})
}

func (this *TimerQueue) addTimerInLoop(timer *Timer) {
	if this.insert(timer) {
		this.resetTimerFd(timer.expiration)
	}
}

func (this *TimerQueue) cancelInLoop(id TimerID) {
	this.loop.AssertInLoopGoroutine()
	if timer, ok := this.activeTimers[id.sequence]; ok && timer == id.timer {
		heap.Remove(&this.timers, timer.heapIndex)
		delete(this.activeTimers, id.sequence)
	} else if this.callingExpiredTimers {
		this.cancelingTimers[id.sequence] = struct{}{}
	}
}

// insert reports whether the new timer became the earliest.
func (this *TimerQueue) insert(timer *Timer) bool {
	heap.Push(&this.timers, timer)
	this.activeTimers[timer.sequence] = timer
	return this.timers[0] == timer
}

func (this *TimerQueue) handleRead(receiveTime time.Time) {
	this.readTimerFd()
	now := time.Now()

	expired := this.getExpired(now)

	this.callingExpiredTimers = true
	this.cancelingTimers = make(map[int64]struct{})
	for _, timer := range expired {
		timer.run()
	}
	this.callingExpiredTimers = false

	this.reset(expired, now)
}

// getExpired extracts the batch of timers due at now.
func (this *TimerQueue) getExpired(now time.Time) []*Timer {
	var expired []*Timer
	for len(this.timers) > 0 && !this.timers[0].expiration.After(now) {
		timer := heap.Pop(&this.timers).(*Timer)
		delete(this.activeTimers, timer.sequence)
		expired = append(expired, timer)
	}
	return expired
}

// reset re-arms the repeating survivors of the expired batch and reseats the
// kernel timer on the new earliest expiration.
func (this *TimerQueue) reset(expired []*Timer, now time.Time) {
	for _, timer := range expired {
		if !timer.repeat {
			continue
		}
		if _, canceled := this.cancelingTimers[timer.sequence]; canceled {
			continue
		}
		timer.restart()
		this.insert(timer)
	}

	if len(this.timers) > 0 {
		this.resetTimerFd(this.timers[0].expiration)
	}
}

// resetTimerFd arms the kernel timer for expiration; a due-or-past
// expiration is clamped to a near-immediate fire (zero would disarm).
func (this *TimerQueue) resetTimerFd(expiration time.Time) {
	d := time.Until(expiration)
	if d < 100*time.Microsecond {
		d = 100 * time.Microsecond
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(this.timerFd, 0, &spec, nil); err != nil {
		log.Errorf("timerfd settime error[%v]", err)
	}
}

func (this *TimerQueue) readTimerFd() {
	n, err := unix.Read(this.timerFd, this.readBuf)
	if err != nil && err != unix.EAGAIN {
		log.Errorf("read timerfd error[%v] n[%d]", err, n)
	}
}

func (this *TimerQueue) close() {
	_ = this.timerEvent.DisableAll()
	_ = this.timerEvent.RemoveFromLoop()
	_ = unix.Close(this.timerFd)
}
