package eventloop

import (
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/munetio/munet/net/protocol"
)

// timerSequence hands out process-wide unique, monotonically increasing ids,
// so a recycled *Timer can never be confused with the one it replaced.
var timerSequence atomic.Int64

// Timer is one scheduled callback, owned by its TimerQueue.
type Timer struct {
	callback   protocol.DefaultFunction
	expiration time.Time
	interval   time.Duration
	repeat     bool
	sequence   int64
	heapIndex  int
}

func newTimer(cb protocol.DefaultFunction, when time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   timerSequence.Add(1),
		heapIndex:  -1,
	}
}

func (this *Timer) run() {
	if this.callback != nil {
		this.callback()
	}
}

// restart re-seats a repeating timer one interval past its last expiration.
// A late fire therefore steps once per fire and never bursts through the
// intervals it missed.
func (this *Timer) restart() {
	this.expiration = this.expiration.Add(this.interval)
}

func (this *Timer) Expiration() time.Time {
	return this.expiration
}

func (this *Timer) Repeat() bool {
	return this.repeat
}

func (this *Timer) Sequence() int64 {
	return this.sequence
}

// TimerID is the opaque handle held by user code; the sequence keeps it
// valid to cancel even after the Timer's memory was reused.
type TimerID struct {
	timer    *Timer
	sequence int64
}
