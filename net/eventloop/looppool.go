package eventloop

import (
	"github.com/munetio/munet/net/log"
)

// LoopThreadPool spawns numLoops worker loops and hands them out
// round-robin. With zero workers every caller gets the base loop, so all
// connections run on it.
type LoopThreadPool struct {
	baseLoop *EventLoop
	numLoops int
	started  bool
	next     int
	loops    []*EventLoop
	threads  []*LoopThread
}

func NewLoopThreadPool(baseLoop *EventLoop, numLoops int) *LoopThreadPool {
	return &LoopThreadPool{
		baseLoop: baseLoop,
		numLoops: numLoops,
	}
}

// Start spins up the workers. Base-loop goroutine only, once.
func (this *LoopThreadPool) Start() {
	this.baseLoop.AssertInLoopGoroutine()
	if this.started {
		log.Fatalf("LoopThreadPool started twice")
	}
	this.started = true

	for i := 0; i < this.numLoops; i++ {
		thread := NewLoopThread()
		this.threads = append(this.threads, thread)
		this.loops = append(this.loops, thread.StartLoop())
	}
}

// GetNextLoop picks the next worker round-robin. Base-loop goroutine only.
func (this *LoopThreadPool) GetNextLoop() *EventLoop {
	this.baseLoop.AssertInLoopGoroutine()
	if !this.started {
		log.Fatalf("LoopThreadPool not started")
	}
	if len(this.loops) == 0 {
		return this.baseLoop
	}
	loop := this.loops[this.next]
	this.next = (this.next + 1) % len(this.loops)
	return loop
}

// Loops returns every worker loop (the base loop when there are none).
func (this *LoopThreadPool) Loops() []*EventLoop {
	if len(this.loops) == 0 {
		return []*EventLoop{this.baseLoop}
	}
	return this.loops
}

// Stop quits every worker loop and waits them out.
func (this *LoopThreadPool) Stop() {
	for _, thread := range this.threads {
		if err := thread.Stop(); err != nil {
			log.Errorf("stop loop thread error[%v]", err)
		}
	}
}
