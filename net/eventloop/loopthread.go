package eventloop

import (
	"github.com/munetio/munet/net/log"
)

// LoopThread runs one EventLoop on its own goroutine. The loop is
// constructed inside that goroutine so the pin lands on the goroutine that
// will drive it.
type LoopThread struct {
	loop         *EventLoop
	initCallback func(*EventLoop)
}

func NewLoopThread() *LoopThread {
	return &LoopThread{}
}

// NewLoopThreadWithInit runs init on the fresh loop's goroutine before the
// loop starts.
func NewLoopThreadWithInit(init func(*EventLoop)) *LoopThread {
	return &LoopThread{initCallback: init}
}

// StartLoop spawns the goroutine and blocks until its loop is ready.
func (this *LoopThread) StartLoop() *EventLoop {
	ready := make(chan *EventLoop, 1)
	go func() {
		loop, err := New()
		if err != nil {
			log.Fatalf("create loop in its goroutine error[%v]", err)
		}
		if this.initCallback != nil {
			this.initCallback(loop)
		}
		ready <- loop
		loop.Run()
	}()
	this.loop = <-ready
	return this.loop
}

func (this *LoopThread) Loop() *EventLoop {
	return this.loop
}

// Stop quits the loop and waits for the goroutine to unwind.
func (this *LoopThread) Stop() error {
	if this.loop == nil {
		return nil
	}
	return this.loop.Stop()
}
