// +build linux

package eventloop

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/munetio/munet/net/multiplex"
	"github.com/munetio/munet/net/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestLoop(t *testing.T) (*EventLoop, func()) {
	thread := NewLoopThread()
	loop := thread.StartLoop()
	require.NotNil(t, loop)
	return loop, func() {
		require.NoError(t, loop.Stop())
	}
}

func TestRunInLoopInlineOnLoopGoroutine(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	done := make(chan bool, 1)
	loop.QueueInLoop(func() {
		ran := false
		loop.RunInLoop(func() { ran = true })
		// inline: f completed before RunInLoop returned
		done <- ran
	})
	assert.True(t, <-done)
}

func TestQueueInLoopRunsExactlyOnce(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	const tasks = 100
	var mu sync.Mutex
	counts := make(map[int]int)
	var wg sync.WaitGroup
	wg.Add(tasks)

	for i := 0; i < tasks; i++ {
		i := i
		go loop.QueueInLoop(func() {
			mu.Lock()
			counts[i]++
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, tasks, len(counts))
	for i, n := range counts {
		assert.Equal(t, 1, n, "task %d", i)
	}
}

func TestQueueInLoopFromSameSourceKeepsOrder(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	var got []int
	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		i := i
		loop.QueueInLoop(func() {
			got = append(got, i)
			wg.Done()
		})
	}
	wg.Wait()

	require.Equal(t, 50, len(got))
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestTaskQueuedDuringDrainRunsNextIteration(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	done := make(chan int64, 1)
	loop.QueueInLoop(func() {
		outer := loop.Iteration()
		loop.QueueInLoop(func() {
			done <- loop.Iteration() - outer
		})
	})

	select {
	case delta := <-done:
		// the nested task must not starve behind the 10s poll bound
		assert.GreaterOrEqual(t, delta, int64(1))
	case <-time.After(2 * time.Second):
		t.Fatal("nested task did not run promptly")
	}
}

func TestIterationAdvances(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	before := loop.Iteration()
	done := make(chan struct{})
	loop.QueueInLoop(func() { close(done) })
	<-done
	assert.Greater(t, loop.Iteration(), before)
}

func TestStopTwice(t *testing.T) {
	thread := NewLoopThread()
	loop := thread.StartLoop()
	require.NoError(t, loop.Stop())
	assert.Equal(t, protocol.ErrClosed, loop.Stop())
}

func TestGetLoopOfCurrentGoroutine(t *testing.T) {
	loop, stop := startTestLoop(t)
	defer stop()

	// the test goroutine did not build a loop
	assert.Nil(t, GetLoopOfCurrentGoroutine())

	found := make(chan *EventLoop, 1)
	loop.QueueInLoop(func() {
		found <- GetLoopOfCurrentGoroutine()
	})
	assert.Equal(t, loop, <-found)
}

func TestLoopThreadPoolRoundRobin(t *testing.T) {
	base, stop := startTestLoop(t)
	defer stop()

	picked := make(chan []*EventLoop, 1)
	base.RunInLoop(func() {
		pool := NewLoopThreadPool(base, 2)
		pool.Start()
		defer pool.Stop()

		var loops []*EventLoop
		for i := 0; i < 4; i++ {
			loops = append(loops, pool.GetNextLoop())
		}
		picked <- loops
	})

	loops := <-picked
	require.Equal(t, 4, len(loops))
	assert.Equal(t, loops[0], loops[2])
	assert.Equal(t, loops[1], loops[3])
	assert.NotEqual(t, loops[0], loops[1])
	for _, l := range loops {
		assert.NotEqual(t, base, l)
	}
}

func TestLoopRunsOnPollBackend(t *testing.T) {
	require.NoError(t, os.Setenv(multiplex.UsePollEnv, "1"))
	defer os.Unsetenv(multiplex.UsePollEnv)
	require.True(t, multiplex.PollPreferred())

	loop, stop := startTestLoop(t)
	defer stop()

	// tasks and timers behave the same on the level-scan backend
	ran := make(chan struct{})
	loop.QueueInLoop(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on the poll backend")
	}

	fired := make(chan struct{})
	loop.RunAfter(20*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire on the poll backend")
	}
}

func TestLoopThreadPoolZeroLoops(t *testing.T) {
	base, stop := startTestLoop(t)
	defer stop()

	picked := make(chan *EventLoop, 1)
	base.RunInLoop(func() {
		pool := NewLoopThreadPool(base, 0)
		pool.Start()
		picked <- pool.GetNextLoop()
	})
	assert.Equal(t, base, <-picked)
}
