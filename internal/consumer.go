// TaskConsumer: one long-lived goroutine per priority class, draining its
// DelayQueue and handing each due wrapper to the pool's dispatch callback.

package threadly_internal

import (
	"context"
	"sync"
	"sync/atomic"
)

type taskConsumer struct {
	queue  *DelayQueue[*taskWrapper]
	accept func(*taskWrapper)

	startOnce sync.Once
	stopped   atomic.Bool
	doneCh    chan struct{}
}

func newTaskConsumer(queue *DelayQueue[*taskWrapper], accept func(*taskWrapper)) *taskConsumer {
	return &taskConsumer{
		queue:  queue,
		accept: accept,
		doneCh: make(chan struct{}),
	}
}

// ensureStarted launches the consumer goroutine on the first call only;
// consumers are lazy-started on the priority class's first enqueue and,
// once stopped, never restart.
func (c *taskConsumer) ensureStarted(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.loop(ctx)
	})
}

func (c *taskConsumer) loop(ctx context.Context) {
	defer close(c.doneCh)
	for {
		w, err := c.queue.Take(ctx)
		if err != nil {
			c.stopped.Store(true)
			return
		}
		w.onDequeue(c.queue)
		c.accept(w)
	}
}

func (c *taskConsumer) isStopped() bool {
	return c.stopped.Load()
}
