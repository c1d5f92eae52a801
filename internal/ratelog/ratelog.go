// Package ratelog coalesces bursts of a repeated data-plane event (a
// dropped access unit, a failed RTP send) into one summary callback per
// period, so a misbehaving client can't flood the log at packet rate.
package ratelog

import (
	"sync/atomic"
	"time"
)

// Counter counts events and reports the per-period total through a
// callback, skipping periods in which nothing happened.
type Counter struct {
	report func(n uint64)
	period time.Duration

	n       atomic.Uint64
	stopReq chan struct{}
	stopped chan struct{}
}

// NewCounter starts a Counter that invokes report once per period with
// the number of events observed in it, if at least one occurred.
func NewCounter(period time.Duration, report func(n uint64)) *Counter {
	c := &Counter{
		report:  report,
		period:  period,
		stopReq: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

// Close stops the reporting goroutine. Events counted since the last
// report are flushed first, so drops right before a teardown still
// surface in the log.
func (c *Counter) Close() {
	close(c.stopReq)
	<-c.stopped
}

// Hit records one event.
func (c *Counter) Hit() {
	c.n.Add(1)
}

func (c *Counter) run() {
	defer close(c.stopped)

	t := time.NewTicker(c.period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if n := c.n.Swap(0); n > 0 {
				c.report(n)
			}

		case <-c.stopReq:
			if n := c.n.Swap(0); n > 0 {
				c.report(n)
			}
			return
		}
	}
}
