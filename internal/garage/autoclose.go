package garage

import (
	"fmt"
	"log"
	"time"
)

// scheduleAutoClose arms the auto-close timer, replacing any pending one.
// Caller holds mu.
func (c *Controller) scheduleAutoClose() {
	c.stopAutoClose()
	c.autoCloseSeq++
	seq := c.autoCloseSeq
	c.autoClose = time.AfterFunc(c.pins.AutoCloseDelay, func() { c.fireAutoClose(seq) })
	log.Printf("garage: auto-close in %v", c.pins.AutoCloseDelay)
}

// stopAutoClose disarms the timer and reports whether one was pending.
// Caller holds mu.
func (c *Controller) stopAutoClose() bool {
	if c.autoClose == nil {
		return false
	}
	c.autoClose.Stop()
	c.autoClose = nil
	return true
}

// CancelAutoClose cancels a pending auto-close. Cancelling when nothing is
// pending does nothing.
func (c *Controller) CancelAutoClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopAutoClose() {
		c.record("Auto-close cancelled")
	}
}

// AutoClosePending reports whether an auto-close timer is armed.
func (c *Controller) AutoClosePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoClose != nil
}

// fireAutoClose runs on the timer goroutine. A timer that was cancelled or
// replaced after it started firing sees a stale seq and does nothing.
func (c *Controller) fireAutoClose(seq uint64) {
	c.mu.Lock()
	if c.autoClose == nil || c.autoCloseSeq != seq {
		c.mu.Unlock()
		return
	}
	c.autoClose = nil

	if st := c.State(); st != StateOpen {
		c.record(fmt.Sprintf("Auto-close skipped: door is %s", st))
		c.mu.Unlock()
		return
	}
	c.record("Auto-close firing")
	c.mu.Unlock()

	c.Trigger(SourceAutoClose)
}
