package mqttcore

import (
	"time"
)

const (
	// maxKeepAlive is the largest keep-alive the CONNECT packet can carry.
	maxKeepAlive = 65535 * time.Second

	// minIdleCheck keeps the idle timer from spinning on tiny intervals.
	minIdleCheck = 10 * time.Millisecond
)

// keepAliveSeconds converts d to the CONNECT keep-alive field, rounding up
// so a sub-second interval does not disable keep-alive.
func keepAliveSeconds(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > 65535 {
		return 65535
	}
	return uint16(secs)
}

// nextIdleCheck returns how long until the keep-alive or the idle timeout
// is due, measured from the last write and the last read respectively.
func nextIdleCheck(now, lastTx, lastRx time.Time, keepAlive, timeout time.Duration) (time.Duration, bool) {
	var next time.Duration
	armed := false

	if keepAlive > 0 {
		next = keepAlive - now.Sub(lastTx)
		armed = true
	}
	if timeout > 0 {
		untilTimeout := timeout - now.Sub(lastRx)
		if !armed || untilTimeout < next {
			next = untilTimeout
		}
		armed = true
	}

	return max(next, minIdleCheck), armed
}

// scheduleIdleLocked arms the idle timer for the current socket. Pings
// are only scheduled once the broker accepted the connection.
func (c *Client) scheduleIdleLocked(now time.Time) {
	keepAlive := c.options.keepAlive
	if !c.state.isConnected() {
		keepAlive = 0
	}

	d, ok := nextIdleCheck(now, c.lastTx, c.lastRx, keepAlive, c.options.timeout)
	if !ok {
		if c.idleTimer != nil {
			c.idleTimer.Stop()
			c.idleTimer = nil
		}
		return
	}

	if c.idleTimer != nil {
		c.idleTimer.Reset(d)
		return
	}

	gen := c.gen
	c.idleTimer = time.AfterFunc(d, func() {
		c.checkIdle(gen)
	})
}

// rescheduleIdleLocked applies changed keep-alive or timeout settings to
// an attached socket.
func (c *Client) rescheduleIdleLocked() {
	if c.sock == nil {
		return
	}
	c.scheduleIdleLocked(time.Now())
}

// checkIdle closes a connection that received nothing within the idle
// timeout and pings one that sent nothing within the keep-alive interval.
func (c *Client) checkIdle(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	o := c.options

	if o.timeout > 0 && now.Sub(c.lastRx) >= o.timeout {
		c.logger.Warn("idle timeout", LogFields{LogFieldDuration: now.Sub(c.lastRx)})
		c.closeLocked(ErrIdleTimeout, EventTimeout)
		c.unlock()
		return
	}

	if o.keepAlive > 0 && now.Sub(c.lastTx) >= o.keepAlive && c.state.isConnected() {
		c.pingLocked()
	}

	if c.gen == gen {
		c.scheduleIdleLocked(time.Now())
	}
	c.unlock()
}

// pingLocked queues a PINGREQ unless one is already outstanding.
func (c *Client) pingLocked() {
	for _, m := range c.queue.snapshot() {
		if m.ptype == PacketPINGREQ {
			return
		}
	}

	pkt := &PingreqPacket{}
	if err := c.enqueueLocked(newMessage(pkt, WaitNone), pkt); err != nil {
		c.logger.Debug("keep-alive ping not queued", LogFields{LogFieldError: err.Error()})
	}
}
