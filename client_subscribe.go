package mqttcore

import (
	"context"
	"fmt"
	"time"
)

// Subscribe registers h for messages matching filter and subscribes with
// the broker. If a master prefix already covers filter, the handler is
// registered locally and no SUBSCRIBE is sent. Subscribing to a filter
// that is already registered replaces its handler.
func (c *Client) Subscribe(ctx context.Context, filter string, maxQoS byte, h MessageHandler, wait WaitFlags) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if maxQoS > 2 {
		return ErrInvalidQoS
	}
	if h == nil {
		return ErrMissingArgument
	}

	sub := &subscription{
		filter:  filter,
		levels:  SplitTopic(filter),
		qos:     maxQoS,
		handler: h,
		wait:    wait,
	}

	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.subs.coveringMaster(sub.levels) != nil {
		c.subs.add(sub)
		c.mu.Unlock()
		c.logger.Debug("subscription covered by master", LogFields{LogFieldTopic: filter})
		return nil
	}
	c.mu.Unlock()

	if err := c.ensureAttached(); err != nil {
		return err
	}

	pkt := &SubscribePacket{Subscriptions: []Subscription{{TopicFilter: filter, QoS: maxQoS}}}
	m := newMessage(pkt, wait)
	m.topic = filter
	m.onAck = c.subackHandler(filter, false)

	c.mu.Lock()
	err := c.enqueueLocked(m, pkt)
	if err == nil {
		sub.protocol = true
		c.subs.add(sub)
	}
	c.unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("subscribe queued", LogFields{LogFieldTopic: filter, LogFieldQoS: maxQoS})
	return m.future.wait(ctx, wait)
}

// SubscribeMaster subscribes to prefix with the broker without a handler.
// Later subscriptions covered by prefix are dispatched locally.
func (c *Client) SubscribeMaster(ctx context.Context, prefix string, maxQoS byte, wait WaitFlags) error {
	if err := ValidateTopicFilter(prefix); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if maxQoS > 2 {
		return ErrInvalidQoS
	}

	if err := c.ensureAttached(); err != nil {
		return err
	}

	pkt := &SubscribePacket{Subscriptions: []Subscription{{TopicFilter: prefix, QoS: maxQoS}}}
	m := newMessage(pkt, wait)
	m.topic = prefix
	m.onAck = c.subackHandler(prefix, true)

	c.mu.Lock()
	err := c.enqueueLocked(m, pkt)
	if err == nil {
		c.subs.addMaster(&master{filter: prefix, levels: SplitTopic(prefix), qos: maxQoS})
	}
	c.unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("master subscribe queued", LogFields{LogFieldTopic: prefix, LogFieldQoS: maxQoS})
	return m.future.wait(ctx, wait)
}

// Unsubscribe removes the handler for filter. UNSUBSCRIBE is only sent
// when the filter holds its own broker subscription and no master covers
// it; otherwise the filter is removed locally.
func (c *Client) Unsubscribe(ctx context.Context, filter string, wait WaitFlags) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if sub := c.subs.find(filter); sub == nil || !sub.protocol || c.subs.coveringMaster(sub.levels) != nil {
		c.subs.remove(filter)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.unsubscribe(ctx, filter, wait, func() {
		c.subs.remove(filter)
	})
}

// UnsubscribeMaster removes the master prefix and unsubscribes it with the
// broker. Local filters it covered stay registered.
func (c *Client) UnsubscribeMaster(ctx context.Context, prefix string, wait WaitFlags) error {
	if err := ValidateTopicFilter(prefix); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	c.mu.Lock()
	if c.state.isClosed() {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.subs.findMaster(prefix) == nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.unsubscribe(ctx, prefix, wait, func() {
		c.subs.removeMaster(prefix)
	})
}

// unsubscribe queues UNSUBSCRIBE for filter and runs drop under the lock
// once it is queued.
func (c *Client) unsubscribe(ctx context.Context, filter string, wait WaitFlags, drop func()) error {
	if err := c.ensureAttached(); err != nil {
		return err
	}

	pkt := &UnsubscribePacket{TopicFilters: []string{filter}}
	m := newMessage(pkt, wait)
	m.topic = filter

	c.mu.Lock()
	err := c.enqueueLocked(m, pkt)
	if err == nil {
		drop()
	}
	c.unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("unsubscribe queued", LogFields{LogFieldTopic: filter})
	return m.future.wait(ctx, wait)
}

// Ping sends PINGREQ and waits for PINGRESP.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureAttached(); err != nil {
		return err
	}

	pkt := &PingreqPacket{}
	m := newMessage(pkt, WaitAck)

	c.mu.Lock()
	err := c.enqueueLocked(m, pkt)
	c.unlock()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := m.future.wait(ctx, WaitAck); err != nil {
		return err
	}

	c.logger.Debug("ping", LogFields{LogFieldDuration: time.Since(start)})
	return nil
}

// subackHandler checks the SUBACK of a single-filter SUBSCRIBE. A rejected
// subscription is dropped locally and reported as a *SubscribeError.
func (c *Client) subackHandler(filter string, isMaster bool) func(Packet) error {
	return func(ack Packet) error {
		suback, ok := ack.(*SubackPacket)
		if !ok || len(suback.ReturnCodes) != 1 {
			return fmt.Errorf("%w: SUBACK return codes do not match SUBSCRIBE", ErrProtocolError)
		}

		code := suback.ReturnCodes[0]
		if code != SubackFailure {
			return nil
		}

		if isMaster {
			c.subs.removeMaster(filter)
		} else if sub := c.subs.find(filter); sub != nil && sub.protocol {
			c.subs.remove(filter)
		}

		c.logger.Warn("subscription rejected", LogFields{LogFieldTopic: filter, LogFieldReasonCode: code})
		return &SubscribeError{Filter: filter, Code: code}
	}
}

// resubscribeLocked restores the broker subscriptions after the broker
// started a fresh session. The SUBSCRIBE packets go ahead of anything
// queued while connecting.
func (c *Client) resubscribeLocked() {
	subs := c.subs.protocolSubscriptions()
	if len(subs) == 0 {
		return
	}

	queued := make(map[string]bool)
	for _, m := range c.queue.snapshot() {
		if m.ptype == PacketSUBSCRIBE && m.state == stateUnsent {
			queued[m.topic] = true
		}
	}

	for i := len(subs) - 1; i >= 0; i-- {
		s := subs[i]
		if queued[s.TopicFilter] {
			continue
		}
		pkt := &SubscribePacket{Subscriptions: []Subscription{s}}
		m := newMessage(pkt, WaitNone)
		m.topic = s.TopicFilter
		m.onAck = c.resubackHandler(s.TopicFilter)

		id, err := c.queue.allocateID()
		if err != nil {
			c.closeLocked(err, EventDisconnect)
			return
		}
		m.id = id
		pkt.PacketID = id

		if err := m.buf.encode(pkt, c.options.maxMessageSize); err != nil {
			c.logger.Warn("resubscribe failed", LogFields{LogFieldTopic: s.TopicFilter, LogFieldError: err.Error()})
			continue
		}
		c.queue.pushFront(m)
	}

	c.logger.Info("restoring subscriptions", LogFields{"count": len(subs)})
	c.flushLocked()
}

// resubackHandler checks the SUBACK of a restored subscription. Nobody
// waits on it, so a rejection is only logged.
func (c *Client) resubackHandler(filter string) func(Packet) error {
	return func(ack Packet) error {
		suback, ok := ack.(*SubackPacket)
		if !ok || len(suback.ReturnCodes) != 1 {
			return fmt.Errorf("%w: SUBACK return codes do not match SUBSCRIBE", ErrProtocolError)
		}
		if suback.ReturnCodes[0] == SubackFailure {
			c.logger.Warn("restored subscription rejected", LogFields{LogFieldTopic: filter})
		}
		return nil
	}
}
