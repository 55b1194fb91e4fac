package mqttcore

import (
	"errors"
	"fmt"
	"time"
)

// handleAckLocked matches an acknowledgement carrying a packet identifier
// to the message waiting for it. Late duplicates of recently completed
// exchanges are ignored; anything else unmatched is fatal.
func (c *Client) handleAckLocked(id uint16, ack PacketType, pkt Packet, now time.Time) error {
	m := c.queue.lookup(id)
	if m == nil || m.state != stateAwaitingAck || m.awaiting != ack {
		if m != nil && m.state == stateUnsent {
			c.logger.Debug("ignoring stale acknowledgement", LogFields{LogFieldPacketID: id, LogFieldPacketType: ack.String()})
			return nil
		}
		if c.queue.wasRecent(id, now) {
			c.logger.Debug("ignoring duplicate acknowledgement", LogFields{LogFieldPacketID: id, LogFieldPacketType: ack.String()})
			return nil
		}
		return fmt.Errorf("%w: %s for packet %d", ErrUnexpectedAck, ack, id)
	}

	var result error
	if m.onAck != nil {
		result = m.onAck(pkt)
		if errors.Is(result, ErrProtocolError) {
			return result
		}
	}

	c.completeLocked(m, result, now)
	return nil
}

// handlePubrecLocked moves an outbound QoS 2 publish to its release phase:
// the message buffer is rewritten to PUBREL and sent right away. A PUBREC
// repeated while PUBCOMP is awaited does not send a second PUBREL.
func (c *Client) handlePubrecLocked(p *PubrecPacket, now time.Time) error {
	m := c.queue.lookup(p.PacketID)

	switch {
	case m != nil && m.state == stateAwaitingAck && m.awaiting == PacketPUBREC:
		if err := m.buf.encode(&PubrelPacket{PacketID: p.PacketID}, 0); err != nil {
			return err
		}
		m.awaiting = PacketPUBCOMP
		if err := c.writeLocked(m.buf.bytes()); err != nil {
			return err
		}
		m.sentAt = c.lastTx
		c.metrics.packetSent(PacketPUBREL)
		return nil

	case m != nil && m.state == stateAwaitingAck && m.awaiting == PacketPUBCOMP:
		c.logger.Debug("ignoring duplicate PUBREC", LogFields{LogFieldPacketID: p.PacketID})
		return nil

	case m == nil && c.queue.wasRecent(p.PacketID, now):
		c.logger.Debug("ignoring PUBREC for completed publish", LogFields{LogFieldPacketID: p.PacketID})
		return nil

	default:
		return fmt.Errorf("%w: PUBREC for packet %d", ErrUnexpectedAck, p.PacketID)
	}
}

// armRetryLocked starts the retransmit timer if it is not running.
func (c *Client) armRetryLocked() {
	if c.retryTimer != nil || c.options.retryTimeout <= 0 {
		return
	}
	c.startRetryLocked(c.options.retryTimeout)
}

func (c *Client) startRetryLocked(d time.Duration) {
	gen := c.gen
	c.retryTimer = time.AfterFunc(d, func() {
		c.retransmit(gen)
	})
}

// retransmit resends every unacknowledged publish whose retry timeout has
// passed. A PUBLISH goes out again with DUP set, a PUBREL unchanged. Each
// message keeps its place in the queue.
func (c *Client) retransmit(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil

	timeout := c.options.retryTimeout
	if timeout <= 0 {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	var next time.Time

	for _, m := range c.queue.snapshot() {
		if !m.retransmittable() {
			continue
		}

		due := m.sentAt.Add(timeout)
		if !now.Before(due) {
			m.buf.setDUP()
			if err := c.writeLocked(m.buf.bytes()); err != nil {
				c.closeLocked(err, EventDisconnect)
				c.unlock()
				return
			}
			m.sentAt = c.lastTx
			due = m.sentAt.Add(timeout)

			c.metrics.retransmit()
			c.logger.Debug("retransmitted", LogFields{
				LogFieldPacketID: m.id,
				LogFieldTopic:    m.topic,
				"phase":          m.awaiting.String(),
			})
		}

		if next.IsZero() || due.Before(next) {
			next = due
		}
	}

	if !next.IsZero() {
		c.startRetryLocked(max(next.Sub(now), time.Millisecond))
	}
	c.unlock()
}
