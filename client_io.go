package mqttcore

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// readChunkSize is the size of a single socket read.
const readChunkSize = 4096

// delivery is one handler invocation produced by an inbound PUBLISH.
type delivery struct {
	handler MessageHandler
	msg     *Message
	at      time.Time
}

// readLoop reads from sock until it fails or is replaced. It owns the
// receive buffer, so messages handed to synchronous handlers can alias it.
func (c *Client) readLoop(sock Socket, gen uint64, done chan struct{}) {
	defer close(done)

	var rx rxBuffer
	chunk := make([]byte, readChunkSize)

	for {
		n, err := sock.Read(chunk)
		if n > 0 {
			c.metrics.bytesReceived(n)
			rx.append(chunk[:n])
			if !c.process(gen, &rx) {
				return
			}
		}

		if err != nil {
			c.mu.Lock()
			if c.gen == gen {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				c.closeLocked(err, EventDisconnect)
			}
			c.unlock()
			return
		}
	}
}

// process decodes every complete packet in rx, then runs the resulting
// deliveries without the lock. It reports whether the reader should go on.
func (c *Client) process(gen uint64, rx *rxBuffer) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}

	now := time.Now()
	c.lastRx = now

	var deliveries []delivery
	for c.gen == gen {
		pkt, n, err := DecodePacket(rx.unread(), c.options.maxMessageSize)
		if err != nil {
			c.closeLocked(protocolError(err), EventDisconnect)
			break
		}
		if n == 0 {
			break
		}
		rx.consume(n)
		c.metrics.packetReceived(pkt.Type())

		ds, err := c.handlePacketLocked(pkt, now)
		if err != nil {
			c.closeLocked(err, EventDisconnect)
			break
		}
		deliveries = append(deliveries, ds...)
	}

	alive := c.gen == gen
	if alive {
		c.flushLocked()
	}
	c.unlock()

	c.dispatch(deliveries)
	rx.compact()

	return alive
}

// dispatch runs message handlers in wire order. Spawned handlers get their
// own goroutine and an owned copy of the message.
func (c *Client) dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		if s, ok := d.handler.(*spawnedHandler); ok {
			if !c.trackHandler() {
				continue
			}
			msg := d.msg.Clone()
			go func() {
				defer c.handlers.Done()
				s.handler.OnMessage(msg)
			}()
			continue
		}

		d.handler.OnMessage(d.msg)
		c.metrics.delivered(d.msg.QoS, time.Since(d.at))
	}
}

// trackHandler registers a spawned handler unless the client is closed.
func (c *Client) trackHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.isClosed() {
		return false
	}
	c.handlers.Add(1)
	return true
}

// handlePacketLocked applies one inbound packet to the connection state.
// A returned error is fatal to the connection.
func (c *Client) handlePacketLocked(pkt Packet, now time.Time) ([]delivery, error) {
	switch p := pkt.(type) {
	case *ConnackPacket:
		return nil, c.handleConnackLocked(p, now)
	case *PublishPacket:
		return c.handlePublishLocked(p, now)
	case *PubrelPacket:
		return c.handlePubrelLocked(p, now)
	case *PubackPacket:
		return nil, c.handleAckLocked(p.PacketID, PacketPUBACK, pkt, now)
	case *PubcompPacket:
		return nil, c.handleAckLocked(p.PacketID, PacketPUBCOMP, pkt, now)
	case *PubrecPacket:
		return nil, c.handlePubrecLocked(p, now)
	case *SubackPacket:
		return nil, c.handleAckLocked(p.PacketID, PacketSUBACK, pkt, now)
	case *UnsubackPacket:
		return nil, c.handleAckLocked(p.PacketID, PacketUNSUBACK, pkt, now)
	case *PingrespPacket:
		if m := c.queue.awaiting(PacketPINGRESP); m != nil {
			c.completeLocked(m, nil, now)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %s from broker", ErrProtocolError, pkt.Type())
	}
}

// handleConnackLocked completes the handshake. A refusal is fatal.
func (c *Client) handleConnackLocked(p *ConnackPacket, now time.Time) error {
	m := c.queue.awaiting(PacketCONNACK)
	if m == nil {
		return fmt.Errorf("%w: CONNACK", ErrUnexpectedAck)
	}

	if !p.ReturnCode.Accepted() {
		err := &ConnectError{Code: p.ReturnCode}
		c.completeLocked(m, err, now)
		return err
	}

	c.completeLocked(m, nil, now)
	c.state.transition(StateConnected)
	c.pending = append(c.pending, EventConnected)
	c.metrics.connected()
	c.scheduleIdleLocked(now)
	c.logger.Info("connected", LogFields{"session_present": p.SessionPresent})

	if !p.SessionPresent {
		// no session means no PUBREL will follow for held messages
		clear(c.inbound)
		c.resubscribeLocked()
	}
	return nil
}

// handlePublishLocked acknowledges an inbound PUBLISH. QoS 2 messages are
// held until PUBREL.
func (c *Client) handlePublishLocked(p *PublishPacket, now time.Time) ([]delivery, error) {
	if !c.state.isConnected() {
		return nil, fmt.Errorf("%w: PUBLISH before CONNACK", ErrProtocolError)
	}

	switch p.QoS {
	case 1:
		if err := c.writePacketLocked(&PubackPacket{PacketID: p.PacketID}); err != nil {
			return nil, err
		}
	case 2:
		if _, held := c.inbound[p.PacketID]; !held {
			c.inbound[p.PacketID] = messageFromPublish(p).Clone()
		}
		return nil, c.writePacketLocked(&PubrecPacket{PacketID: p.PacketID})
	}

	return c.deliveriesLocked(messageFromPublish(p), now), nil
}

// handlePubrelLocked releases a held QoS 2 message. A repeated PUBREL is
// answered again without a second delivery.
func (c *Client) handlePubrelLocked(p *PubrelPacket, now time.Time) ([]delivery, error) {
	var deliveries []delivery
	if msg, held := c.inbound[p.PacketID]; held {
		delete(c.inbound, p.PacketID)
		deliveries = c.deliveriesLocked(msg, now)
	}

	if err := c.writePacketLocked(&PubcompPacket{PacketID: p.PacketID}); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// deliveriesLocked pairs msg with every matching handler.
func (c *Client) deliveriesLocked(msg *Message, now time.Time) []delivery {
	handlers := c.subs.match(msg.Topic)
	if len(handlers) == 0 {
		c.logger.Debug("no subscriber for message", LogFields{LogFieldTopic: msg.Topic})
		return nil
	}

	deliveries := make([]delivery, len(handlers))
	for i, h := range handlers {
		deliveries[i] = delivery{handler: h, msg: msg, at: now}
	}
	return deliveries
}

// flushLocked writes unsent messages in queue order. A QoS 1 or 2 publish
// that cannot start yet holds back later publishes but not control
// packets. While connecting only CONNECT is sent.
func (c *Client) flushLocked() {
	connecting := c.state.get() == StateConnecting
	publishBlocked := false

	for _, m := range c.queue.snapshot() {
		if c.sock == nil {
			return
		}
		if m.state != stateUnsent {
			continue
		}
		if connecting && m.ptype != PacketCONNECT {
			continue
		}

		if m.ptype == PacketPUBLISH {
			if publishBlocked {
				continue
			}
			if m.qos > 0 {
				if !c.flow.acquire(m.qos) {
					publishBlocked = true
					continue
				}
				m.inflight = true
			}
		}

		if err := c.sendLocked(m); err != nil {
			c.closeLocked(err, EventDisconnect)
			return
		}

		if m.ptype == PacketDISCONNECT {
			c.closeLocked(nil, EventDisconnect)
			return
		}
	}
}

// sendLocked writes m and advances it. Messages without an
// acknowledgement complete once written.
func (c *Client) sendLocked(m *message) error {
	if err := c.writeLocked(m.buf.bytes()); err != nil {
		return err
	}

	now := c.lastTx
	m.sentAt = now
	c.metrics.packetSent(m.ptype)

	if m.awaiting == 0 {
		c.completeLocked(m, nil, now)
		return nil
	}

	m.state = stateAwaitingAck
	m.future.markSent()
	if m.retransmittable() {
		c.armRetryLocked()
	}
	return nil
}

// writeLocked writes b to the socket, bounded by the write timeout when
// the socket supports deadlines.
func (c *Client) writeLocked(b []byte) error {
	if d := c.options.writeTimeout; d > 0 {
		if wd, ok := c.sock.(writeDeadliner); ok {
			wd.SetWriteDeadline(time.Now().Add(d))
		}
	}

	if _, err := c.sock.Write(b); err != nil {
		return err
	}

	c.lastTx = time.Now()
	c.metrics.bytesSent(len(b))
	return nil
}

// writePacketLocked encodes and writes an acknowledgement directly,
// bypassing the queue.
func (c *Client) writePacketLocked(p Packet) error {
	var scratch [8]byte
	b, err := EncodePacket(scratch[:0], p, 0)
	if err != nil {
		return err
	}
	if err := c.writeLocked(b); err != nil {
		return err
	}
	c.metrics.packetSent(p.Type())
	return nil
}
