package mqttcore

import (
	"context"
	"time"
)

// msgState is the lifecycle of an in-flight message. It only moves forward.
type msgState uint8

const (
	stateUnsent msgState = iota
	stateAwaitingAck
	stateComplete
)

func (s msgState) String() string {
	switch s {
	case stateUnsent:
		return "unsent"
	case stateAwaitingAck:
		return "awaiting_ack"
	case stateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// future is completed by the connection when a message is written and
// when its exchange finishes. Fields other than the channels are guarded
// by the client lock.
type future struct {
	sent   chan struct{}
	done   chan struct{}
	err    error
	isSent bool
	isDone bool
}

func newFuture() *future {
	return &future{
		sent: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (f *future) markSent() {
	if !f.isSent {
		f.isSent = true
		close(f.sent)
	}
}

// complete finishes the future. done is closed before sent so a waiter
// woken by sent can observe a failure.
func (f *future) complete(err error) {
	if f.isDone {
		return
	}
	f.err = err
	f.isDone = true
	close(f.done)
	f.markSent()
}

// wait blocks until the level requested by flags is reached.
func (f *future) wait(ctx context.Context, flags WaitFlags) error {
	var ch <-chan struct{}
	switch flags {
	case WaitNone:
		return nil
	case WaitSent:
		ch = f.sent
	default:
		ch = f.done
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// message is one queued outbound packet and its handshake state.
type message struct {
	id       uint16
	ptype    PacketType
	qos      byte
	state    msgState
	awaiting PacketType
	buf      msgBuffer
	wait     WaitFlags
	sentAt   time.Time
	inflight bool
	topic    string
	future   *future

	// onAck checks the acknowledgement that completes the message and
	// returns the result handed to the waiter.
	onAck func(ack Packet) error
}

// newMessage prepares a message for p. The expected acknowledgement is
// derived from the packet type.
func newMessage(p Packet, wait WaitFlags) *message {
	m := &message{
		ptype:  p.Type(),
		wait:   wait,
		future: newFuture(),
	}

	switch pkt := p.(type) {
	case *PublishPacket:
		m.qos = pkt.QoS
		m.topic = pkt.Topic
		switch pkt.QoS {
		case 1:
			m.awaiting = PacketPUBACK
		case 2:
			m.awaiting = PacketPUBREC
		}
	case *ConnectPacket:
		m.awaiting = PacketCONNACK
	case *SubscribePacket:
		m.awaiting = PacketSUBACK
	case *UnsubscribePacket:
		m.awaiting = PacketUNSUBACK
	case *PingreqPacket:
		m.awaiting = PacketPINGRESP
	}

	return m
}

// needsID reports whether the packet carries an identifier.
func (m *message) needsID() bool {
	switch m.ptype {
	case PacketPUBLISH:
		return m.qos > 0
	case PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		return true
	default:
		return false
	}
}

// retransmittable reports whether the retry timer resends the message.
func (m *message) retransmittable() bool {
	return m.state == stateAwaitingAck && m.ptype == PacketPUBLISH && m.qos > 0
}
