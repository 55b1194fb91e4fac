package mqttcore

// Packet is the interface that all MQTT v3.1.1 control packets implement.
// Encoding and decoding go through EncodePacket and DecodePacket.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Validate validates the packet contents.
	Validate() error

	flags() byte
	bodyLen() int
	encodeBody(w *writer) error
	decode(r *reader, header FixedHeader) error
}

// PacketWithID is implemented by packets that have a packet identifier.
type PacketWithID interface {
	Packet

	// GetPacketID returns the packet identifier.
	GetPacketID() uint16

	// SetPacketID sets the packet identifier.
	SetPacketID(id uint16)
}

// Message is an application message delivered to a MessageHandler.
//
// A message passed to a synchronous handler aliases the connection's
// receive buffer and is only valid until the handler returns. Use Clone to
// keep it longer.
type Message struct {
	// Topic is the topic the message was published to.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the delivery QoS level (0, 1, or 2).
	QoS byte

	// Retain indicates the broker delivered a retained message.
	Retain bool

	// Dup indicates the broker flagged the delivery as a retransmission.
	Dup bool

	// PacketID is the broker-assigned packet identifier, 0 for QoS 0.
	PacketID uint16
}

// Clone returns a copy of the message that owns its payload.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Payload != nil {
		cp.Payload = make([]byte, len(m.Payload))
		copy(cp.Payload, m.Payload)
	}
	return &cp
}

// messageFromPublish builds the delivered view of a PUBLISH packet.
func messageFromPublish(p *PublishPacket) *Message {
	return &Message{
		Topic:    p.Topic,
		Payload:  p.Payload,
		QoS:      p.QoS,
		Retain:   p.Retain,
		Dup:      p.DUP,
		PacketID: p.PacketID,
	}
}
