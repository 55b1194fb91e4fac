package mqttcore

import (
	"errors"
)

// ErrProtocolViolation is returned when a packet breaks an MQTT rule that
// is not covered by a more specific error.
var ErrProtocolViolation = errors.New("protocol violation")

// Subscription is a topic filter with its requested maximum QoS.
type Subscription struct {
	TopicFilter string
	QoS         byte
}

// SubscribePacket represents an MQTT v3.1.1 SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubscribePacket) flags() byte { return 0x02 }

func (p *SubscribePacket) bodyLen() int {
	n := 2
	for _, sub := range p.Subscriptions {
		n += stringSize(len(sub.TopicFilter)) + 1
	}
	return n
}

func (p *SubscribePacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	for _, sub := range p.Subscriptions {
		if err := w.writeString(sub.TopicFilter); err != nil {
			return err
		}
		w.writeByte(sub.QoS & 0x03)
	}
	return nil
}

func (p *SubscribePacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	if err != nil {
		return err
	}
	p.PacketID = id

	for r.remaining() > 0 {
		filter, err := r.readString()
		if err != nil {
			return err
		}

		options, err := r.readByte()
		if err != nil {
			return err
		}
		// Upper six bits are reserved
		if options&0xFC != 0 {
			return ErrMalformedPacket
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{
			TopicFilter: filter,
			QoS:         options,
		})
	}

	return nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}

	if len(p.Subscriptions) == 0 {
		return ErrProtocolViolation
	}

	for _, sub := range p.Subscriptions {
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
		if err := checkTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}

	return nil
}
