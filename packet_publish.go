package mqttcore

import (
	"errors"
)

// PUBLISH packet errors.
var (
	ErrTopicNameEmpty   = errors.New("topic name cannot be empty")
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

// PublishPacket represents an MQTT v3.1.1 PUBLISH packet.
type PublishPacket struct {
	// Topic is the topic name.
	Topic string

	// Payload is the application message.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the message should be retained.
	Retain bool

	// DUP indicates if this is a retransmission.
	DUP bool

	// PacketID is the packet identifier (only for QoS > 0).
	PacketID uint16
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType {
	return PacketPUBLISH
}

// GetPacketID returns the packet identifier.
func (p *PublishPacket) GetPacketID() uint16 {
	return p.PacketID
}

// SetPacketID sets the packet identifier.
func (p *PublishPacket) SetPacketID(id uint16) {
	p.PacketID = id
}

// flags returns the fixed header flags.
func (p *PublishPacket) flags() byte {
	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return flags
}

func (p *PublishPacket) bodyLen() int {
	n := stringSize(len(p.Topic)) + len(p.Payload)
	if p.QoS > 0 {
		n += 2
	}
	return n
}

func (p *PublishPacket) encodeBody(w *writer) error {
	if err := w.writeString(p.Topic); err != nil {
		return err
	}
	if p.QoS > 0 {
		w.writeUint16(p.PacketID)
	}
	w.writeBytes(p.Payload)
	return nil
}

// decode leaves Payload aliasing the decode buffer.
func (p *PublishPacket) decode(r *reader, header FixedHeader) error {
	p.DUP = header.DUP()
	p.QoS = header.QoS()
	p.Retain = header.Retain()

	var err error
	if p.Topic, err = r.readString(); err != nil {
		return err
	}

	if p.QoS > 0 {
		if p.PacketID, err = r.readUint16(); err != nil {
			return err
		}
	}

	p.Payload = r.rest()
	return nil
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate() error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}

	if p.QoS == 0 && p.DUP {
		return ErrInvalidPacketFlags
	}

	if p.QoS > 0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if p.Topic == "" {
		return ErrTopicNameEmpty
	}

	return checkTopicName(p.Topic)
}
