package mqttcore

// UnsubscribePacket represents an MQTT v3.1.1 UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

// Type returns the packet type.
func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *UnsubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubscribePacket) flags() byte { return 0x02 }

func (p *UnsubscribePacket) bodyLen() int {
	n := 2
	for _, filter := range p.TopicFilters {
		n += stringSize(len(filter))
	}
	return n
}

func (p *UnsubscribePacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	for _, filter := range p.TopicFilters {
		if err := w.writeString(filter); err != nil {
			return err
		}
	}
	return nil
}

func (p *UnsubscribePacket) decode(r *reader, _ FixedHeader) error {
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
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	return nil
}

// Validate validates the packet contents.
func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}

	if len(p.TopicFilters) == 0 {
		return ErrProtocolViolation
	}

	for _, filter := range p.TopicFilters {
		if err := checkTopicFilter(filter); err != nil {
			return err
		}
	}

	return nil
}

// UnsubackPacket represents an MQTT v3.1.1 UNSUBACK packet.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

// GetPacketID returns the packet identifier.
func (p *UnsubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubackPacket) flags() byte { return 0 }

func (p *UnsubackPacket) bodyLen() int { return ackBodyLen }

func (p *UnsubackPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	return nil
}

func (p *UnsubackPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	p.PacketID = id
	return err
}

// Validate validates the packet contents.
func (p *UnsubackPacket) Validate() error {
	return validateAckID(p.PacketID)
}
