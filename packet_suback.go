package mqttcore

// SubackPacket represents an MQTT v3.1.1 SUBACK packet.
// ReturnCodes holds one entry per requested filter, in request order.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubackPacket) flags() byte { return 0 }

func (p *SubackPacket) bodyLen() int { return 2 + len(p.ReturnCodes) }

func (p *SubackPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	w.writeBytes(p.ReturnCodes)
	return nil
}

func (p *SubackPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	if err != nil {
		return err
	}
	p.PacketID = id

	codes := r.rest()
	p.ReturnCodes = make([]byte, len(codes))
	copy(p.ReturnCodes, codes)
	return nil
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}

	if len(p.ReturnCodes) == 0 {
		return ErrProtocolViolation
	}

	for _, code := range p.ReturnCodes {
		if !validSubackCode(code) {
			return ErrInvalidReturnCode
		}
	}

	return nil
}
