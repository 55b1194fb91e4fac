//nolint:dupl // MQTT requires separate packet types with the same structure
package mqttcore

// PubrelPacket represents an MQTT PUBREL packet. It is the response to PUBREC.
type PubrelPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

// GetPacketID returns the packet identifier.
func (p *PubrelPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *PubrelPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PubrelPacket) flags() byte { return 0x02 }

func (p *PubrelPacket) bodyLen() int { return ackBodyLen }

func (p *PubrelPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	return nil
}

func (p *PubrelPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	p.PacketID = id
	return err
}

// Validate validates the packet contents.
func (p *PubrelPacket) Validate() error {
	return validateAckID(p.PacketID)
}
