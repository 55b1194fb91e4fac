//nolint:dupl // MQTT requires separate packet types with the same structure
package mqttcore

// PubrecPacket represents an MQTT PUBREC packet. It is the first response to a QoS 2 PUBLISH.
type PubrecPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

// GetPacketID returns the packet identifier.
func (p *PubrecPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *PubrecPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PubrecPacket) flags() byte { return 0 }

func (p *PubrecPacket) bodyLen() int { return ackBodyLen }

func (p *PubrecPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	return nil
}

func (p *PubrecPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	p.PacketID = id
	return err
}

// Validate validates the packet contents.
func (p *PubrecPacket) Validate() error {
	return validateAckID(p.PacketID)
}
