//nolint:dupl // MQTT requires separate packet types with the same structure
package mqttcore

// PubackPacket represents an MQTT PUBACK packet. It acknowledges a QoS 1 PUBLISH.
type PubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

// GetPacketID returns the packet identifier.
func (p *PubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *PubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PubackPacket) flags() byte { return 0 }

func (p *PubackPacket) bodyLen() int { return ackBodyLen }

func (p *PubackPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	return nil
}

func (p *PubackPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	p.PacketID = id
	return err
}

// Validate validates the packet contents.
func (p *PubackPacket) Validate() error {
	return validateAckID(p.PacketID)
}
