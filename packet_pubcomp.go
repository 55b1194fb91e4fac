//nolint:dupl // MQTT requires separate packet types with the same structure
package mqttcore

// PubcompPacket represents an MQTT PUBCOMP packet. It completes the QoS 2 exchange.
type PubcompPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

// GetPacketID returns the packet identifier.
func (p *PubcompPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *PubcompPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PubcompPacket) flags() byte { return 0 }

func (p *PubcompPacket) bodyLen() int { return ackBodyLen }

func (p *PubcompPacket) encodeBody(w *writer) error {
	w.writeUint16(p.PacketID)
	return nil
}

func (p *PubcompPacket) decode(r *reader, _ FixedHeader) error {
	id, err := decodeAckID(r)
	p.PacketID = id
	return err
}

// Validate validates the packet contents.
func (p *PubcompPacket) Validate() error {
	return validateAckID(p.PacketID)
}
