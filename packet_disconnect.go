package mqttcore

// DisconnectPacket represents an MQTT v3.1.1 DISCONNECT packet. It has no
// variable header or payload; sending it discards the will message.
type DisconnectPacket struct{}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) flags() byte { return 0 }

func (p *DisconnectPacket) bodyLen() int { return 0 }

func (p *DisconnectPacket) encodeBody(_ *writer) error { return nil }

func (p *DisconnectPacket) decode(_ *reader, _ FixedHeader) error { return nil }

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate() error { return nil }
