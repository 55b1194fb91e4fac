package mqttcore

// PingreqPacket represents an MQTT PINGREQ packet.
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) flags() byte { return 0 }

func (p *PingreqPacket) bodyLen() int { return 0 }

func (p *PingreqPacket) encodeBody(_ *writer) error { return nil }

func (p *PingreqPacket) decode(_ *reader, _ FixedHeader) error { return nil }

// Validate validates the packet contents.
func (p *PingreqPacket) Validate() error { return nil }

// PingrespPacket represents an MQTT PINGRESP packet.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) flags() byte { return 0 }

func (p *PingrespPacket) bodyLen() int { return 0 }

func (p *PingrespPacket) encodeBody(_ *writer) error { return nil }

func (p *PingrespPacket) decode(_ *reader, _ FixedHeader) error { return nil }

// Validate validates the packet contents.
func (p *PingrespPacket) Validate() error { return nil }
