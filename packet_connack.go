package mqttcore

import (
	"errors"
)

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidReturnCode   = errors.New("invalid return code")
)

// ConnackPacket represents an MQTT v3.1.1 CONNACK packet.
type ConnackPacket struct {
	// SessionPresent indicates if a session exists from a previous connection.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ConnectReturnCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

func (p *ConnackPacket) flags() byte { return 0 }

func (p *ConnackPacket) bodyLen() int { return 2 }

func (p *ConnackPacket) encodeBody(w *writer) error {
	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	w.writeByte(ackFlags)
	w.writeByte(byte(p.ReturnCode))
	return nil
}

func (p *ConnackPacket) decode(r *reader, _ FixedHeader) error {
	ackFlags, err := r.readByte()
	if err != nil {
		return err
	}
	if ackFlags&0xFE != 0 {
		return ErrInvalidConnackFlags
	}
	p.SessionPresent = ackFlags&0x01 != 0

	code, err := r.readByte()
	if err != nil {
		return err
	}
	p.ReturnCode = ConnectReturnCode(code)
	return nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return ErrInvalidReturnCode
	}
	if p.SessionPresent && !p.ReturnCode.Accepted() {
		return ErrInvalidConnackFlags
	}
	return nil
}
