package mqttcore

import (
	"errors"
)

// PacketType is the high nibble of the first header byte.
type PacketType byte

// Control packet types of MQTT 3.1.1. Values 0 and 15 are reserved.
const (
	PacketCONNECT PacketType = iota + 1
	PacketCONNACK
	PacketPUBLISH
	PacketPUBACK
	PacketPUBREC
	PacketPUBREL
	PacketPUBCOMP
	PacketSUBSCRIBE
	PacketSUBACK
	PacketUNSUBSCRIBE
	PacketUNSUBACK
	PacketPINGREQ
	PacketPINGRESP
	PacketDISCONNECT
)

var packetNames = [16]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
}

func (p PacketType) String() string {
	if !p.Valid() {
		return "UNKNOWN"
	}
	return packetNames[p]
}

// Valid reports whether p is a 3.1.1 control packet type.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

// Fixed header errors.
var (
	ErrInvalidPacketType       = errors.New("invalid packet type")
	ErrInvalidPacketFlags      = errors.New("invalid packet flags")
	ErrRemainingLengthTooLarge = errors.New("remaining length too large")
)

// PUBLISH flag bits.
const (
	flagRetain byte = 0x01
	flagQoS    byte = 0x06
	flagDUP    byte = 0x08
)

// fixedFlags holds the mandatory flag nibble of every type except PUBLISH.
// PUBREL, SUBSCRIBE and UNSUBSCRIBE carry 0b0010, the rest zero.
func fixedFlags(p PacketType) byte {
	switch p {
	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		return 0x02
	default:
		return 0x00
	}
}

// FixedHeader is the 2 to 5 byte prefix of every control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

func (h *FixedHeader) encode(w *writer) error {
	if err := h.ValidateFlags(); err != nil {
		return err
	}
	if h.RemainingLength > maxVarint {
		return ErrRemainingLengthTooLarge
	}

	w.writeByte(byte(h.PacketType)<<4 | h.Flags&0x0F)
	w.writeVarint(h.RemainingLength)
	return nil
}

// decodeFixedHeader parses the header at the front of data and returns its
// encoded size. A size of 0 with a nil error means more bytes are needed.
// The first byte is validated before the length is complete so garbage is
// rejected early.
func decodeFixedHeader(data []byte) (FixedHeader, int, error) {
	if len(data) == 0 {
		return FixedHeader{}, 0, nil
	}

	h := FixedHeader{PacketType: PacketType(data[0] >> 4), Flags: data[0] & 0x0F}
	if err := h.ValidateFlags(); err != nil {
		return h, 0, err
	}

	length, n, err := decodeVarint(data[1:])
	if err != nil || n == 0 {
		return h, 0, err
	}

	h.RemainingLength = length
	return h, 1 + n, nil
}

// Size is the encoded length of the header alone.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags rejects reserved types, wrong flag nibbles and PUBLISH QoS 3.
func (h *FixedHeader) ValidateFlags() error {
	switch {
	case !h.PacketType.Valid():
		return ErrInvalidPacketType
	case h.PacketType == PacketPUBLISH:
		if h.QoS() > 2 {
			return ErrInvalidPacketFlags
		}
	case h.Flags != fixedFlags(h.PacketType):
		return ErrInvalidPacketFlags
	}
	return nil
}

func (h *FixedHeader) DUP() bool    { return h.Flags&flagDUP != 0 }
func (h *FixedHeader) Retain() bool { return h.Flags&flagRetain != 0 }
func (h *FixedHeader) QoS() byte    { return (h.Flags & flagQoS) >> 1 }

func (h *FixedHeader) SetDUP(dup bool)       { h.setFlag(flagDUP, dup) }
func (h *FixedHeader) SetRetain(retain bool) { h.setFlag(flagRetain, retain) }

func (h *FixedHeader) SetQoS(qos byte) {
	h.Flags = h.Flags&^flagQoS | (qos<<1)&flagQoS
}

func (h *FixedHeader) setFlag(bit byte, on bool) {
	if on {
		h.Flags |= bit
		return
	}
	h.Flags &^= bit
}
