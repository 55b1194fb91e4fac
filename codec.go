package mqttcore

import (
	"errors"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("mqttcore: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqttcore: unknown packet type")
)

// newPacket returns an empty packet of the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// headerFor builds the fixed header of a packet.
func headerFor(p Packet) (FixedHeader, error) {
	body := p.bodyLen()
	if body > maxVarint {
		return FixedHeader{}, ErrPacketTooLarge
	}
	return FixedHeader{
		PacketType:      p.Type(),
		Flags:           p.flags(),
		RemainingLength: uint32(body),
	}, nil
}

// PacketSize returns the encoded size of the packet including its fixed header.
func PacketSize(p Packet) int {
	h, err := headerFor(p)
	if err != nil {
		return -1
	}
	return h.Size() + int(h.RemainingLength)
}

// EncodePacket validates p and appends its wire form to dst.
// If maxSize is greater than 0, packets whose remaining length exceeds
// maxSize return ErrPacketTooLarge.
func EncodePacket(dst []byte, p Packet, maxSize uint32) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return dst, err
	}

	header, err := headerFor(p)
	if err != nil {
		return dst, err
	}
	if maxSize > 0 && header.RemainingLength > maxSize {
		return dst, ErrPacketTooLarge
	}

	w := writer{buf: dst}
	if err := header.encode(&w); err != nil {
		return dst, err
	}

	start := len(w.buf)
	if err := p.encodeBody(&w); err != nil {
		return dst, err
	}
	if len(w.buf)-start != int(header.RemainingLength) {
		return dst, ErrMalformedPacket
	}

	return w.buf, nil
}

// DecodePacket decodes one packet from the front of data.
//
// It returns the packet and the number of bytes it occupied. When data
// holds only part of a packet it returns a nil packet, 0 and a nil error;
// the caller should read more and try again. A declared remaining length
// larger than maxSize (when maxSize > 0) is rejected with ErrPacketTooLarge
// as soon as the length is known.
//
// Byte slices in the returned packet alias data.
func DecodePacket(data []byte, maxSize uint32) (Packet, int, error) {
	header, hn, err := decodeFixedHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if hn == 0 {
		return nil, 0, nil
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, 0, ErrPacketTooLarge
	}

	total := hn + int(header.RemainingLength)
	if len(data) < total {
		return nil, 0, nil
	}

	packet, err := decodeBody(header, data[hn:total])
	if err != nil {
		return nil, 0, err
	}

	return packet, total, nil
}

// decodeBody decodes and validates a packet body whose fixed header has
// already been parsed.
func decodeBody(header FixedHeader, body []byte) (Packet, error) {
	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}

	r := newReader(body)
	if err := packet.decode(r, header); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrMalformedPacket
	}

	if err := packet.Validate(); err != nil {
		return nil, err
	}

	return packet, nil
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
// Unlike DecodePacket the returned packet owns its memory.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var head [1 + maxVarintBytes]byte

	n, err := io.ReadFull(r, head[:1])
	if err != nil {
		return nil, n, err
	}

	var header FixedHeader
	var hn int
	for {
		header, hn, err = decodeFixedHeader(head[:n])
		if err != nil {
			return nil, n, err
		}
		if hn > 0 {
			break
		}
		if n == len(head) {
			return nil, n, ErrVarintMalformed
		}

		rn, err := io.ReadFull(r, head[n:n+1])
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, body)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeBody(header, body)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	buf, err := EncodePacket(nil, packet, maxSize)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}
