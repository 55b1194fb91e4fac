package mqttcore

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrFieldTooLong       = errors.New("field exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
	ErrVarintOverlong     = errors.New("variable byte integer uses more bytes than necessary")
	ErrMalformedPacket    = errors.New("malformed packet")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// writer is an append-only encode buffer. Its methods never fail on
// space; callers check field limits before writing.
type writer struct {
	buf []byte
}

func (w *writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) writeUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) writeBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// writeString writes a UTF-8 string with a 2-byte length prefix.
func (w *writer) writeString(s string) error {
	if err := checkString(s); err != nil {
		return err
	}
	w.writeUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// writeBinary writes binary data with a 2-byte length prefix.
func (w *writer) writeBinary(p []byte) error {
	if len(p) > maxUint16 {
		return ErrFieldTooLong
	}
	w.writeUint16(uint16(len(p)))
	w.buf = append(w.buf, p...)
	return nil
}

// writeVarint writes v as a variable byte integer. v must not exceed maxVarint.
func (w *writer) writeVarint(v uint32) {
	for {
		b := byte(v & varintValueMask)
		v >>= 7
		if v > 0 {
			b |= varintContinueBit
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// reader is a bounds-checked cursor over a packet body. Slices it returns
// alias the underlying data.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrMalformedPacket
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrMalformedPacket
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrMalformedPacket
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// readBinary reads length-prefixed binary data.
func (r *reader) readBinary() ([]byte, error) {
	length, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	return r.readBytes(int(length))
}

// readString reads a length-prefixed UTF-8 string.
func (r *reader) readString() (string, error) {
	b, err := r.readBinary()
	if err != nil {
		return "", err
	}

	s := string(b)
	if err := checkString(s); err != nil {
		return "", err
	}
	return s, nil
}

// rest returns everything left in the body.
func (r *reader) rest() []byte {
	b := r.data[r.pos:len(r.data):len(r.data)]
	r.pos = len(r.data)
	return b
}

// checkString validates an MQTT UTF-8 encoded string.
func checkString(s string) error {
	if len(s) > maxUint16 {
		return ErrFieldTooLong
	}

	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}

	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}

	return nil
}

// decodeVarint reads a variable byte integer from the front of data.
// It returns n == 0 with a nil error when data ends before the last byte.
func decodeVarint(data []byte) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1

	for i := range maxVarintBytes {
		if i >= len(data) {
			return 0, 0, nil
		}

		b := data[i]
		value += uint32(b&varintValueMask) * multiplier

		if b&varintContinueBit == 0 {
			if i > 0 && b == 0 {
				return 0, 0, ErrVarintOverlong
			}
			return value, i + 1, nil
		}

		multiplier *= 128
	}

	return 0, 0, ErrVarintMalformed
}

// varintSize returns the number of bytes needed to encode v.
func varintSize(v uint32) int {
	switch {
	case v < 128:
		return 1
	case v < 16384:
		return 2
	case v < 2097152:
		return 3
	default:
		return 4
	}
}

// stringSize returns the encoded size of a length-prefixed field.
func stringSize(n int) int {
	return 2 + n
}
