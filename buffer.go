package mqttcore

// smallMessageSize is the largest encoded packet kept inline in a msgBuffer.
const smallMessageSize = 128

// msgBuffer holds the encoded form of one outbound packet. Small packets
// live in the inline array, larger ones in a pooled heap buffer. A msgBuffer
// must not be copied after encode.
type msgBuffer struct {
	inline [smallMessageSize]byte
	data   []byte
	heap   *[]byte
}

// encode replaces the buffer contents with the wire form of p.
func (b *msgBuffer) encode(p Packet, maxSize uint32) error {
	b.release()

	size := PacketSize(p)
	if size < 0 {
		return ErrPacketTooLarge
	}

	var dst []byte
	if size <= smallMessageSize {
		dst = b.inline[:0]
	} else {
		b.heap = getBuffer(size)
		dst = *b.heap
	}

	out, err := EncodePacket(dst, p, maxSize)
	if err != nil {
		b.release()
		return err
	}

	b.data = out
	if b.heap != nil {
		*b.heap = out
	}
	return nil
}

// bytes returns the encoded packet.
func (b *msgBuffer) bytes() []byte {
	return b.data
}

// setDUP marks an encoded PUBLISH as a retransmission.
func (b *msgBuffer) setDUP() {
	if len(b.data) > 0 && PacketType(b.data[0]>>4) == PacketPUBLISH {
		b.data[0] |= 0x08
	}
}

// release drops the contents and returns any heap buffer to the pool.
func (b *msgBuffer) release() {
	if b.heap != nil {
		putBuffer(b.heap)
		b.heap = nil
	}
	b.data = nil
}

// rxBuffer accumulates inbound bytes until complete packets can be decoded.
// Consumed bytes stay in place until compact, so slices decoded from
// unread remain valid until then.
type rxBuffer struct {
	data  []byte
	start int
}

// maxIdleRxBuffer is the capacity above which an empty rxBuffer is
// released instead of reused.
const maxIdleRxBuffer = 64 * 1024

func (b *rxBuffer) append(p []byte) {
	b.data = append(b.data, p...)
}

// unread returns the bytes not yet consumed.
func (b *rxBuffer) unread() []byte {
	return b.data[b.start:]
}

// consume marks n bytes as decoded.
func (b *rxBuffer) consume(n int) {
	b.start += n
}

// compact moves unread bytes to the front. It invalidates slices returned
// by earlier unread calls.
func (b *rxBuffer) compact() {
	if b.start == 0 {
		return
	}

	n := copy(b.data, b.data[b.start:])
	b.data = b.data[:n]
	b.start = 0

	if n == 0 && cap(b.data) > maxIdleRxBuffer {
		b.data = nil
	}
}

// len returns the number of unread bytes.
func (b *rxBuffer) len() int {
	return len(b.data) - b.start
}
