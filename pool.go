package mqttcore

import (
	"sync"
)

// maxPooledBuffer caps the capacity of buffers returned to the pool.
const maxPooledBuffer = 65536

// bufferPool holds heap buffers for outbound packets too large for the
// inline storage of a msgBuffer.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4*smallMessageSize)
		return &b
	},
}

// getBuffer returns a pooled buffer with at least size bytes of capacity.
func getBuffer(size int) *[]byte {
	b := bufferPool.Get().(*[]byte)
	if cap(*b) < size {
		*b = make([]byte, 0, size)
	}
	*b = (*b)[:0]
	return b
}

// putBuffer returns a buffer to the pool.
func putBuffer(b *[]byte) {
	if b == nil {
		return
	}
	// Only pool if capacity is reasonable (64KB)
	if cap(*b) <= maxPooledBuffer {
		*b = (*b)[:0]
		bufferPool.Put(b)
	}
}
