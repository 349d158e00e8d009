package shell

import "sync"

// DefaultMaxOutput bounds captured stdout and stderr per command.
const DefaultMaxOutput = 1 << 20

// RingBuffer is a fixed-size io.Writer that keeps the most recent bytes
// written to it. Commands like `yes` or a large `cat` cannot grow it past
// its capacity; Dropped reports how much was overwritten.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int // next write position
	full    bool
	dropped int64
}

// NewRingBuffer creates a buffer holding at most size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultMaxOutput
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)

	// Only the last size bytes of p can survive.
	if len(p) > size {
		rb.dropped += int64(rb.lenLocked() + len(p) - size)
		copy(rb.buf, p[len(p)-size:])
		rb.head = 0
		rb.full = true
		return n, nil
	}

	if overflow := rb.lenLocked() + len(p) - size; overflow > 0 {
		rb.dropped += int64(overflow)
	}
	for len(p) > 0 {
		c := copy(rb.buf[rb.head:], p)
		p = p[c:]
		rb.head += c
		if rb.head == size {
			rb.head = 0
			rb.full = true
		}
	}
	return n, nil
}

// String returns the retained bytes in write order.
func (rb *RingBuffer) String() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.full {
		return string(rb.buf[:rb.head])
	}
	return string(rb.buf[rb.head:]) + string(rb.buf[:rb.head])
}

// Len returns the number of retained bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.lenLocked()
}

// Dropped returns how many bytes were overwritten.
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

func (rb *RingBuffer) lenLocked() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.head
}
