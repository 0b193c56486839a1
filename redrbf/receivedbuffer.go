// Package redrbf implements the per-channel Received Buffer: a ring FIFO
// of in-order payloads waiting for the upper layer to read them.
package redrbf

import "github.com/railgo/rasta-redl/redtyp"

// ReadResult is the outcome of a Read call.
type ReadResult int

const (
	// ReadOk indicates a payload was copied into the caller's buffer.
	ReadOk ReadResult = iota
	// ReadEmpty indicates the buffer held no payload to read.
	ReadEmpty
	// ReadTooSmall indicates the caller's buffer was smaller than the
	// payload at the head of the queue; the payload is left in place.
	ReadTooSmall
)

// ReceivedBuffer is a fixed-capacity ring FIFO of payloads. The zero value
// is not usable; construct with New.
type ReceivedBuffer struct {
	capacity int
	buf      [][]byte
	readIdx  int
	writeIdx int
	used     int
	fatal    redtyp.FatalErrorFunc
}

// New constructs a ReceivedBuffer with the given capacity (MAX_N_SEND_MAX
// in the source).
func New(capacity int, fatal redtyp.FatalErrorFunc) *ReceivedBuffer {
	return &ReceivedBuffer{
		capacity: capacity,
		buf:      make([][]byte, capacity),
		fatal:    fatal,
	}
}

// Add appends payload to the tail of the FIFO. Core guarantees free space
// before calling (it checks Free() before delivering), so an overflow here
// is a Tier-3 programming error.
func (b *ReceivedBuffer) Add(payload []byte) {
	if b.used >= b.capacity {
		if b.fatal != nil {
			b.fatal(redtyp.FatalReceiveBufferFull)
		}
		return
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	b.buf[b.writeIdx] = stored
	b.writeIdx = (b.writeIdx + 1) % b.capacity
	b.used++
}

// Read copies the payload at the head of the FIFO into dst and reports the
// outcome. If dst is smaller than the head payload, ReadTooSmall is
// returned and the FIFO is left unchanged.
func (b *ReceivedBuffer) Read(dst []byte) (n int, result ReadResult) {
	if b.used == 0 {
		return 0, ReadEmpty
	}
	head := b.buf[b.readIdx]
	if len(head) > len(dst) {
		return 0, ReadTooSmall
	}
	copy(dst, head)
	b.buf[b.readIdx] = nil
	b.readIdx = (b.readIdx + 1) % b.capacity
	b.used--
	return len(head), ReadOk
}

// Free returns the number of free slots in the buffer.
func (b *ReceivedBuffer) Free() int {
	return b.capacity - b.used
}

// Used returns the number of payloads currently buffered.
func (b *ReceivedBuffer) Used() int {
	return b.used
}
