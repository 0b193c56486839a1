// Package reddfq implements the per-channel Defer Queue: a bounded store
// of out-of-order PDUs keyed by sequence number, with capacity-based
// back-pressure and a Tseq-based age timeout.
package reddfq

import (
	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/redlog"
	"github.com/railgo/rasta-redl/redtyp"
)

// Entry is one buffered out-of-order PDU and the timestamp it arrived at,
// exposed read-only via Snapshot for tests and demo introspection —
// grounded on the mock test harness in original_source's
// tests/mocks/redcor_mock.hh directly inspecting the defer queue's
// internal array.
type Entry struct {
	SequenceNumber    uint32
	Message           redtyp.RedundancyMessage
	ReceivedTimestamp uint32
}

// DeferQueue is a bounded, per-channel defer queue. The zero value is not
// usable; construct with New.
type DeferQueue struct {
	capacity int
	entries  []Entry
	logger   *zap.Logger
	fatal    redtyp.FatalErrorFunc
}

// New constructs a DeferQueue with the given capacity (the channel's
// configured n_defer_queue_size). fatal is invoked for the two Tier-3
// preconditions documented on Get and OldestSequenceNumber; logger may be
// nil.
func New(capacity int, fatal redtyp.FatalErrorFunc, logger *zap.Logger) *DeferQueue {
	return &DeferQueue{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		logger:   redlog.Or(logger),
		fatal:    fatal,
	}
}

// IsSequenceNumberOlder reports whether a is older than b under the
// wraparound ordering:
// (b - (a+1)) mod 2^32 < 2^31. Go's uint32 arithmetic wraps natively, so
// no explicit modulo is needed.
func IsSequenceNumberOlder(a, b uint32) bool {
	return (b - (a + 1)) < (1 << 31)
}

// Add inserts message under sequenceNumber if free capacity exists, and
// silently drops it otherwise. Core is responsible for checking available
// capacity via UsedEntries before ever reading from a transport, so a full
// queue here reflects a policy decision upstream, not a bug — this path
// never calls fatal.
func (q *DeferQueue) Add(sequenceNumber uint32, message redtyp.RedundancyMessage, now uint32) {
	if len(q.entries) >= q.capacity {
		q.logger.Debug("defer queue full, dropping message", zap.Uint32("sequence_number", sequenceNumber))
		return
	}
	q.entries = append(q.entries, Entry{
		SequenceNumber:    sequenceNumber,
		Message:           message,
		ReceivedTimestamp: now,
	})
	q.logger.Debug("buffered out-of-order message", zap.Uint32("sequence_number", sequenceNumber))
}

// Get removes and returns the entry for sequenceNumber. Core guarantees
// presence via Contains before calling; if no such entry exists, this is a
// Tier-3 programming error.
func (q *DeferQueue) Get(sequenceNumber uint32) redtyp.RedundancyMessage {
	for i, e := range q.entries {
		if e.SequenceNumber == sequenceNumber {
			msg := e.Message
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return msg
		}
	}
	q.fail(redtyp.FatalInternalError)
	return redtyp.RedundancyMessage{}
}

// Contains reports whether sequenceNumber is currently buffered.
func (q *DeferQueue) Contains(sequenceNumber uint32) bool {
	for _, e := range q.entries {
		if e.SequenceNumber == sequenceNumber {
			return true
		}
	}
	return false
}

// OldestSequenceNumber returns the sequence number deemed "oldest" under
// the wraparound ordering. Fatal if the queue is empty.
func (q *DeferQueue) OldestSequenceNumber() uint32 {
	if len(q.entries) == 0 {
		q.fail(redtyp.FatalInternalError)
		return 0
	}
	oldest := q.entries[0].SequenceNumber
	for _, e := range q.entries[1:] {
		if IsSequenceNumberOlder(e.SequenceNumber, oldest) {
			oldest = e.SequenceNumber
		}
	}
	return oldest
}

// IsTimeout reports whether any buffered entry has aged past tSeq, using
// unsigned subtraction so timestamp wraparound is handled transparently.
func (q *DeferQueue) IsTimeout(now, tSeq uint32) bool {
	for _, e := range q.entries {
		if now-e.ReceivedTimestamp > tSeq {
			return true
		}
	}
	return false
}

// UsedEntries returns the number of entries currently buffered.
func (q *DeferQueue) UsedEntries() uint32 {
	return uint32(len(q.entries))
}

// Snapshot returns a read-only copy of the queue's current entries, for
// tests and demo metrics; mutating the returned slice has no effect on the
// queue.
func (q *DeferQueue) Snapshot() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *DeferQueue) fail(code redtyp.FatalCode) {
	q.logger.Error("defer queue invariant violated", zap.String("reason", code.String()))
	if q.fatal != nil {
		q.fatal(code)
	}
}
