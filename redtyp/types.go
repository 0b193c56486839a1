// Package redtyp holds the shared types, size limits and error taxonomy of
// the RaSTA redundancy layer: the PDU and payload value types, the
// check-code enum, and the small set of sentinel errors every other
// package in this module builds on.
package redtyp

import "errors"

// Wire-format size limits, in bytes.
const (
	// HeaderSize is the number of bytes preceding the payload in a PDU:
	// message_length(2) + reserved(2) + sequence_number(4).
	HeaderSize = 8

	// MinPayloadSize and MaxPayloadSize bound the opaque payload carried
	// inside a PDU, independent of the configured check-code type. This is
	// the functional bound send/read/Build/ParseAndVerify enforce, not the
	// wider structural width the length field could address (see
	// MaxWirePayloadSize below).
	MinPayloadSize = 28
	MaxPayloadSize = 1055

	// MaxWirePayloadSize is the structural upper bound on the payload
	// field's width as the PDU layout describes it: wider than
	// MaxPayloadSize, and used only to size MaxPDUSize, never as a
	// functional-validation bound.
	MaxWirePayloadSize = 1075

	// MaxCheckCodeSize is the widest check code a PDU can carry (CRC32,
	// check-code types B and C).
	MaxCheckCodeSize = 4

	// MinPDUSize and MaxPDUSize bound the full wire message, header through
	// check code inclusive. MaxPDUSize is reached at the structural payload
	// width with no check code (type A), not by adding MaxCheckCodeSize on
	// top of an already-maximal payload.
	MinPDUSize = HeaderSize + MinPayloadSize
	MaxPDUSize = HeaderSize + MaxWirePayloadSize

	// MaxNSendMax is the capacity of the received-buffer FIFO per channel.
	MaxNSendMax = 100

	// MaxRedundancyChannels and MaxTransportChannels bound the
	// configuration tables; transport channel ids are valid across
	// [0, MaxRedundancyChannels*MaxTransportChannels).
	MaxRedundancyChannels = 2
	MaxTransportChannels  = 2

	// SequenceNumberRangeCheckFactor defines the width, in multiples of
	// the defer queue size, of the acceptable future window a PDU's
	// sequence number may fall into before it is treated as "too far
	// ahead" and dropped.
	SequenceNumberRangeCheckFactor = 10
)

// CheckCodeType is a closed enum of the five check-code variants a
// redundancy channel may be configured with. The zero value is CheckCodeA
// (no check code), matching the source enum's explicit aliasing of its
// Min and A members.
type CheckCodeType uint8

const (
	CheckCodeA CheckCodeType = iota // no check code
	CheckCodeB                      // CRC32, polynomial 0xEE5B42FD
	CheckCodeC                      // CRC32, polynomial 0x1EDC6F41
	CheckCodeD                      // CRC16, polynomial 0x1021
	CheckCodeE                      // CRC16, polynomial 0x8005

	checkCodeCount // sentinel, one past the last valid value
)

// NewCheckCodeType is the smart constructor for CheckCodeType from a raw
// numeric value: it rejects anything outside the five defined variants.
// The named constants above are valid as well; a plain conversion such as
// CheckCodeType(v) is not checked, which is what Valid is for.
func NewCheckCodeType(v uint8) (CheckCodeType, error) {
	if v >= uint8(checkCodeCount) {
		return 0, ErrInvalidParameter
	}
	return CheckCodeType(v), nil
}

// Valid reports whether t is one of the five defined check-code variants.
// A CheckCodeType obtained through NewCheckCodeType is always valid; this
// exists for values that arrive over a boundary (e.g. deserialized config).
func (t CheckCodeType) Valid() bool {
	return t < checkCodeCount
}

func (t CheckCodeType) String() string {
	switch t {
	case CheckCodeA:
		return "A"
	case CheckCodeB:
		return "B"
	case CheckCodeC:
		return "C"
	case CheckCodeD:
		return "D"
	case CheckCodeE:
		return "E"
	default:
		return "invalid"
	}
}

// CheckCodeLength returns the number of trailing check-code bytes a PDU
// carries for the given check-code type: 0 for A, 4 for B/C, 2 for D/E.
func CheckCodeLength(t CheckCodeType) uint16 {
	switch t {
	case CheckCodeB, CheckCodeC:
		return 4
	case CheckCodeD, CheckCodeE:
		return 2
	default:
		return 0
	}
}

// FatalCode identifies the reason a Tier-3 programming-error precondition
// failed. These are never returned to a caller; they are only ever passed
// to a SystemAdapter's FatalError callback.
type FatalCode uint8

const (
	FatalUnknown FatalCode = iota
	FatalAlreadyInitialized
	FatalNotInitialized
	FatalInvalidParameter
	FatalInternalError
	FatalReceiveBufferFull
	FatalNoMessageReceived
	FatalSendBufferFull
	FatalDeferQueueFull
)

func (c FatalCode) String() string {
	switch c {
	case FatalAlreadyInitialized:
		return "already initialized"
	case FatalNotInitialized:
		return "not initialized"
	case FatalInvalidParameter:
		return "invalid parameter"
	case FatalInternalError:
		return "internal error"
	case FatalReceiveBufferFull:
		return "receive buffer full"
	case FatalNoMessageReceived:
		return "no message received"
	case FatalSendBufferFull:
		return "send buffer full"
	case FatalDeferQueueFull:
		return "defer queue full"
	default:
		return "unknown fatal error"
	}
}

// Tier-1 recoverable errors: the only values the public API in redint
// returns. Callers should compare against these with errors.Is, since
// they are frequently wrapped with additional context via fmt.Errorf.
var (
	ErrAlreadyInitialized      = errors.New("redl: already initialized")
	ErrNotInitialized          = errors.New("redl: not initialized")
	ErrInvalidParameter        = errors.New("redl: invalid parameter")
	ErrInvalidConfiguration    = errors.New("redl: invalid configuration")
	ErrInvalidMessageSize      = errors.New("redl: invalid message size")
	ErrInvalidBufferSize       = errors.New("redl: invalid buffer size")
	ErrNoMessageReceived       = errors.New("redl: no message received")
	ErrInvalidOperationInState = errors.New("redl: invalid operation in current state")
	ErrInvalidCheckCode        = errors.New("redl: invalid check code")
)

// FatalErrorFunc is the host-injected Tier-3 handler: invoked on any
// invariant violation or programming-error precondition breach. The
// source's rasys_FatalError "does not return"; here the contract is a
// callback rather than a terminating call so a host can choose to unit
// test fatal paths without crashing the test binary. Every call site in
// this module returns immediately after invoking it, so a FatalErrorFunc
// that does not itself terminate the process still leaves the caller in a
// safe (if unfinished) state rather than falling through into logic that
// assumed the precondition held.
type FatalErrorFunc func(code FatalCode)

// RedundancyMessage is a fully framed PDU as it appears on the wire:
// header, payload and check code concatenated, little-endian throughout.
type RedundancyMessage struct {
	Data []byte
}

// RedundancyMessagePayload is the opaque payload a redundancy channel
// hands to, or receives from, the upper layer — no header, no check code.
type RedundancyMessagePayload struct {
	Payload []byte
}
