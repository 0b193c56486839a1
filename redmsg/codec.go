// Package redmsg implements the RaSTA redundancy layer wire codec: framing
// a sequence number and payload into a PDU with its check code, and
// parsing/verifying a received PDU back into its fields.
package redmsg

import (
	"encoding/binary"

	"github.com/railgo/rasta-redl/redcrc"
	"github.com/railgo/rasta-redl/redtyp"
)

// Field offsets within a PDU, mirroring redmsg_red_messages.c's
// kMsgLengthPosition/kMsgReservePosition/kMsgSequenceNbrPosition/
// kMsgPayloadDataPosition constants.
const (
	lengthOffset   = 0
	reserveOffset  = 2
	sequenceOffset = 4
	payloadOffset  = redtyp.HeaderSize

	// HeaderSize, MinPDUSize, MaxPDUSize, MinPayloadSize and
	// MaxPayloadSize are re-exported from redtyp so callers can size
	// buffers without importing redtyp directly for this purpose.
	HeaderSize     = redtyp.HeaderSize
	MinPDUSize     = redtyp.MinPDUSize
	MaxPDUSize     = redtyp.MaxPDUSize
	MinPayloadSize = redtyp.MinPayloadSize
	MaxPayloadSize = redtyp.MaxPayloadSize
)

// Codec builds and parses PDUs for one configured check-code type. It
// wraps a redcrc.Table and is immutable/stateless beyond that table, so a
// single Codec may be shared across every redundancy channel configured
// with the same check-code type.
type Codec struct {
	typ   redtyp.CheckCodeType
	table redcrc.Table
}

// NewCodec constructs a Codec for the given check-code type. Corresponds
// to redmsg_Init, which also initializes the CRC module.
func NewCodec(t redtyp.CheckCodeType) (Codec, error) {
	table, err := redcrc.NewTable(t)
	if err != nil {
		return Codec{}, err
	}
	return Codec{typ: t, table: table}, nil
}

// Build serializes sequenceNumber and payload into a fully framed PDU,
// computing and appending the check code. payload must be between
// MinPayloadSize and MaxPayloadSize bytes; violating this is a programming
// error (the caller — redcor — is required to enforce it before calling).
func (c Codec) Build(sequenceNumber uint32, payload []byte) redtyp.RedundancyMessage {
	if len(payload) < MinPayloadSize || len(payload) > MaxPayloadSize {
		panic("redmsg: Build called with out-of-range payload size")
	}

	checkLen := redtyp.CheckCodeLength(c.typ)
	total := HeaderSize + len(payload) + int(checkLen)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[lengthOffset:], uint16(total))
	binary.LittleEndian.PutUint16(buf[reserveOffset:], 0)
	binary.LittleEndian.PutUint32(buf[sequenceOffset:], sequenceNumber)
	copy(buf[payloadOffset:], payload)

	if c.typ != redtyp.CheckCodeA {
		crc := c.table.Calculate(buf[:total-int(checkLen)])
		putCheckCode(buf[total-int(checkLen):], crc, checkLen)
	}

	return redtyp.RedundancyMessage{Data: buf}
}

// ParseAndVerify validates a received buffer as a PDU: the embedded
// message_length must equal the buffer length, the derived payload size
// must fall in [MinPayloadSize, MaxPayloadSize], and (for check-code types
// other than A) the check code must match. It returns the validated PDU,
// or ok=false if any of those checks fail — this is the Tier-2 silent-drop
// path; ParseAndVerify itself never triggers a Tier-3 fatal error.
func (c Codec) ParseAndVerify(data []byte) (pdu redtyp.RedundancyMessage, ok bool) {
	if len(data) < HeaderSize {
		return redtyp.RedundancyMessage{}, false
	}

	messageLength := binary.LittleEndian.Uint16(data[lengthOffset:])
	if int(messageLength) != len(data) {
		return redtyp.RedundancyMessage{}, false
	}

	checkLen := int(redtyp.CheckCodeLength(c.typ))
	payloadSize := int(messageLength) - HeaderSize - checkLen
	if payloadSize < MinPayloadSize || payloadSize > MaxPayloadSize {
		return redtyp.RedundancyMessage{}, false
	}

	if c.typ != redtyp.CheckCodeA {
		want := c.table.Calculate(data[:len(data)-checkLen])
		got := getCheckCode(data[len(data)-checkLen:], checkLen)
		if want != got {
			return redtyp.RedundancyMessage{}, false
		}
	}

	return redtyp.RedundancyMessage{Data: data}, true
}

// SequenceNumber extracts the sequence number field from a PDU previously
// returned by Build or ParseAndVerify.
func SequenceNumber(pdu redtyp.RedundancyMessage) uint32 {
	return binary.LittleEndian.Uint32(pdu.Data[sequenceOffset:])
}

// Payload extracts the payload region from a PDU previously returned by
// Build or ParseAndVerify, using the check-code type the PDU was framed
// with to derive the payload boundary.
func Payload(pdu redtyp.RedundancyMessage, t redtyp.CheckCodeType) []byte {
	checkLen := int(redtyp.CheckCodeLength(t))
	end := len(pdu.Data) - checkLen
	return pdu.Data[payloadOffset:end]
}

func putCheckCode(dst []byte, crc uint32, length uint16) {
	switch length {
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(crc))
	case 4:
		binary.LittleEndian.PutUint32(dst, crc)
	}
}

func getCheckCode(src []byte, length int) uint32 {
	switch length {
	case 2:
		return uint32(binary.LittleEndian.Uint16(src))
	case 4:
		return binary.LittleEndian.Uint32(src)
	default:
		return 0
	}
}
