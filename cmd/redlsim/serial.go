package main

import (
	"encoding/binary"
	"io"
	"sync"

	"go.uber.org/zap"
)

// serialTransport frames PDUs over a single io.ReadWriteCloser (typically a
// goserial.Port) with the wire format's own message_length header as the
// frame delimiter: no extra framing is needed, since every RaSTA PDU
// already begins with its own length. It implements redcor.Transport over
// a single physical link, guarding writes with a mutex the way a shared
// serial port needs.
//
// A background goroutine performs the actual blocking reads off the port
// and deposits completed frames into rx; Read itself is always
// non-blocking, matching what CheckTimings' drain loop requires of a
// Transport.
type serialTransport struct {
	transportID uint32
	port        io.ReadWriteCloser
	logger      *zap.Logger

	writeMu sync.Mutex
	rx      chan []byte
	done    chan struct{}
}

// newSerialTransport wraps port as the single physical link carrying
// transportID: in RaSTA, one physical link corresponds to exactly one
// transport channel id, so unlike loopbackTransport's multiplexed map of
// channels, a serialTransport only ever answers for the one id it was
// built with.
func newSerialTransport(transportID uint32, port io.ReadWriteCloser, logger *zap.Logger) *serialTransport {
	s := &serialTransport{
		transportID: transportID,
		port:        port,
		logger:      logger,
		rx:          make(chan []byte, 16),
		done:        make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Send writes one PDU verbatim; message_length at offset 0 already tells
// the peer how many bytes follow.
func (s *serialTransport) Send(transportID uint32, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write(data); err != nil {
		s.logger.Warn("serial transport write failed", zap.Uint32("transport_id", transportID), zap.Error(err))
	}
}

// Read copies the oldest frame assembled by readLoop into buf, or reports
// ok=false if none is queued.
func (s *serialTransport) Read(transportID uint32, buf []byte) (int, bool) {
	select {
	case frame := <-s.rx:
		return copy(buf, frame), true
	default:
		return 0, false
	}
}

// pending reports this transport's id if a frame is queued, matching the
// shape of loopbackTransport.pending so both satisfy the same poll-loop
// interface.
func (s *serialTransport) pending() []uint32 {
	if len(s.rx) > 0 {
		return []uint32{s.transportID}
	}
	return nil
}

// readLoop blocks on the port reading one length-prefixed frame at a time
// and deposits each onto rx. It exits once the port returns an error
// (typically because Close was called).
func (s *serialTransport) readLoop() {
	defer close(s.done)
	for {
		var header [2]byte
		if _, err := io.ReadFull(s.port, header[:]); err != nil {
			return
		}
		messageLength := binary.LittleEndian.Uint16(header[:])
		if messageLength < 2 {
			s.logger.Warn("serial transport frame rejected", zap.Uint16("message_length", messageLength))
			return
		}
		frame := make([]byte, messageLength)
		copy(frame, header[:])
		if _, err := io.ReadFull(s.port, frame[2:]); err != nil {
			return
		}
		select {
		case s.rx <- frame:
		default:
			s.logger.Warn("serial transport rx queue full, dropping frame")
		}
	}
}
