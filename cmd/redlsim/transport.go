package main

// loopbackTransport is an in-memory, non-blocking redcor.Transport backed
// by one buffered channel per transport id. It is one end of a pair built
// by newLoopbackPair: writes on one end arrive as reads on the other.
type loopbackTransport struct {
	send map[uint32]chan []byte
	recv map[uint32]chan []byte
}

// newLoopbackPair wires two loopbackTransports together over the given
// transport ids, simulating a pair of physical links between two RaSTA
// peers without any real I/O: a buffered channel per direction, with a
// non-blocking push that drops silently on a full buffer.
func newLoopbackPair(transportIDs []uint32, bufferSize int) (a, b *loopbackTransport) {
	aToB := make(map[uint32]chan []byte, len(transportIDs))
	bToA := make(map[uint32]chan []byte, len(transportIDs))
	for _, id := range transportIDs {
		aToB[id] = make(chan []byte, bufferSize)
		bToA[id] = make(chan []byte, bufferSize)
	}
	a = &loopbackTransport{send: aToB, recv: bToA}
	b = &loopbackTransport{send: bToA, recv: aToB}
	return a, b
}

// Send is fire-and-forget: a full buffer silently drops the datagram,
// mirroring how a saturated physical link would behave.
func (t *loopbackTransport) Send(transportID uint32, data []byte) {
	ch, ok := t.send[transportID]
	if !ok {
		return
	}
	cp := append([]byte(nil), data...)
	select {
	case ch <- cp:
	default:
	}
}

// Read is non-blocking: it reports ok=false immediately if no datagram is
// queued for transportID.
func (t *loopbackTransport) Read(transportID uint32, buf []byte) (int, bool) {
	ch, ok := t.recv[transportID]
	if !ok {
		return 0, false
	}
	select {
	case data := <-ch:
		return copy(buf, data), true
	default:
		return 0, false
	}
}

// pending reports the transport ids that currently have a queued datagram,
// used by the demo's poll loop to decide which ids to flag via
// TransportMessageReceived before calling CheckTimings.
func (t *loopbackTransport) pending() []uint32 {
	var ids []uint32
	for id, ch := range t.recv {
		if len(ch) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
