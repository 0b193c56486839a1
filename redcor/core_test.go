package redcor

import (
	"testing"

	"github.com/railgo/rasta-redl/reddia"
	"github.com/railgo/rasta-redl/redcfg"
	"github.com/railgo/rasta-redl/redmsg"
	"github.com/railgo/rasta-redl/redtyp"
)

// fakeTransport is an in-memory loopback: Send appends to the same
// per-transport inbox that Read pops the oldest queued datagram from. It never errors; a missing entry just reports ok=false.
type fakeTransport struct {
	inbox map[uint32][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(map[uint32][][]byte)}
}

func (f *fakeTransport) Send(transportID uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.inbox[transportID] = append(f.inbox[transportID], cp)
}

func (f *fakeTransport) Read(transportID uint32, buf []byte) (int, bool) {
	q := f.inbox[transportID]
	if len(q) == 0 {
		return 0, false
	}
	head := q[0]
	f.inbox[transportID] = q[1:]
	n := copy(buf, head)
	return n, true
}

// deliver hands data directly to transportID's inbox, as if it arrived
// over the wire from a peer.
func (f *fakeTransport) deliver(transportID uint32, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.inbox[transportID] = append(f.inbox[transportID], cp)
}

func payload(n byte) []byte {
	p := make([]byte, redtyp.MinPayloadSize)
	for i := range p {
		p[i] = n
	}
	return p
}

func testConfig(t *testing.T) redcfg.Config {
	t.Helper()
	ch, err := redcfg.NewChannelConfig(0, []uint32{0, 1})
	if err != nil {
		t.Fatalf("NewChannelConfig: %v", err)
	}
	cfg, err := redcfg.NewConfig(redtyp.CheckCodeA, 50, 10, 4, []redcfg.ChannelConfig{ch})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func newTestCore(t *testing.T) (*Core, *fakeTransport, []reddia.Notification) {
	t.Helper()
	transport := newFakeTransport()
	var notifications []reddia.Notification
	var delivered []uint32

	fatal := func(code redtyp.FatalCode) {
		t.Fatalf("unexpected fatal error: %v", code)
	}

	c, err := New(testConfig(t), transport,
		func(channelID uint32) { delivered = append(delivered, channelID) },
		func(n reddia.Notification) { notifications = append(notifications, n) },
		fatal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Open(0)
	return c, transport, notifications
}

// peerCodec builds raw wire PDUs as if sent by a remote peer, without
// going through Core, so tests can inject arbitrary sequence numbers.
func peerCodec(t *testing.T) redmsg.Codec {
	t.Helper()
	codec, err := redmsg.NewCodec(redtyp.CheckCodeA)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestInOrderDelivery(t *testing.T) {
	c, transport, _ := newTestCore(t)
	codec := peerCodec(t)

	// CheckTimings only drains one pending PDU per transport per call,
	// so each arrival needs its own tick.
	for seq := uint32(0); seq < 3; seq++ {
		pdu := codec.Build(seq, payload(byte(seq)))
		transport.deliver(0, pdu.Data)
		c.SetPending(0, 0)
		c.CheckTimings(0)
	}

	if got := c.SeqRx(0); got != 3 {
		t.Fatalf("expected seq_rx 3 after three in-order deliveries, got %d", got)
	}
}

func TestOutOfOrderThenRecovery(t *testing.T) {
	c, transport, _ := newTestCore(t)
	codec := peerCodec(t)

	// Sequence 0 first, establishing seq_rx = 1: a first PDU carrying a
	// non-zero sequence number would instead hit the initial-state drop,
	// so the out-of-order scenario has to start from an already-open,
	// already-synchronized channel.
	transport.deliver(0, codec.Build(0, payload(0)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)
	if got := c.SeqRx(0); got != 1 {
		t.Fatalf("expected seq_rx 1 after the first in-order PDU, got %d", got)
	}

	// Sequence 2 arrives ahead of 1: it should buffer in the defer queue
	// rather than advance seq_rx.
	transport.deliver(0, codec.Build(2, payload(2)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)
	if got := c.SeqRx(0); got != 1 {
		t.Fatalf("seq_rx should stay at 1 while sequence 2 is buffered, got %d", got)
	}

	// Now deliver 1: it fills the gap and should drain the contiguous
	// run 1, 2 from the defer queue in the same pass.
	transport.deliver(0, codec.Build(1, payload(1)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)
	if got := c.SeqRx(0); got != 3 {
		t.Fatalf("expected seq_rx 3 after recovery drain, got %d", got)
	}
}

func TestDeferQueueTimeoutAdvancesPastGap(t *testing.T) {
	c, transport, _ := newTestCore(t)
	codec := peerCodec(t)

	// Establish seq_rx = 1, then let sequence 2 arrive ahead of 1, leaving
	// a gap at 1 that never gets filled.
	transport.deliver(0, codec.Build(0, payload(0)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)

	transport.deliver(0, codec.Build(2, payload(2)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)
	if got := c.SeqRx(0); got != 1 {
		t.Fatalf("expected seq_rx 1 before timeout, got %d", got)
	}

	// Advance time past t_seq (50) with nothing else arriving: CheckTimings
	// should fire the defer queue timeout, jumping seq_rx to the buffered
	// sequence 2 and draining it.
	c.CheckTimings(51)
	if got := c.SeqRx(0); got != 3 {
		t.Fatalf("expected seq_rx 3 after defer queue timeout, got %d", got)
	}
}

func TestDuplicateAcrossTwoTransportsDoesNotAdvanceSeqRx(t *testing.T) {
	c, transport, _ := newTestCore(t)
	codec := peerCodec(t)

	pdu := codec.Build(0, payload(0))
	transport.deliver(0, pdu.Data)
	c.SetPending(0, 0)
	c.CheckTimings(100)

	transport.deliver(1, pdu.Data)
	c.SetPending(0, 1)
	c.CheckTimings(110)

	if got := c.SeqRx(0); got != 1 {
		t.Fatalf("expected seq_rx 1 after the first (non-duplicate) arrival, got %d", got)
	}
}

func TestInitialStateDropsNonZeroFirstSequence(t *testing.T) {
	c, transport, _ := newTestCore(t)
	codec := peerCodec(t)

	transport.deliver(0, codec.Build(5, payload(5)).Data)
	c.SetPending(0, 0)
	c.CheckTimings(0)

	if got := c.SeqRx(0); got != 0 {
		t.Fatalf("expected seq_rx to remain 0 after a non-zero first sequence, got %d", got)
	}
}

func TestInvalidCRCIsSilentlyDropped(t *testing.T) {
	transport := newFakeTransport()
	ch, err := redcfg.NewChannelConfig(0, []uint32{0, 1})
	if err != nil {
		t.Fatalf("NewChannelConfig: %v", err)
	}
	cfg, err := redcfg.NewConfig(redtyp.CheckCodeD, 50, 10, 4, []redcfg.ChannelConfig{ch})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	fatal := func(code redtyp.FatalCode) { t.Fatalf("unexpected fatal error: %v", code) }
	c, err := New(cfg, transport, nil, nil, fatal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Open(0)

	codec, err := redmsg.NewCodec(redtyp.CheckCodeD)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	pdu := codec.Build(0, payload(0))
	corrupted := append([]byte(nil), pdu.Data...)
	corrupted[len(corrupted)-1] ^= 0xFF // flip a check-code bit

	transport.deliver(0, corrupted)
	c.SetPending(0, 0)
	c.CheckTimings(0)

	if got := c.SeqRx(0); got != 0 {
		t.Fatalf("expected seq_rx to remain 0 after a corrupted PDU, got %d", got)
	}
}

func TestSendBroadcastsToAllConfiguredTransports(t *testing.T) {
	c, transport, _ := newTestCore(t)

	if err := c.SendMessage(0, payload(7)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	for _, tid := range []uint32{0, 1} {
		if len(transport.inbox[tid]) != 1 {
			t.Fatalf("expected one outbound PDU on transport %d, got %d", tid, len(transport.inbox[tid]))
		}
	}
	if got := c.SeqTx(0); got != 1 {
		t.Fatalf("expected seq_tx 1 after one send, got %d", got)
	}
}

func TestSendRejectsWhenChannelClosed(t *testing.T) {
	transport := newFakeTransport()
	cfg := testConfig(t)
	fatal := func(code redtyp.FatalCode) { t.Fatalf("unexpected fatal error: %v", code) }
	c, err := New(cfg, transport, nil, nil, fatal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.SendMessage(0, payload(1)); err == nil {
		t.Fatal("expected an error sending on a closed channel")
	}
}

func TestReadRejectsOutOfRangeBufferSize(t *testing.T) {
	c, _, _ := newTestCore(t)

	if _, err := c.Read(0, make([]byte, redtyp.MinPayloadSize-1)); err != redtyp.ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for a too-small dst, got %v", err)
	}
	if _, err := c.Read(0, make([]byte, redtyp.MaxPayloadSize+1)); err != redtyp.ErrInvalidParameter {
		t.Fatalf("expected ErrInvalidParameter for an oversized dst, got %v", err)
	}
	if _, err := c.Read(0, make([]byte, redtyp.MinPayloadSize)); err != redtyp.ErrNoMessageReceived {
		t.Fatalf("expected ErrNoMessageReceived for a validly-sized dst with nothing buffered, got %v", err)
	}
}
