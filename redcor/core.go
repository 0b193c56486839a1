// Package redcor implements the Core of the redundancy layer: one runtime
// record per configured channel (SeqTx/SeqRx, pending flags, defer queue,
// received buffer, diagnostics, state machine), the ingress classifier
// that is the heart of the protocol, and egress broadcast.
//
// Core is single-threaded cooperative by design: it mandates no
// internal goroutines and no reentrancy. Every exported method runs to
// completion on the caller's goroutine; concurrent calls into the same
// Core require external synchronization, which Core does not provide.
package redcor

import (
	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/reddfq"
	"github.com/railgo/rasta-redl/reddia"
	"github.com/railgo/rasta-redl/redcfg"
	"github.com/railgo/rasta-redl/redlog"
	"github.com/railgo/rasta-redl/redmsg"
	"github.com/railgo/rasta-redl/redrbf"
	"github.com/railgo/rasta-redl/redstm"
	"github.com/railgo/rasta-redl/redtyp"
)

// sequenceNumberRangeCheckFactor is the protocol constant defining the
// width, in multiples of n_defer_queue_size, of the acceptable future
// window a sequence number may fall into before Core buffers it instead
// of dropping it outright.
const sequenceNumberRangeCheckFactor = redtyp.SequenceNumberRangeCheckFactor

// Transport is the contract Core requires from the transport layer:
// fire-and-forget send, and a non-blocking read that reports "no message"
// rather than blocking when a transport channel is empty.
type Transport interface {
	Send(transportID uint32, data []byte)
	Read(transportID uint32, buf []byte) (n int, ok bool)
}

// Metrics is an optional host-provided sink for drop/diagnostic counters.
// Core never imports a concrete metrics library itself; a host wires
// whatever sink it wants (Prometheus or otherwise) behind this interface.
type Metrics interface {
	IncDropped(channelID uint32, reason string)
	ObserveDiagnostic(n reddia.Notification)
}

type inputSlot struct {
	present      bool
	transportID  uint32
	data         []byte
}

type sendSlot struct {
	present bool
	payload []byte
}

type channel struct {
	id           uint32
	transportIDs []uint32

	machine redstm.Machine

	seqTx uint32
	seqRx uint32

	pendingByTransport  map[uint32]bool
	lastTransportIndex  int
	input               inputSlot
	send                sendSlot
	deferQueue          *reddfq.DeferQueue
	receivedBuffer      *redrbf.ReceivedBuffer
	diagnostics         *reddia.Diagnostics
}

// Core owns every redundancy channel's runtime state for one configured
// redundancy layer.
type Core struct {
	cfg       redcfg.Config
	codec     redmsg.Codec
	channels  []*channel
	transport Transport

	onMessageReceived func(channelID uint32)
	onDiagnostic      func(reddia.Notification)
	metrics           Metrics
	fatal             redtyp.FatalErrorFunc
	logger            *zap.Logger
}

// Option configures optional Core behaviour at construction time.
type Option func(*Core)

// WithMetrics wires an optional counting sink; there is no default
// implementation, so this stays an abstract interface a host can satisfy
// however it likes (Prometheus or otherwise).
func WithMetrics(m Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// WithLogger wires a structured logger for wire-level trace events. The
// default is a no-op logger, so Core is silent unless a host opts in.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) { c.logger = redlog.Or(logger) }
}

// New constructs a Core for the given validated configuration. Fatal is
// invoked for every Tier-3 programming-error precondition documented on
// the methods below; it must not be nil in a production wiring, though
// tests may supply one that merely records the call without terminating.
func New(cfg redcfg.Config, transport Transport, onMessageReceived func(channelID uint32), onDiagnostic func(reddia.Notification), fatal redtyp.FatalErrorFunc, opts ...Option) (*Core, error) {
	codec, err := redmsg.NewCodec(cfg.CheckCodeType)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:               cfg,
		codec:             codec,
		transport:         transport,
		onMessageReceived: onMessageReceived,
		onDiagnostic:      onDiagnostic,
		fatal:             fatal,
		logger:            redlog.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, chCfg := range cfg.Channels {
		ch := &channel{
			id:                 chCfg.RedChannelID,
			transportIDs:       append([]uint32(nil), chCfg.TransportChannelIDs...),
			pendingByTransport: make(map[uint32]bool, len(chCfg.TransportChannelIDs)),
		}
		c.channels = append(c.channels, ch)
		c.initChannelData(ch)
	}

	return c, nil
}

// NumChannels returns the number of configured redundancy channels.
func (c *Core) NumChannels() int {
	return len(c.channels)
}

// channelByID returns the channel record for id, or nil if id is out of
// range. Every exported method that indexes by channel id treats an
// out-of-range id as a Tier-3 programming error, matching the source's
// raas_AssertU32InRange preconditions on redundancy_channel_id.
func (c *Core) channelByID(id uint32) *channel {
	if int(id) >= len(c.channels) {
		return nil
	}
	return c.channels[id]
}

// initChannelData resets a channel's runtime state to its just-opened
// form: zeroed sequence numbers, cleared pending flags and buffers, fresh
// defer queue/received buffer/diagnostics instances. Corresponds to
// redcor_InitRedundancyChannelData, invoked on every Open/Close
// transition of that channel: only the channel being opened or closed is
// reinitialized.
func (c *Core) initChannelData(ch *channel) {
	ch.seqTx = 0
	ch.seqRx = 0
	ch.lastTransportIndex = 0
	ch.input = inputSlot{}
	ch.send = sendSlot{}
	for _, tid := range ch.transportIDs {
		ch.pendingByTransport[tid] = false
	}
	ch.deferQueue = reddfq.New(int(c.cfg.NDeferQueueSize), c.fatal, c.logger)
	ch.receivedBuffer = redrbf.New(redtyp.MaxNSendMax, c.fatal)
	ch.diagnostics = reddia.New(int(ch.id), int(c.cfg.NDiagnosis), ch.transportIDs, c.wrapDiagnostic(ch.id), c.fatal, c.logger)
}

func (c *Core) wrapDiagnostic(channelID uint32) reddia.NotifyFunc {
	return func(n reddia.Notification) {
		n.ChannelID = int(channelID)
		if c.metrics != nil {
			c.metrics.ObserveDiagnostic(n)
		}
		if c.onDiagnostic != nil {
			c.onDiagnostic(n)
		}
	}
}

// Open drives the EventOpen transition for channelID: Closed -> Up, with
// per-channel runtime state reset as a side effect.
func (c *Core) Open(channelID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	if action := ch.machine.Process(redstm.EventOpen); action == redstm.ActionInitChannelToUp {
		c.initChannelData(ch)
	}
}

// Close drives the EventClose transition for channelID: Up -> Closed,
// with per-channel runtime state reset as a side effect.
func (c *Core) Close(channelID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	if action := ch.machine.Process(redstm.EventClose); action == redstm.ActionInitChannelToClosed {
		c.initChannelData(ch)
	}
}

// State returns the current state machine state of channelID.
func (c *Core) State(channelID uint32) redstm.State {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return redstm.StateClosed
	}
	return ch.machine.State()
}

// SeqRx and SeqTx expose a channel's current sequence counters, primarily
// for tests and demo introspection.
func (c *Core) SeqRx(channelID uint32) uint32 {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return 0
	}
	return ch.seqRx
}

func (c *Core) SeqTx(channelID uint32) uint32 {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return 0
	}
	return ch.seqTx
}

// AssociatedRedChannel returns the redundancy channel id that transportID
// belongs to. This is the lookup used by a transport's
// message-received-notification entry point. Fatal if transportID is not
// configured on any channel.
func (c *Core) AssociatedRedChannel(transportID uint32) (channelID uint32, ok bool) {
	for _, ch := range c.channels {
		for _, tid := range ch.transportIDs {
			if tid == transportID {
				return ch.id, true
			}
		}
	}
	c.fail(redtyp.FatalInvalidParameter)
	return 0, false
}

// SetPending marks transportID as having a message waiting to be drained
// on channelID's next CheckTimings call. This is the entry point a
// transport invokes when it has received data.
func (c *Core) SetPending(channelID, transportID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	ch.pendingByTransport[transportID] = true
}

// GetPending reports whether transportID is currently flagged pending on
// channelID.
func (c *Core) GetPending(channelID, transportID uint32) bool {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return false
	}
	return ch.pendingByTransport[transportID]
}

// ClearPending clears transportID's pending flag on channelID.
func (c *Core) ClearPending(channelID, transportID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	ch.pendingByTransport[transportID] = false
}

// WriteInput copies data into channelID's input buffer, tagged with the
// transport it arrived on. Fatal if a message is already pending there
// (Core always processes and clears the input buffer before the next
// write, so two writes without an intervening process is a programming
// error upstream).
func (c *Core) WriteInput(channelID, transportID uint32, data []byte) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	if ch.input.present {
		c.fail(redtyp.FatalInternalError)
		return
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	ch.input = inputSlot{present: true, transportID: transportID, data: stored}
}

// ClearInputPending discards channelID's buffered input message, if any,
// without processing it.
func (c *Core) ClearInputPending(channelID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	ch.input = inputSlot{}
}

// ReceiveData drives the EventReceiveData transition, which — when
// channelID is Up — invokes the ingress classifier against whatever PDU
// is currently in the input buffer.
func (c *Core) ReceiveData(channelID uint32, now uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	if action := ch.machine.Process(redstm.EventReceiveData); action == redstm.ActionProcessReceived {
		c.processReceived(ch, now)
	}
}

// processReceived is the ingress classifier: the heart of the protocol.
// Branch order and diagnostics-update conditions mirror
// redcor_ProcessReceivedMessage exactly (original_source/redcor_red_core.c).
func (c *Core) processReceived(ch *channel, now uint32) {
	if !ch.input.present {
		c.fail(redtyp.FatalNoMessageReceived)
		return
	}
	transportID := ch.input.transportID
	data := ch.input.data
	ch.input = inputSlot{}

	pdu, ok := c.codec.ParseAndVerify(data)
	if !ok {
		// Tier 2: bad CRC or malformed length. Diagnostics are not
		// updated for this case, by design.
		c.countDrop(ch.id, "invalid_crc")
		return
	}

	p := redmsg.SequenceNumber(pdu)

	if ch.seqRx == 0 && ch.seqTx == 0 && p != 0 {
		// Initial-state enforcement: the very first PDU on a freshly
		// opened channel must carry sequence number 0.
		c.countDrop(ch.id, "initial_state")
		return
	}

	if reddfq.IsSequenceNumberOlder(p, ch.seqRx) {
		ch.diagnostics.Update(transportID, p, now, c.cfg.TSeq)
		c.countDrop(ch.id, "older_than_seq_rx")
		return
	}

	if p == ch.seqRx {
		payload := redmsg.Payload(pdu, c.cfg.CheckCodeType)
		ch.receivedBuffer.Add(payload)
		c.notifyMessageReceived(ch.id)
		ch.diagnostics.Update(transportID, p, now, c.cfg.TSeq)
		ch.seqRx++
		c.drainDeferQueue(ch)
		return
	}

	futureBoundary := ch.seqRx + sequenceNumberRangeCheckFactor*c.cfg.NDeferQueueSize + 1
	if reddfq.IsSequenceNumberOlder(p, futureBoundary) {
		if ch.deferQueue.Contains(p) {
			ch.diagnostics.Update(transportID, p, now, c.cfg.TSeq)
			c.countDrop(ch.id, "duplicate_in_defer_queue")
			return
		}
		ch.deferQueue.Add(p, pdu, now)
		ch.diagnostics.Update(transportID, p, now, c.cfg.TSeq)
		return
	}

	// Too far ahead: silent drop, no diagnostics.
	c.countDrop(ch.id, "too_far_ahead")
}

// drainDeferQueue delivers the contiguous prefix of the defer queue whose
// sequence numbers match the successive seq_rx values, starting at the
// channel's current seq_rx.
func (c *Core) drainDeferQueue(ch *channel) {
	for ch.deferQueue.Contains(ch.seqRx) {
		pdu := ch.deferQueue.Get(ch.seqRx)
		payload := redmsg.Payload(pdu, c.cfg.CheckCodeType)
		ch.receivedBuffer.Add(payload)
		c.notifyMessageReceived(ch.id)
		ch.seqRx++
	}
}

// DeferTimeout drives the EventDeferTimeout transition: jumps seq_rx to
// the defer queue's oldest buffered sequence number and drains the
// contiguous prefix from there.
func (c *Core) DeferTimeout(channelID uint32) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return
	}
	if action := ch.machine.Process(redstm.EventDeferTimeout); action == redstm.ActionDeferQueueTimeout {
		c.deferQueueTimeout(ch)
	}
}

func (c *Core) deferQueueTimeout(ch *channel) {
	if ch.deferQueue.UsedEntries() == 0 {
		return
	}
	ch.seqRx = ch.deferQueue.OldestSequenceNumber()
	c.drainDeferQueue(ch)
}

// SendMessage drives the EventSendData transition: encodes payload with
// the channel's current seq_tx and broadcasts it to every transport
// configured on the channel, then increments seq_tx.
func (c *Core) SendMessage(channelID uint32, payload []byte) error {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return redtyp.ErrInvalidParameter
	}
	if len(payload) < redtyp.MinPayloadSize || len(payload) > redtyp.MaxPayloadSize {
		return redtyp.ErrInvalidMessageSize
	}
	if ch.machine.State() != redstm.StateUp {
		return redtyp.ErrInvalidOperationInState
	}

	ch.send = sendSlot{present: true, payload: payload}
	if action := ch.machine.Process(redstm.EventSendData); action == redstm.ActionSend {
		c.send(ch)
	}
	return nil
}

func (c *Core) send(ch *channel) {
	if !ch.send.present {
		c.fail(redtyp.FatalInternalError)
		return
	}
	pdu := c.codec.Build(ch.seqTx, ch.send.payload)
	ch.send = sendSlot{}

	for _, tid := range ch.transportIDs {
		c.transport.Send(tid, pdu.Data)
	}
	ch.seqTx++
}

// Read copies the oldest unread payload on channelID into dst. dst's
// length must itself lie within [MinPayloadSize, MaxPayloadSize] —
// violating that static precondition returns ErrInvalidParameter, distinct
// from ErrInvalidBufferSize, which is returned when dst is a valid size
// but still too small for the specific payload buffered. Returns
// ErrNoMessageReceived if nothing is buffered, leaving a too-small dst's
// payload in place for a subsequent call with a larger buffer.
func (c *Core) Read(channelID uint32, dst []byte) (int, error) {
	ch := c.mustChannel(channelID)
	if ch == nil {
		return 0, redtyp.ErrInvalidParameter
	}
	if len(dst) < redtyp.MinPayloadSize || len(dst) > redtyp.MaxPayloadSize {
		return 0, redtyp.ErrInvalidParameter
	}
	n, result := ch.receivedBuffer.Read(dst)
	switch result {
	case redrbf.ReadOk:
		return n, nil
	case redrbf.ReadTooSmall:
		return 0, redtyp.ErrInvalidBufferSize
	default:
		return 0, redtyp.ErrNoMessageReceived
	}
}

// CheckTimings runs the periodic duty a host is expected to call at a
// fixed interval: for every channel in Up, drains pending transport input
// round-robin (resuming from the last visited index, never restarting at
// transport 0) and checks the defer queue timeout; for every other
// channel, drains and discards whatever the transports have buffered so
// they don't stall waiting for a channel that isn't accepting data.
func (c *Core) CheckTimings(now uint32) {
	for _, ch := range c.channels {
		if ch.machine.State() == redstm.StateUp {
			c.drainChannelInput(ch, now)
			if ch.deferQueue.IsTimeout(now, c.cfg.TSeq) {
				c.DeferTimeout(ch.id)
			}
		} else {
			c.discardPendingInput(ch)
		}
	}
}

// drainChannelInput performs one round-robin scan over ch's transports,
// reading and processing at most one PDU per pending transport, as long
// as the received buffer has more free capacity than the defer queue has
// used entries (the back-pressure rule).
func (c *Core) drainChannelInput(ch *channel, now uint32) {
	n := len(ch.transportIDs)
	if n == 0 {
		return
	}

	idx := ch.lastTransportIndex
	for scanned := 0; scanned < n; scanned++ {
		if !(ch.receivedBuffer.Free() > int(ch.deferQueue.UsedEntries())) {
			break
		}

		tid := ch.transportIDs[idx]
		if ch.pendingByTransport[tid] {
			buf := make([]byte, redtyp.MaxPDUSize)
			if nRead, ok := c.transport.Read(tid, buf); ok {
				c.WriteInput(ch.id, tid, buf[:nRead])
				c.ReceiveData(ch.id, now)
			}
			ch.pendingByTransport[tid] = false
		}
		idx = (idx + 1) % n
	}
	ch.lastTransportIndex = idx
}

// discardPendingInput drains and throws away whatever each transport on
// ch has buffered, for channels not currently Up.
func (c *Core) discardPendingInput(ch *channel) {
	buf := make([]byte, redtyp.MaxPDUSize)
	for _, tid := range ch.transportIDs {
		for {
			if _, ok := c.transport.Read(tid, buf); !ok {
				break
			}
		}
		ch.pendingByTransport[tid] = false
	}
}

func (c *Core) notifyMessageReceived(channelID uint32) {
	if c.onMessageReceived != nil {
		c.onMessageReceived(channelID)
	}
}

func (c *Core) countDrop(channelID uint32, reason string) {
	c.logger.Debug("dropped PDU", zap.Uint32("channel_id", channelID), zap.String("reason", reason))
	if c.metrics != nil {
		c.metrics.IncDropped(channelID, reason)
	}
}

// mustChannel resolves channelID, invoking the fatal handler and
// returning nil if it is out of range. Every public method above treats
// an out-of-range channel id as a Tier-3 programming error, matching the
// source's raas_AssertU32InRange preconditions.
func (c *Core) mustChannel(channelID uint32) *channel {
	ch := c.channelByID(channelID)
	if ch == nil {
		c.fail(redtyp.FatalInvalidParameter)
	}
	return ch
}

func (c *Core) fail(code redtyp.FatalCode) {
	c.logger.Error("core invariant violated", zap.String("reason", code.String()))
	if c.fatal != nil {
		c.fatal(code)
	}
}
