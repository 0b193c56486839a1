// Package redint is the upper-layer facade of the redundancy layer: the
// seven operations a SafRetL adapter drives (init, initialization_state,
// open, close, send, read, check_timings), wrapping redcor.Core and
// translating its Tier-1 errors into the sentinel taxonomy in redtyp.
package redint

import (
	"sync"

	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/reddia"
	"github.com/railgo/rasta-redl/redcfg"
	"github.com/railgo/rasta-redl/redcor"
	"github.com/railgo/rasta-redl/redtyp"
)

// SystemAdapter bundles the two host primitives every redundancy layer
// requires — a monotonic millisecond clock and a Tier-3 fatal-error sink —
// plus an optional logger and optional metrics sink. Only NowMillis and
// FatalError are mandatory; Logger and Metrics default to safe no-ops, so
// an adapter satisfying only the two required functions is still valid.
type SystemAdapter struct {
	NowMillis  func() uint32
	FatalError redtyp.FatalErrorFunc
	Logger     *zap.Logger
	Metrics    redcor.Metrics
}

func (a SystemAdapter) validate() error {
	if a.NowMillis == nil || a.FatalError == nil {
		return redtyp.ErrInvalidParameter
	}
	return nil
}

// Layer is one instance of the redundancy layer's upper-layer facade. The
// zero value is not usable; construct with New. A Layer starts
// uninitialized — Init must be called before Open/Close/Send/Read/
// CheckTimings will do anything but return ErrNotInitialized.
type Layer struct {
	mu      sync.Mutex
	adapter SystemAdapter

	onMessageReceived func(channelID uint32)
	onDiagnostic      func(reddia.Notification)

	core *redcor.Core
}

// New constructs an uninitialized Layer. onMessageReceived and
// onDiagnostic are the two upper-layer callbacks a host registers to
// learn that a payload arrived or a diagnostic window closed; either may
// be nil if the host does not care about that notification.
func New(adapter SystemAdapter, onMessageReceived func(channelID uint32), onDiagnostic func(reddia.Notification)) (*Layer, error) {
	if err := adapter.validate(); err != nil {
		return nil, err
	}
	return &Layer{
		adapter:           adapter,
		onMessageReceived: onMessageReceived,
		onDiagnostic:      onDiagnostic,
	}, nil
}

// Init validates configuration and wires up the redundancy channels over
// transport. Returns ErrAlreadyInitialized if called twice on the same
// Layer.
func (l *Layer) Init(cfg redcfg.Config, transport redcor.Transport) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.core != nil {
		return redtyp.ErrAlreadyInitialized
	}

	for _, ch := range cfg.Channels {
		if _, err := redcfg.NewChannelConfig(ch.RedChannelID, ch.TransportChannelIDs); err != nil {
			return err
		}
	}
	if _, err := redcfg.NewConfig(cfg.CheckCodeType, cfg.TSeq, cfg.NDiagnosis, cfg.NDeferQueueSize, cfg.Channels); err != nil {
		return err
	}

	core, err := redcor.New(cfg, transport, l.onMessageReceived, l.onDiagnostic, l.adapter.FatalError,
		redcor.WithLogger(l.adapter.Logger), redcor.WithMetrics(l.adapter.Metrics))
	if err != nil {
		return err
	}
	l.core = core
	return nil
}

// InitializationState reports whether Init has succeeded on this Layer.
func (l *Layer) InitializationState() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.core == nil {
		return redtyp.ErrNotInitialized
	}
	return nil
}

// Open opens redundancy_channel_id: a Closed channel has its runtime state
// reset and moves to Up; Open on a channel already Up has no effect.
func (l *Layer) Open(channelID uint32) error {
	core, err := l.requireInit(channelID)
	if err != nil {
		return err
	}
	core.Open(channelID)
	return nil
}

// Close closes redundancy_channel_id: an Up channel has its runtime state
// reset and moves to Closed; Close on a channel already Closed has no
// effect.
func (l *Layer) Close(channelID uint32) error {
	core, err := l.requireInit(channelID)
	if err != nil {
		return err
	}
	core.Close(channelID)
	return nil
}

// Send broadcasts payload over redundancy_channel_id. payload must be
// between MinPayloadSize and MaxPayloadSize bytes, and the channel must
// currently be Up.
func (l *Layer) Send(channelID uint32, payload []byte) error {
	core, err := l.requireInit(channelID)
	if err != nil {
		return err
	}
	return core.SendMessage(channelID, payload)
}

// Read copies the oldest unread payload on redundancy_channel_id into
// dst. dst's length must lie in [MinPayloadSize, MaxPayloadSize], or this
// returns ErrInvalidParameter; ErrNoMessageReceived if nothing is
// buffered; ErrInvalidBufferSize if dst is a valid size but still smaller
// than the buffered payload.
func (l *Layer) Read(channelID uint32, dst []byte) (int, error) {
	core, err := l.requireInit(channelID)
	if err != nil {
		return 0, err
	}
	return core.Read(channelID, dst)
}

// TransportMessageReceived is the entry point a transport invokes when it
// has received data for transportID. It looks up the redundancy
// channel transportID belongs to and flags it pending for the next
// CheckTimings call.
func (l *Layer) TransportMessageReceived(transportID uint32) error {
	l.mu.Lock()
	core := l.core
	l.mu.Unlock()
	if core == nil {
		return redtyp.ErrNotInitialized
	}
	channelID, ok := core.AssociatedRedChannel(transportID)
	if !ok {
		return redtyp.ErrInvalidParameter
	}
	core.SetPending(channelID, transportID)
	return nil
}

// CheckTimings runs the periodic duty described on redcor.Core.CheckTimings
// for every configured channel. A host is expected to call this at a
// fixed interval appropriate to the layer's configured t_seq.
func (l *Layer) CheckTimings() error {
	l.mu.Lock()
	core := l.core
	l.mu.Unlock()
	if core == nil {
		return redtyp.ErrNotInitialized
	}
	core.CheckTimings(l.adapter.NowMillis())
	return nil
}

// requireInit returns the Layer's Core and validates channelID against it,
// returning the Tier-1 errors the upper-layer API table promises for every
// per-channel operation.
func (l *Layer) requireInit(channelID uint32) (*redcor.Core, error) {
	l.mu.Lock()
	core := l.core
	l.mu.Unlock()

	if core == nil {
		return nil, redtyp.ErrNotInitialized
	}
	if int(channelID) >= core.NumChannels() {
		return nil, redtyp.ErrInvalidParameter
	}
	return core, nil
}
