// Package reddia implements the per-channel Diagnostics module: a rolling
// window of n_diagnosis distinct sequence numbers used to compute, per
// transport, a missed-message count and cumulative arrival-time drift.
package reddia

import (
	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/redlog"
	"github.com/railgo/rasta-redl/redtyp"
)

// Notification is the per-transport diagnostic data emitted once the
// n_diagnosis window fills and is reset. DriftMin/DriftMax are an
// additive supplement to the mandated fields (see SPEC_FULL.md §5.4), tracked
// incrementally at no extra pass over the window.
type Notification struct {
	ChannelID   int
	TransportID uint32
	NDiagnosis  int
	NMissed     int
	TDrift      uint64
	TDrift2     uint64
	DriftMin    uint32
	DriftMax    uint32
}

// NotifyFunc delivers a diagnostic notification to the SafRetL adapter.
type NotifyFunc func(Notification)

type slot struct {
	sequenceNumber uint32
	firstReceived  uint32
	receivedFlag   []bool
}

// Diagnostics tracks the rolling diagnosis window for one redundancy
// channel. The zero value is not usable; construct with New.
type Diagnostics struct {
	channelID    int
	nDiagnosis   int
	transportIDs []uint32

	slots    []slot
	tDrift   []uint64
	tDrift2  []uint64
	driftMin []uint32
	driftMax []uint32
	hasDrift []bool

	notify NotifyFunc
	fatal  redtyp.FatalErrorFunc
	logger *zap.Logger
}

// New constructs a Diagnostics window for one redundancy channel.
// transportIDs is the channel's configured list of transport channel ids,
// in the order diagnostics are reported for them.
func New(channelID, nDiagnosis int, transportIDs []uint32, notify NotifyFunc, fatal redtyp.FatalErrorFunc, logger *zap.Logger) *Diagnostics {
	d := &Diagnostics{
		channelID:    channelID,
		nDiagnosis:   nDiagnosis,
		transportIDs: append([]uint32(nil), transportIDs...),
		notify:       notify,
		fatal:        fatal,
		logger:       redlog.Or(logger),
	}
	d.resetWindow()
	return d
}

// Update records the arrival of sequenceNumber on transportID at time now
// and, if the n_diagnosis window was already full, emits one Notification
// per configured transport before resetting.
func (d *Diagnostics) Update(transportID, sequenceNumber, now, tSeq uint32) {
	idx := d.localIndex(transportID)
	if idx < 0 {
		d.fail(redtyp.FatalInvalidParameter)
		return
	}

	for i := range d.slots {
		if d.slots[i].sequenceNumber != sequenceNumber {
			continue
		}
		delta := now - d.slots[i].firstReceived
		if delta <= tSeq {
			d.tDrift[idx] += uint64(delta)
			d.tDrift2[idx] += uint64(delta) * uint64(delta)
			d.updateMinMax(idx, delta)
			d.slots[i].receivedFlag[idx] = true
		}
		return
	}

	if len(d.slots) >= d.nDiagnosis {
		d.emitAndReset()
	}

	s := slot{
		sequenceNumber: sequenceNumber,
		firstReceived:  now,
		receivedFlag:   make([]bool, len(d.transportIDs)),
	}
	s.receivedFlag[idx] = true
	d.slots = append(d.slots, s)

	if len(d.slots) > d.nDiagnosis {
		d.fail(redtyp.FatalInternalError)
	}
}

// CurrentSize returns the number of distinct sequence numbers currently
// recorded in the window.
func (d *Diagnostics) CurrentSize() int {
	return len(d.slots)
}

func (d *Diagnostics) localIndex(transportID uint32) int {
	for i, id := range d.transportIDs {
		if id == transportID {
			return i
		}
	}
	return -1
}

func (d *Diagnostics) updateMinMax(idx int, delta uint32) {
	if !d.hasDrift[idx] {
		d.driftMin[idx] = delta
		d.driftMax[idx] = delta
		d.hasDrift[idx] = true
		return
	}
	if delta < d.driftMin[idx] {
		d.driftMin[idx] = delta
	}
	if delta > d.driftMax[idx] {
		d.driftMax[idx] = delta
	}
}

func (d *Diagnostics) emitAndReset() {
	nDiagnosis := len(d.slots)
	for i, tid := range d.transportIDs {
		nMissed := 0
		for _, s := range d.slots {
			if !s.receivedFlag[i] {
				nMissed++
			}
		}
		if d.notify != nil {
			d.notify(Notification{
				ChannelID:   d.channelID,
				TransportID: tid,
				NDiagnosis:  nDiagnosis,
				NMissed:     nMissed,
				TDrift:      d.tDrift[i],
				TDrift2:     d.tDrift2[i],
				DriftMin:    d.driftMin[i],
				DriftMax:    d.driftMax[i],
			})
		}
	}
	d.logger.Debug("diagnostic window full, resetting",
		zap.Int("channel_id", d.channelID), zap.Int("n_diagnosis", nDiagnosis))
	d.resetWindow()
}

func (d *Diagnostics) resetWindow() {
	n := len(d.transportIDs)
	d.slots = d.slots[:0]
	d.tDrift = make([]uint64, n)
	d.tDrift2 = make([]uint64, n)
	d.driftMin = make([]uint32, n)
	d.driftMax = make([]uint32, n)
	d.hasDrift = make([]bool, n)
}

func (d *Diagnostics) fail(code redtyp.FatalCode) {
	d.logger.Error("diagnostics invariant violated", zap.String("reason", code.String()))
	if d.fatal != nil {
		d.fatal(code)
	}
}
