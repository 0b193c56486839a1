package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/railgo/rasta-redl/reddia"
)

// countingMetrics is a trivial redcor.Metrics sink that tallies drops by
// reason and logs each diagnostic notification as it arrives.
type countingMetrics struct {
	logger *zap.Logger

	mu      sync.Mutex
	dropped map[string]uint64
}

func newCountingMetrics(logger *zap.Logger) *countingMetrics {
	return &countingMetrics{logger: logger, dropped: make(map[string]uint64)}
}

func (m *countingMetrics) IncDropped(channelID uint32, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
	m.logger.Debug("pdu dropped", zap.Uint32("channel_id", channelID), zap.String("reason", reason))
}

func (m *countingMetrics) ObserveDiagnostic(n reddia.Notification) {
	m.logger.Info("diagnostic window closed",
		zap.Int("channel_id", n.ChannelID),
		zap.Uint32("transport_id", n.TransportID),
		zap.Int("n_diagnosis", n.NDiagnosis),
		zap.Int("n_missed", n.NMissed),
		zap.Uint32("drift_min", n.DriftMin),
		zap.Uint32("drift_max", n.DriftMax),
	)
}

func (m *countingMetrics) snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.dropped))
	for k, v := range m.dropped {
		out[k] = v
	}
	return out
}
