// Package redcfg provides validating "smart constructors" for the
// redundancy layer's configuration records: NewChannelConfig rejects a
// ChannelConfig with out-of-range fields, and NewConfig rejects a Config
// with out-of-range fields or an inconsistent channel list. This replaces
// the source's scattered range-check helpers (reddia_IsConfigurationValid
// and friends) with constructors whose successful return value is known
// valid. The record fields are exported, so a struct literal bypasses
// these checks.
package redcfg

import (
	"fmt"

	"github.com/railgo/rasta-redl/redtyp"
)

const (
	minTSeq           = 50
	maxTSeq           = 500
	minNDiagnosis     = 10
	maxNDiagnosis     = 1000
	minDeferQueueSize = 4
	maxDeferQueueSize = 10
	minRedChannels    = 1
)

// ChannelConfig is the validated configuration of one redundancy channel:
// its id (which must equal its index in Config.Channels) and the set of
// transport channel ids it broadcasts over and listens on.
type ChannelConfig struct {
	RedChannelID        uint32
	TransportChannelIDs []uint32
}

// NewChannelConfig validates and constructs a ChannelConfig. Transport ids
// must be unique within the channel and lie in
// [0, MaxRedundancyChannels*MaxTransportChannels); the channel may use at
// most MaxTransportChannels of them. Cross-channel uniqueness is checked
// separately by NewConfig, since it is a property of the whole
// configuration, not of one channel in isolation.
func NewChannelConfig(redChannelID uint32, transportChannelIDs []uint32) (ChannelConfig, error) {
	if len(transportChannelIDs) > redtyp.MaxTransportChannels {
		return ChannelConfig{}, fmt.Errorf("%w: too many transport channels (%d > %d)",
			redtyp.ErrInvalidConfiguration, len(transportChannelIDs), redtyp.MaxTransportChannels)
	}

	maxTransportID := uint32(redtyp.MaxRedundancyChannels * redtyp.MaxTransportChannels)
	seen := make(map[uint32]bool, len(transportChannelIDs))
	for _, id := range transportChannelIDs {
		if id >= maxTransportID {
			return ChannelConfig{}, fmt.Errorf("%w: transport channel id %d out of range [0,%d)",
				redtyp.ErrInvalidConfiguration, id, maxTransportID)
		}
		if seen[id] {
			return ChannelConfig{}, fmt.Errorf("%w: duplicate transport channel id %d within channel %d",
				redtyp.ErrInvalidConfiguration, id, redChannelID)
		}
		seen[id] = true
	}

	return ChannelConfig{
		RedChannelID:        redChannelID,
		TransportChannelIDs: append([]uint32(nil), transportChannelIDs...),
	}, nil
}

// Config is the validated root configuration of the redundancy layer.
type Config struct {
	CheckCodeType   redtyp.CheckCodeType
	TSeq            uint32
	NDiagnosis      uint32
	NDeferQueueSize uint32
	Channels        []ChannelConfig
}

// NewConfig validates and constructs the root Config. Beyond the field
// range checks and the source's self-consistency check
// (Channels[i].RedChannelID == i), this adds a check the original C
// implementation does not perform: transport channel ids must be unique
// **across** all configured channels, not merely within one. The
// reference algorithm leaves this unspecified; this module treats
// cross-channel uniqueness as required.
func NewConfig(checkCodeType redtyp.CheckCodeType, tSeq, nDiagnosis, nDeferQueueSize uint32, channels []ChannelConfig) (Config, error) {
	if !checkCodeType.Valid() {
		return Config{}, fmt.Errorf("%w: invalid check code type %v", redtyp.ErrInvalidConfiguration, checkCodeType)
	}
	if tSeq < minTSeq || tSeq > maxTSeq {
		return Config{}, fmt.Errorf("%w: t_seq %d out of range [%d,%d]", redtyp.ErrInvalidConfiguration, tSeq, minTSeq, maxTSeq)
	}
	if nDiagnosis < minNDiagnosis || nDiagnosis > maxNDiagnosis {
		return Config{}, fmt.Errorf("%w: n_diagnosis %d out of range [%d,%d]", redtyp.ErrInvalidConfiguration, nDiagnosis, minNDiagnosis, maxNDiagnosis)
	}
	if nDeferQueueSize < minDeferQueueSize || nDeferQueueSize > maxDeferQueueSize {
		return Config{}, fmt.Errorf("%w: n_defer_queue_size %d out of range [%d,%d]", redtyp.ErrInvalidConfiguration, nDeferQueueSize, minDeferQueueSize, maxDeferQueueSize)
	}
	if len(channels) < minRedChannels || len(channels) > redtyp.MaxRedundancyChannels {
		return Config{}, fmt.Errorf("%w: number_of_redundancy_channels %d out of range [%d,%d]",
			redtyp.ErrInvalidConfiguration, len(channels), minRedChannels, redtyp.MaxRedundancyChannels)
	}

	globallySeen := make(map[uint32]bool)
	for i, ch := range channels {
		if ch.RedChannelID != uint32(i) {
			return Config{}, fmt.Errorf("%w: channel %d has red_channel_id %d, want %d",
				redtyp.ErrInvalidConfiguration, i, ch.RedChannelID, i)
		}
		for _, id := range ch.TransportChannelIDs {
			if globallySeen[id] {
				return Config{}, fmt.Errorf("%w: transport channel id %d reused across redundancy channels",
					redtyp.ErrInvalidConfiguration, id)
			}
			globallySeen[id] = true
		}
	}

	return Config{
		CheckCodeType:   checkCodeType,
		TSeq:            tSeq,
		NDiagnosis:      nDiagnosis,
		NDeferQueueSize: nDeferQueueSize,
		Channels:        append([]ChannelConfig(nil), channels...),
	}, nil
}
