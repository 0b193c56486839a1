// Package redlog provides the logging adapter shared by the redundancy
// layer packages. Every component that logs takes a *zap.Logger and
// defaults to a no-op logger when none is supplied, so the redundancy
// layer stays silent unless a host wires one in.
package redlog

import "go.uber.org/zap"

// NewNop returns a logger that discards everything, the default used
// throughout redcor/reddfq/reddia when no logger is supplied.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Or returns logger if non-nil, otherwise a no-op logger. Every
// constructor in this module that accepts an optional *zap.Logger calls
// this once during construction so the rest of the package can assume a
// non-nil logger.
func Or(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger
}

// NewDevelopment builds a human-readable, colorized development logger
// for ad-hoc debugging (cmd/redlsim builds the same logger directly with
// zap.NewDevelopment); production hosts are expected to build and inject
// their own *zap.Logger instead.
func NewDevelopment() (*zap.Logger, error) {
	return zap.NewDevelopment()
}
