package sdr

import (
	"context"
	"errors"
)

// ErrEndOfData is returned by RX when a finite source has no full read unit
// left.
var ErrEndOfData = errors.New("sdr: end of sample data")

// Config carries parameters required to initialize a sample source.
type Config struct {
	SampleRate  float64
	IntmdFreq   float64
	NumSamples  int // rows per RX call
	NumAntennas int
	// File sources.
	Path      string
	IsComplex bool
	BitDepth  int
	SkipMs    int
	// PhaseDelta is the simulated carrier phase step between adjacent
	// antennas in degrees (MockSDR).
	PhaseDelta float64
}

func (c Config) antennas() int {
	if c.NumAntennas <= 0 {
		return 1
	}
	return c.NumAntennas
}

// SDR is the sample producer feeding the receiver.
type SDR interface {
	Init(ctx context.Context, cfg Config) error
	// RX fills dst with NumSamples rows of antenna-interleaved samples.
	RX(ctx context.Context, dst []complex128) error
	Close() error
}
