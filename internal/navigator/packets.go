package navigator

import (
	"sync"

	"github.com/rjboer/GoGNSS/internal/ephemeris"
)

// NavPacket is one channel's observables for one epoch. All timing refers to
// the sample at SampleIndex, where the channel's replica code period starts.
type NavPacket struct {
	ChannelID   int
	PRN         uint8
	Vector      bool
	SampleIndex uint64  // absolute sample count since start of stream
	SamplePtr   int     // same sample as a buffer position
	CodePhase   float64 // replica code phase at SampleIndex [chips]
	// TransmitTime is the satellite time of week at SampleIndex when the
	// channel decoded it; zero means it must be resolved from assistance.
	TransmitTime float64
	Week         uint16
	Doppler      float64 // carrier Doppler without IF [Hz]
	CN0          float64 // [dB-Hz]
	PsrVar       float64 // [m^2]
	PsrdotVar    float64 // [(m/s)^2]
	ChipErr      float64 // DLL discriminator [chips]
	FreqErr      float64 // FLL discriminator [Hz]
	ChipVar      float64
	FreqVar      float64
}

// EphemPacket carries a decoded (or assisted) ephemeris for a satellite.
type EphemPacket struct {
	ChannelID int
	PRN       uint8
	Eph       ephemeris.Keplerian
}

// Feedback is what the navigator hands back to a vector-mode channel after
// an update: predicted carrier Doppler and the line of sight in the local
// level (NED) frame.
type Feedback struct {
	Valid   bool
	Doppler float64
	LOS     [3]float64
}

// SyncData coordinates a channel with the navigator at epoch boundaries. A
// vector-mode channel calls Begin, pushes its packet, and then Wait blocks
// until the navigator has consumed it (or stopped).
type SyncData struct {
	mu       sync.Mutex
	cond     *sync.Cond
	complete bool
	vector   bool
	stopped  bool
	fb       Feedback
}

func newSyncData() *SyncData {
	s := &SyncData{complete: true}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Begin marks an update as outstanding for this channel.
func (s *SyncData) Begin() {
	s.mu.Lock()
	s.complete = false
	s.mu.Unlock()
}

// Wait blocks until the navigator completes the outstanding update or is
// stopped, and returns the latest feedback.
func (s *SyncData) Wait() Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.complete && !s.stopped {
		s.cond.Wait()
	}
	return s.fb
}

func (s *SyncData) finish(fb Feedback) {
	s.mu.Lock()
	s.complete = true
	if fb.Valid {
		s.fb = fb
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *SyncData) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// IsVector reports whether the navigator wants this channel in vector mode.
func (s *SyncData) IsVector() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vector
}

func (s *SyncData) setVector(v bool) {
	s.mu.Lock()
	s.vector = v
	s.mu.Unlock()
}

// Feedback returns the latest feedback without waiting.
func (s *SyncData) Feedback() Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fb
}
