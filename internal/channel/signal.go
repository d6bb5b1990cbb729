package channel

import (
	"fmt"
	"time"

	"github.com/rjboer/GoGNSS/internal/acquisition"
	"github.com/rjboer/GoGNSS/internal/gnss"
)

// Acquisition is the outcome of one acquisition attempt.
type Acquisition struct {
	Detected    bool
	Metric      float64
	Peak        acquisition.Peak
	CarrierFreq float64 // bin frequency including IF [Hz]
	Doppler     float64 // [Hz]
	CodeLag     int     // samples from the segment start to the next code start
	Duration    time.Duration
}

// Observables is the tracking snapshot of the last processed code period.
type Observables struct {
	Lock         LockState
	CN0          float64
	Doppler      float64
	CodePhase    float64 // chips past the code start at the next block
	CarrierPhase float64 // cycles
	Corr         Correlators
	DllDisc      float64
	PllDisc      float64
	FllDisc      float64
	ChipErr      float64
	ChipVar      float64
	FreqVar      float64
	NavBits      [2]uint64
}

// Signal is implemented once per constellation and signal type. The channel
// drives it; all calls come from the channel goroutine.
type Signal interface {
	Constellation() gnss.Constellation
	Type() gnss.Signal
	PRN() uint8
	SetPRN(prn uint8) error
	// AcquisitionSamples is the segment length Acquire needs.
	AcquisitionSamples() int
	Acquire(samples []complex128) Acquisition
	// StartTracking seeds tracking from a detection. The channel has
	// already consumed the samples up to the code start.
	StartTracking(acq Acquisition)
	// BlockSize is the length of the next tracking block.
	BlockSize() int
	Track(block []complex128) Observables
	// Steer applies a predicted carrier Doppler from the navigator.
	Steer(doppler float64)
	ChipRate() float64
	Wavelength() float64
}

// AcquisitionParams configures the search done by a signal.
type AcquisitionParams struct {
	Setup       *acquisition.Setup
	Test        acquisition.Test
	Threshold   float64
	Coherent    int
	NonCoherent int
}

// GpsL1ca is the GPS L1 C/A signal.
type GpsL1ca struct {
	acq     AcquisitionParams
	tracker *CorrelatorTracker
	prn     uint8
	code    []int8
}

// NewGpsL1ca creates a GPS L1 C/A signal for prn.
func NewGpsL1ca(prn uint8, acq AcquisitionParams, trk TrackerConfig) (*GpsL1ca, error) {
	if acq.Setup == nil {
		return nil, fmt.Errorf("acquisition setup is required")
	}
	if acq.Test == nil {
		acq.Test, _ = acquisition.ByName("peak2noise")
	}
	if acq.Coherent <= 0 {
		acq.Coherent = 1
	}
	if acq.NonCoherent <= 0 {
		acq.NonCoherent = 1
	}
	s := &GpsL1ca{acq: acq, tracker: NewCorrelatorTracker(trk)}
	if err := s.SetPRN(prn); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GpsL1ca) Constellation() gnss.Constellation { return gnss.GPS }
func (s *GpsL1ca) Type() gnss.Signal                 { return gnss.GpsL1CA }
func (s *GpsL1ca) PRN() uint8                        { return s.prn }
func (s *GpsL1ca) ChipRate() float64                 { return gnss.CACodeRate }
func (s *GpsL1ca) Wavelength() float64               { return gnss.GpsL1Wavelength }

func (s *GpsL1ca) SetPRN(prn uint8) error {
	code, err := gnss.CACode(int(prn))
	if err != nil {
		return err
	}
	s.prn = prn
	s.code = code
	return nil
}

func (s *GpsL1ca) AcquisitionSamples() int {
	return s.acq.Coherent * s.acq.NonCoherent * s.acq.Setup.SamplesPerMs
}

func (s *GpsL1ca) Acquire(samples []complex128) Acquisition {
	start := time.Now()
	corrMap := acquisition.PcpsSearch(samples, s.acq.Coherent, s.acq.NonCoherent, s.prn, s.acq.Setup)
	res := Acquisition{Duration: time.Since(start)}
	if corrMap == nil {
		return res
	}
	n := s.AcquisitionSamples()
	if len(samples) > n {
		samples = samples[:n]
	}
	metric, peak := s.acq.Test(corrMap, samples)
	res.Metric = metric
	res.Peak = peak
	if peak.DopplerIdx < 0 || peak.LagIdx < 0 {
		return res
	}
	res.Detected = metric > s.acq.Threshold
	res.CarrierFreq = s.acq.Setup.Doppler[peak.DopplerIdx]
	res.Doppler = res.CarrierFreq - s.acq.Setup.IntmdFreq
	res.CodeLag = peak.LagIdx
	return res
}

func (s *GpsL1ca) StartTracking(acq Acquisition) {
	s.tracker.Init(s.code, acq.CarrierFreq, 0)
}

func (s *GpsL1ca) BlockSize() int { return s.tracker.BlockSize() }

func (s *GpsL1ca) Track(block []complex128) Observables {
	t := s.tracker
	lock := t.Track(block)
	dll, pll, fll := t.Discriminators()
	chipVar, freqVar := t.Variances()
	return Observables{
		Lock:         lock,
		CN0:          t.CN0(),
		Doppler:      t.Doppler(),
		CodePhase:    t.CodePhase(),
		CarrierPhase: t.CarrierPhase(),
		Corr:         t.Correlators(),
		DllDisc:      dll,
		PllDisc:      pll,
		FllDisc:      fll,
		ChipErr:      t.ChipError(),
		ChipVar:      chipVar,
		FreqVar:      freqVar,
		NavBits:      t.NavBits(),
	}
}

func (s *GpsL1ca) Steer(doppler float64) { s.tracker.Steer(doppler) }
