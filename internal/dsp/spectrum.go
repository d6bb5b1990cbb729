package dsp

import (
	"math"
	"math/cmplx"
)

// Spectrum caches the window and FFT plan for a front-end power spectrum
// monitor. It is safe for concurrent use.
type Spectrum struct {
	plan      *Plan
	window    []float64
	windowSum float64
	fullScale float64
}

// NewSpectrum prepares a monitor of size bins for an ADC of bitDepth bits.
// A bitDepth of zero or less treats samples as already normalised to 1.
func NewSpectrum(size, bitDepth int) *Spectrum {
	win := Hamming(size)
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	fs := 1.0
	if bitDepth > 1 {
		fs = math.Ldexp(1, bitDepth-1)
	}
	return &Spectrum{plan: NewPlan(size), window: win, windowSum: sum, fullScale: fs}
}

// Size is the number of bins.
func (s *Spectrum) Size() int { return s.plan.Len() }

// PowerDBFS windows samples, transforms them and returns the DC-centred
// magnitude in dB relative to full scale. Input of the wrong length yields nil.
func (s *Spectrum) PowerDBFS(samples []complex128) []float64 {
	if len(samples) != s.plan.Len() || len(samples) == 0 {
		return nil
	}
	windowed := ApplyWindow(nil, samples, s.window)
	fft := FFTShift(s.plan.Forward(nil, windowed))
	dbfs := make([]float64, len(fft))
	for i, v := range fft {
		mag := cmplx.Abs(v) / s.windowSum
		if mag == 0 {
			dbfs[i] = -math.Inf(1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag/s.fullScale)
	}
	return dbfs
}
