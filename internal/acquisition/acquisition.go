// Package acquisition implements FFT-based parallel code phase search (PCPS)
// and the detection statistics applied to its correlation maps.
package acquisition

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
)

// Setup is the precomputed search state shared read-only by every channel:
// the FFT plan, one conjugated and normalised code spectrum per PRN and the
// Doppler x sample carrier replica matrix.
type Setup struct {
	SamplesPerMs int
	IntmdFreq    float64
	Doppler      []float64      // bin centre frequencies including IF [Hz]
	CodeFFT      [][]complex128 // index prn-1
	CarrRep      [][]complex128 // [bin][sample]
	Plan         *dsp.Plan
	Log          logging.Logger
}

// DopplerBins returns the number of Doppler hypotheses.
func (s *Setup) DopplerBins() int { return len(s.Doppler) }

// BinWidth is the spacing between Doppler hypotheses [Hz].
func (s *Setup) BinWidth() float64 {
	if len(s.Doppler) < 2 {
		return 0
	}
	return s.Doppler[1] - s.Doppler[0]
}

// InitAcquisitionMatrices builds the shared Setup. codes holds the chip
// sequence of each PRN (index prn-1). The grid has int(2*dRange/dStep+1)
// bins spaced evenly over [-dRange, dRange] and shifted by ifFreq.
func InitAcquisitionMatrices(codes [][]int8, dRange, dStep, sampFreq, codeFreq, ifFreq float64) (*Setup, error) {
	if dStep <= 0 {
		return nil, fmt.Errorf("doppler step must be positive, got %g", dStep)
	}
	if dRange < 0 {
		return nil, fmt.Errorf("doppler range must not be negative, got %g", dRange)
	}
	spms := int(sampFreq / 1000)
	if spms <= 0 {
		return nil, fmt.Errorf("sample rate %g Hz gives no samples per ms", sampFreq)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no spreading codes supplied")
	}

	nBins := int(2*dRange/dStep + 1)
	s := &Setup{
		SamplesPerMs: spms,
		IntmdFreq:    ifFreq,
		Doppler:      linspace(-dRange, dRange, nBins),
		CodeFFT:      make([][]complex128, len(codes)),
		CarrRep:      make([][]complex128, nBins),
		Plan:         dsp.NewPlan(spms),
		Log:          logging.Default(),
	}
	for i := range s.Doppler {
		s.Doppler[i] += ifFreq
	}

	scale := complex(1/float64(spms), 0)
	for i, code := range codes {
		rep, _ := gnss.CodeNCO(code, codeFreq, sampFreq, 0, spms)
		spec := s.Plan.Forward(rep, rep)
		for k := range spec {
			spec[k] = cmplx.Conj(spec[k]) * scale
		}
		s.CodeFFT[i] = spec
	}

	for b, f := range s.Doppler {
		row := make([]complex128, spms)
		w := -gnss.TwoPi * f / sampFreq
		for k := range row {
			row[k] = cmplx.Exp(complex(0, w*float64(k)))
		}
		s.CarrRep[b] = row
	}
	return s, nil
}

// PcpsSearch correlates samples against prn over every Doppler bin and code
// phase lag. Each of ncPer rounds coherently sums cPer one-millisecond blocks,
// then accumulates |sum/samplesPerMs|^2 into the returned Doppler x lag map.
//
// Failures never propagate: too few samples, an unknown PRN or a numerical
// panic are logged and yield a nil map.
func PcpsSearch(samples []complex128, cPer, ncPer int, prn uint8, setup *Setup) (corrMap *mat.Dense) {
	log := setup.Log
	if log == nil {
		log = logging.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("pcps search failed", logging.F("prn", prn), logging.F("panic", fmt.Sprint(r)))
			corrMap = nil
		}
	}()

	if prn == 0 || int(prn) > len(setup.CodeFFT) {
		log.Warn("pcps search for unknown prn", logging.F("prn", prn))
		return nil
	}
	if cPer < 1 || ncPer < 1 {
		log.Warn("pcps search needs at least one period", logging.F("coherent", cPer), logging.F("noncoherent", ncPer))
		return nil
	}
	spms := setup.SamplesPerMs
	if need := cPer * ncPer * spms; len(samples) < need {
		log.Warn("pcps search starved", logging.F("prn", prn), logging.F("have", len(samples)), logging.F("need", need))
		return nil
	}

	nBins := setup.DopplerBins()
	code := setup.CodeFFT[prn-1]
	xCarr := make([][]complex128, nBins)
	cohSum := make([][]complex128, nBins)
	for b := range xCarr {
		xCarr[b] = make([]complex128, spms)
		cohSum[b] = make([]complex128, spms)
	}
	corrMap = mat.NewDense(nBins, spms, nil)
	norm := complex(1/float64(spms), 0)

	iSig := 0
	for nc := 0; nc < ncPer; nc++ {
		for b := range cohSum {
			clear(cohSum[b])
		}
		for c := 0; c < cPer; c++ {
			block := samples[iSig : iSig+spms]
			for b, rep := range setup.CarrRep {
				row := xCarr[b]
				for k := range row {
					row[k] = rep[k] * block[k]
				}
			}
			setup.Plan.ForwardRows(xCarr)
			for _, row := range xCarr {
				for k := range row {
					row[k] *= code[k]
				}
			}
			setup.Plan.InverseRows(xCarr)
			for b, row := range xCarr {
				acc := cohSum[b]
				for k := range row {
					acc[k] += row[k]
				}
			}
			iSig += spms
		}
		for b, acc := range cohSum {
			for k, v := range acc {
				v *= norm
				corrMap.Set(b, k, corrMap.At(b, k)+real(v)*real(v)+imag(v)*imag(v))
			}
		}
	}
	return corrMap
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	return out
}

// Peak is the argmax cell of a correlation map.
type Peak struct {
	DopplerIdx int
	LagIdx     int
	Value      float64
}

func findPeak(m *mat.Dense) Peak {
	p := Peak{Value: math.Inf(-1)}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v > p.Value {
				p = Peak{DopplerIdx: i, LagIdx: j, Value: v}
			}
		}
	}
	return p
}
