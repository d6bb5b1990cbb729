package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
)

// BeamFormer holds the complex element weights of an antenna array. Element 0
// is the reference element. Weights are recomputed whenever the line of sight
// changes and applied one sample row at a time.
type BeamFormer struct {
	mu         sync.RWMutex
	positions  [][3]float64
	wavelength float64
	weights    []complex128
}

// NewBeamFormer creates a beamformer for elements at positions (metres,
// body frame, relative to the array reference point). Initial weights are
// unity, i.e. a plain sum of all elements.
func NewBeamFormer(positions [][3]float64, wavelength float64) (*BeamFormer, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("beamformer needs at least one element")
	}
	if wavelength <= 0 {
		return nil, fmt.Errorf("wavelength must be positive, got %g", wavelength)
	}
	w := make([]complex128, len(positions))
	for i := range w {
		w[i] = 1
	}
	pos := make([][3]float64, len(positions))
	copy(pos, positions)
	return &BeamFormer{positions: pos, wavelength: wavelength, weights: w}, nil
}

// Elements is the number of antennas.
func (b *BeamFormer) Elements() int { return len(b.positions) }

// steering computes w_i = exp(j*2pi/lambda * los.p_i) into dst.
func (b *BeamFormer) steering(dst []complex128, los [3]float64) {
	k := 2 * math.Pi / b.wavelength
	for i, p := range b.positions {
		phase := k * (los[0]*p[0] + los[1]*p[1] + los[2]*p[2])
		dst[i] = cmplx.Exp(complex(0, phase))
	}
}

// CalcSteeringWeights phase-aligns all elements toward the unit line of
// sight los (body frame).
func (b *BeamFormer) CalcSteeringWeights(los [3]float64) {
	b.mu.Lock()
	b.steering(b.weights, los)
	b.mu.Unlock()
}

// CalcNullingWeights steers toward los and then scales every non-reference
// weight by -1/(N-1), placing a null in that direction. With a single
// element the result equals the steering weights.
func (b *BeamFormer) CalcNullingWeights(los [3]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steering(b.weights, los)
	n := len(b.weights)
	if n < 2 {
		return
	}
	complexScale(b.weights[1:], b.weights[1:], complex(-1/float64(n-1), 0))
}

// Weights returns a copy of the current weight vector.
func (b *BeamFormer) Weights() []complex128 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]complex128, len(b.weights))
	copy(out, b.weights)
	return out
}

// Combine returns sum_i w_i * x_i for one per-antenna sample row.
func (b *BeamFormer) Combine(x []complex128) complex128 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.weights)
	if len(x) < n {
		n = len(x)
	}
	var acc complex128
	for i := 0; i < n; i++ {
		acc += b.weights[i] * x[i]
	}
	return acc
}

// CombineBlock beamforms n interleaved rows (nAnt samples each) into dst.
func (b *BeamFormer) CombineBlock(dst, interleaved []complex128, nAnt int) []complex128 {
	if nAnt <= 0 {
		return dst[:0]
	}
	n := len(interleaved) / nAnt
	if cap(dst) < n {
		dst = make([]complex128, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = b.Combine(interleaved[i*nAnt : (i+1)*nAnt])
	}
	return dst
}

// complexScale multiplies src by scale into dst.
func complexScale(dst, src []complex128, scale complex128) {
	for i := 0; i < len(src); i++ {
		dst[i] = src[i] * scale
	}
}
