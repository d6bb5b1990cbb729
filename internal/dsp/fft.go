package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Plan is a fixed-length complex FFT that can be shared between goroutines.
// gonum's CmplxFFT keeps internal work space, so each caller borrows its own
// instance from a pool.
type Plan struct {
	n    int
	pool sync.Pool
}

// NewPlan prepares transforms of length n.
func NewPlan(n int) *Plan {
	p := &Plan{n: n}
	p.pool.New = func() any { return fourier.NewCmplxFFT(n) }
	return p
}

// Len is the transform length.
func (p *Plan) Len() int { return p.n }

// Forward computes the DFT of src into dst (allocated when nil).
func (p *Plan) Forward(dst, src []complex128) []complex128 {
	f := p.pool.Get().(*fourier.CmplxFFT)
	dst = f.Coefficients(dst, src)
	p.pool.Put(f)
	return dst
}

// Inverse computes the unnormalised inverse DFT of src into dst; the result
// is n times the true inverse.
func (p *Plan) Inverse(dst, src []complex128) []complex128 {
	f := p.pool.Get().(*fourier.CmplxFFT)
	dst = f.Sequence(dst, src)
	p.pool.Put(f)
	return dst
}

// ForwardRows transforms every row of rows in place.
func (p *Plan) ForwardRows(rows [][]complex128) {
	f := p.pool.Get().(*fourier.CmplxFFT)
	for _, r := range rows {
		f.Coefficients(r, r)
	}
	p.pool.Put(f)
}

// InverseRows inverse-transforms every row of rows in place (unnormalised).
func (p *Plan) InverseRows(rows [][]complex128) {
	f := p.pool.Get().(*fourier.CmplxFFT)
	for _, r := range rows {
		f.Sequence(r, r)
	}
	p.pool.Put(f)
}

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	return append(shifted, data[:half]...)
}
