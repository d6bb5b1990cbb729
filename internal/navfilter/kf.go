package navfilter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/navtools"
)

// VectorMeasurement carries one channel's raw discriminator outputs for a
// tightly coupled update.
type VectorMeasurement struct {
	SatPos   [3]float64
	SatVel   [3]float64
	ChipErr  float64 // code discriminator [chips], positive when the signal lags the replica
	FreqErr  float64 // frequency discriminator [Hz]
	ChipVar  float64 // [chips^2]
	FreqVar  float64 // [Hz^2]
	ChipRate float64 // [chips/s]
	Lambda   float64 // carrier wavelength [m]
}

// Filter is the kinematic navigation filter driven by the navigator.
type Filter interface {
	Init(sol Solution)
	Initialized() bool
	Propagate(dt float64)
	ScalarUpdate(meas []Measurement) error
	VectorUpdate(meas []VectorMeasurement) error
	State() Solution
	// Predict returns the expected pseudorange and rate of a satellite.
	Predict(satPos, satVel [3]float64) (psr, psrdot float64)
}

// KFConfig holds process noise and initial uncertainties.
type KFConfig struct {
	AccelPSD  float64 // [m^2/s^3]
	ClockH0   float64 // Allan coefficients scaled to m^2
	ClockH2   float64
	InitPos   float64 // 1-sigma [m]
	InitVel   float64 // 1-sigma [m/s]
	InitBias  float64 // [m]
	InitDrift float64 // [m/s]
}

// DefaultKFConfig suits a slowly moving receiver with a TCXO.
func DefaultKFConfig() KFConfig {
	c2 := gnss.SpeedOfLight * gnss.SpeedOfLight
	return KFConfig{
		AccelPSD:  1,
		ClockH0:   2e-19 * c2,
		ClockH2:   2e-20 * c2,
		InitPos:   10,
		InitVel:   0.5,
		InitBias:  10,
		InitDrift: 1,
	}
}

const nStates = 8

// ClockKF is an 8-state extended Kalman filter over ECEF position, velocity,
// clock bias and clock drift. It is not safe for concurrent use.
type ClockKF struct {
	cfg  KFConfig
	x    *mat.VecDense
	p    *mat.SymDense
	init bool
}

func NewClockKF(cfg KFConfig) *ClockKF {
	return &ClockKF{cfg: cfg, x: mat.NewVecDense(nStates, nil), p: mat.NewSymDense(nStates, nil)}
}

func (k *ClockKF) Init(sol Solution) {
	for i := 0; i < 3; i++ {
		k.x.SetVec(i, sol.Pos[i])
		k.x.SetVec(3+i, sol.Vel[i])
	}
	k.x.SetVec(6, sol.ClockBias)
	k.x.SetVec(7, sol.ClockDrift)
	k.p = mat.NewSymDense(nStates, nil)
	for i := 0; i < 3; i++ {
		k.p.SetSym(i, i, k.cfg.InitPos*k.cfg.InitPos)
		k.p.SetSym(3+i, 3+i, k.cfg.InitVel*k.cfg.InitVel)
	}
	k.p.SetSym(6, 6, k.cfg.InitBias*k.cfg.InitBias)
	k.p.SetSym(7, 7, k.cfg.InitDrift*k.cfg.InitDrift)
	k.init = true
}

func (k *ClockKF) Initialized() bool { return k.init }

// Propagate advances the state dt seconds under constant velocity and drift.
func (k *ClockKF) Propagate(dt float64) {
	if dt <= 0 {
		return
	}
	f := mat.NewDense(nStates, nStates, nil)
	for i := 0; i < nStates; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, 3+i, dt)
	}
	f.Set(6, 7, dt)

	q := mat.NewSymDense(nStates, nil)
	sa := k.cfg.AccelPSD
	for i := 0; i < 3; i++ {
		q.SetSym(i, i, sa*dt*dt*dt/3)
		q.SetSym(i, 3+i, sa*dt*dt/2)
		q.SetSym(3+i, 3+i, sa*dt)
	}
	sf, sg := k.cfg.ClockH0/2, 2*k.cfg.ClockH2*math.Pi*math.Pi
	q.SetSym(6, 6, sf*dt+sg*dt*dt*dt/3)
	q.SetSym(6, 7, sg*dt*dt/2)
	q.SetSym(7, 7, sg*dt)

	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x = &x

	var fp, fpf mat.Dense
	fp.Mul(f, k.p)
	fpf.Mul(&fp, f.T())
	fpf.Add(&fpf, q)
	k.p = symmetrise(&fpf)
}

// ScalarUpdate fuses pseudoranges and pseudorange rates.
func (k *ClockKF) ScalarUpdate(meas []Measurement) error {
	if len(meas) == 0 {
		return nil
	}
	pos, vel := k.posVel()
	m := 2 * len(meas)
	h := mat.NewDense(m, nStates, nil)
	r := make([]float64, m)
	y := mat.NewVecDense(m, nil)
	for i, ms := range meas {
		u, rng := navtools.Unit(navtools.Sub(ms.SatPos, pos))
		rate := navtools.Dot(u, navtools.Sub(ms.SatVel, vel))
		h.SetRow(2*i, []float64{-u[0], -u[1], -u[2], 0, 0, 0, 1, 0})
		h.SetRow(2*i+1, []float64{0, 0, 0, -u[0], -u[1], -u[2], 0, 1})
		y.SetVec(2*i, ms.Psr-(rng+k.x.AtVec(6)))
		y.SetVec(2*i+1, ms.Psrdot-(rate+k.x.AtVec(7)))
		r[2*i] = positive(ms.PsrVar, 25)
		r[2*i+1] = positive(ms.PsrdotVar, 0.1)
	}
	return k.update(h, y, r)
}

// VectorUpdate fuses discriminator outputs directly: the code error maps to
// a pseudorange residual and the frequency error to a range-rate residual.
func (k *ClockKF) VectorUpdate(meas []VectorMeasurement) error {
	if len(meas) == 0 {
		return nil
	}
	pos, _ := k.posVel()
	m := 2 * len(meas)
	h := mat.NewDense(m, nStates, nil)
	r := make([]float64, m)
	y := mat.NewVecDense(m, nil)
	for i, ms := range meas {
		u, _ := navtools.Unit(navtools.Sub(ms.SatPos, pos))
		chipLen := gnss.SpeedOfLight / positive(ms.ChipRate, gnss.CACodeRate)
		lambda := positive(ms.Lambda, gnss.GpsL1Wavelength)
		h.SetRow(2*i, []float64{-u[0], -u[1], -u[2], 0, 0, 0, 1, 0})
		h.SetRow(2*i+1, []float64{0, 0, 0, -u[0], -u[1], -u[2], 0, 1})
		y.SetVec(2*i, ms.ChipErr*chipLen)
		y.SetVec(2*i+1, -ms.FreqErr*lambda)
		r[2*i] = positive(ms.ChipVar, 0.01) * chipLen * chipLen
		r[2*i+1] = positive(ms.FreqVar, 1) * lambda * lambda
	}
	return k.update(h, y, r)
}

func (k *ClockKF) update(h *mat.Dense, y *mat.VecDense, r []float64) error {
	var ph, s mat.Dense
	ph.Mul(k.p, h.T())
	s.Mul(h, &ph)
	for i, v := range r {
		s.Set(i, i, s.At(i, i)+v)
	}
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("%w: innovation covariance: %v", ErrSingular, err)
	}
	var gain mat.Dense
	gain.Mul(&ph, &sInv)

	var dx mat.VecDense
	dx.MulVec(&gain, y)
	k.x.AddVec(k.x, &dx)

	// Joseph form keeps P symmetric positive definite.
	ikh := mat.NewDense(nStates, nStates, nil)
	ikh.Mul(&gain, h)
	ikh.Scale(-1, ikh)
	for i := 0; i < nStates; i++ {
		ikh.Set(i, i, ikh.At(i, i)+1)
	}
	var a, apa, kr, krk mat.Dense
	a.Mul(ikh, k.p)
	apa.Mul(&a, ikh.T())
	kr.Mul(&gain, mat.NewDiagDense(len(r), r))
	krk.Mul(&kr, gain.T())
	apa.Add(&apa, &krk)
	k.p = symmetrise(&apa)
	return nil
}

// State returns the current estimate.
func (k *ClockKF) State() Solution {
	pos, vel := k.posVel()
	return Solution{Pos: pos, Vel: vel, ClockBias: k.x.AtVec(6), ClockDrift: k.x.AtVec(7)}
}

// Covariance returns a copy of the state covariance.
func (k *ClockKF) Covariance() *mat.SymDense {
	return mat.NewSymDense(nStates, append([]float64(nil), k.p.RawSymmetric().Data...))
}

func (k *ClockKF) Predict(satPos, satVel [3]float64) (float64, float64) {
	pos, vel := k.posVel()
	u, rng := navtools.Unit(navtools.Sub(satPos, pos))
	return rng + k.x.AtVec(6), navtools.Dot(u, navtools.Sub(satVel, vel)) + k.x.AtVec(7)
}

func (k *ClockKF) posVel() (pos, vel [3]float64) {
	for i := 0; i < 3; i++ {
		pos[i] = k.x.AtVec(i)
		vel[i] = k.x.AtVec(3 + i)
	}
	return pos, vel
}

func symmetrise(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

func positive(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
