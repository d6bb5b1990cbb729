// Package navfilter estimates receiver position, velocity and clock from
// satellite observables: a weighted least-squares snapshot solver used to
// initialise navigation and a Kalman filter used afterwards.
package navfilter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/rjboer/GoGNSS/internal/navtools"
)

var (
	// ErrTooFewMeasurements is returned when fewer than four satellites are
	// available.
	ErrTooFewMeasurements = errors.New("navfilter: at least 4 measurements required")
	// ErrSingular is returned when the geometry matrix cannot be inverted.
	ErrSingular = errors.New("navfilter: singular geometry")
)

// Measurement is one satellite's observables with the satellite state at
// transmit time, already corrected for satellite clock and Earth rotation.
type Measurement struct {
	SatPos    [3]float64 // ECEF [m]
	SatVel    [3]float64 // ECEF [m/s]
	Psr       float64    // pseudorange [m]
	Psrdot    float64    // pseudorange rate [m/s]
	PsrVar    float64    // [m^2]
	PsrdotVar float64    // [(m/s)^2]
}

// Solution is an ECEF position/velocity with receiver clock bias and drift
// expressed in metres and metres per second.
type Solution struct {
	Pos        [3]float64
	Vel        [3]float64
	ClockBias  float64
	ClockDrift float64
	GDOP       float64
}

const (
	lsqMaxIter = 10
	lsqTol     = 1e-4
)

// LeastSquares solves position and clock bias by iterated weighted
// Gauss-Newton starting from x0, then velocity and drift in one linear step
// at the converged geometry.
func LeastSquares(meas []Measurement, x0 Solution) (Solution, error) {
	if len(meas) < 4 {
		return x0, fmt.Errorf("%w: have %d", ErrTooFewMeasurements, len(meas))
	}
	n := len(meas)
	sol := x0
	h := mat.NewDense(n, 4, nil)
	y := mat.NewVecDense(n, nil)
	w := make([]float64, n)
	for i, m := range meas {
		w[i] = weight(m.PsrVar)
	}

	var normal mat.Dense
	var rhs, dx mat.VecDense
	converged := false
	for iter := 0; iter < lsqMaxIter; iter++ {
		for i, m := range meas {
			u, rng := navtools.Unit(navtools.Sub(m.SatPos, sol.Pos))
			h.SetRow(i, []float64{-u[0], -u[1], -u[2], 1})
			y.SetVec(i, m.Psr-(rng+sol.ClockBias))
		}
		if err := solveWeighted(&normal, &rhs, &dx, h, y, w); err != nil {
			return x0, err
		}
		for k := 0; k < 3; k++ {
			sol.Pos[k] += dx.AtVec(k)
		}
		sol.ClockBias += dx.AtVec(3)
		if mat.Norm(&dx, 2) < lsqTol {
			converged = true
			break
		}
	}
	if !converged {
		return x0, fmt.Errorf("navfilter: position did not converge in %d iterations", lsqMaxIter)
	}

	var inv mat.Dense
	if err := inv.Inverse(&normal); err == nil {
		g := 0.0
		for k := 0; k < 4; k++ {
			g += inv.At(k, k)
		}
		// weighted GDOP
		sol.GDOP = math.Sqrt(g)
	}

	for i, m := range meas {
		u, _ := navtools.Unit(navtools.Sub(m.SatPos, sol.Pos))
		h.SetRow(i, []float64{-u[0], -u[1], -u[2], 1})
		y.SetVec(i, m.Psrdot-navtools.Dot(u, m.SatVel))
		w[i] = weight(m.PsrdotVar)
	}
	if err := solveWeighted(&normal, &rhs, &dx, h, y, w); err != nil {
		return x0, err
	}
	for k := 0; k < 3; k++ {
		sol.Vel[k] = dx.AtVec(k)
	}
	sol.ClockDrift = dx.AtVec(3)
	return sol, nil
}

func weight(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 1
	}
	return 1 / v
}

// solveWeighted solves (H'WH) dx = H'W y.
func solveWeighted(normal *mat.Dense, rhs, dx *mat.VecDense, h *mat.Dense, y *mat.VecDense, w []float64) error {
	wm := mat.NewDiagDense(len(w), w)
	var hw mat.Dense
	hw.Mul(h.T(), wm)
	normal.Reset()
	normal.Mul(&hw, h)
	rhs.Reset()
	rhs.MulVec(&hw, y)
	dx.Reset()
	if err := dx.SolveVec(normal, rhs); err != nil {
		return fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return nil
}
