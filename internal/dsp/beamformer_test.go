package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func unitLOS(az, el float64) [3]float64 {
	return [3]float64{math.Cos(el) * math.Cos(az), math.Cos(el) * math.Sin(az), -math.Sin(el)}
}

func TestSteeringColocatedIsUnity(t *testing.T) {
	bf, err := NewBeamFormer(make([][3]float64, 4), 0.19)
	if err != nil {
		t.Fatal(err)
	}
	for _, los := range [][3]float64{unitLOS(0.3, 0.7), unitLOS(-2, 0.1), {0, 0, -1}} {
		bf.CalcSteeringWeights(los)
		for i, w := range bf.Weights() {
			if math.Abs(cmplx.Abs(w)-1) > 1e-12 {
				t.Fatalf("element %d weight magnitude %f", i, cmplx.Abs(w))
			}
			if math.Abs(cmplx.Phase(w)) > 1e-12 {
				t.Fatalf("element %d weight phase %f", i, cmplx.Phase(w))
			}
		}
	}
}

func TestSteeringAlignsArrivingWave(t *testing.T) {
	const lambda = 0.1903
	pos := [][3]float64{{0, 0, 0}, {0.095, 0, 0}, {0, 0.095, 0}, {0.095, 0.095, 0}}
	bf, err := NewBeamFormer(pos, lambda)
	if err != nil {
		t.Fatal(err)
	}
	los := unitLOS(0.8, 0.5)
	bf.CalcSteeringWeights(los)
	// A plane wave from los reaches element i with the conjugate phase.
	w := bf.Weights()
	x := make([]complex128, len(w))
	for i := range w {
		x[i] = cmplx.Conj(w[i])
	}
	if got := cmplx.Abs(bf.Combine(x)); math.Abs(got-4) > 1e-9 {
		t.Fatalf("expected coherent gain 4 got %f", got)
	}
}

func TestNullingCancelsSteeredDirection(t *testing.T) {
	pos := [][3]float64{{0, 0, 0}, {0.1, 0.02, 0}, {-0.04, 0.09, 0.01}}
	bf, err := NewBeamFormer(pos, 0.19)
	if err != nil {
		t.Fatal(err)
	}
	for _, los := range [][3]float64{unitLOS(0.2, 1.0), unitLOS(2.5, 0.3)} {
		bf.CalcSteeringWeights(los)
		steer := bf.Weights()
		bf.CalcNullingWeights(los)
		w := bf.Weights()

		x := make([]complex128, len(steer))
		for i := range steer {
			x[i] = cmplx.Conj(steer[i])
		}
		primary := w[0] * x[0]
		var secondary complex128
		for i := 1; i < len(w); i++ {
			secondary += w[i] * x[i]
		}
		if math.Abs(cmplx.Abs(primary)-cmplx.Abs(secondary)) > 1e-12 {
			t.Fatalf("secondary magnitude %f != primary %f", cmplx.Abs(secondary), cmplx.Abs(primary))
		}
		if cmplx.Abs(bf.Combine(x)) > 1e-12 {
			t.Fatalf("expected null, got %v", bf.Combine(x))
		}
	}
}

func TestCombineBlock(t *testing.T) {
	bf, err := NewBeamFormer(make([][3]float64, 2), 0.19)
	if err != nil {
		t.Fatal(err)
	}
	out := bf.CombineBlock(nil, []complex128{1, 2, 3, 4, 5, 6}, 2)
	want := []complex128{3, 7, 11}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("row %d expected %v got %v", i, want[i], out[i])
		}
	}
}

func TestNewBeamFormerValidation(t *testing.T) {
	if _, err := NewBeamFormer(nil, 0.19); err == nil {
		t.Fatal("expected error for empty array")
	}
	if _, err := NewBeamFormer(make([][3]float64, 2), 0); err == nil {
		t.Fatal("expected error for zero wavelength")
	}
}
