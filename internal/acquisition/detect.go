package acquisition

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Test is a detection statistic applied to a correlation map. raw holds the
// samples that produced the map.
type Test func(corrMap *mat.Dense, raw []complex128) (metric float64, peak Peak)

// Peak2NoiseFloorTest returns (peak-mean)/stddev over the whole map, using
// the sample standard deviation. An empty or flat map gives a zero metric
// and indices of -1.
func Peak2NoiseFloorTest(corrMap *mat.Dense) (float64, Peak) {
	if corrMap == nil {
		return 0, Peak{DopplerIdx: -1, LagIdx: -1}
	}
	r, c := corrMap.Dims()
	if r*c < 2 {
		return 0, Peak{DopplerIdx: -1, LagIdx: -1}
	}
	peak := findPeak(corrMap)
	mu, sigma := stat.MeanStdDev(denseData(corrMap), nil)
	if sigma == 0 || math.IsNaN(sigma) {
		return 0, peak
	}
	return (peak.Value - mu) / sigma, peak
}

// GlrtTest returns 2*K*S/Phat where K is the number of code phase lags, S
// the map peak and Phat the mean power of the raw samples.
func GlrtTest(corrMap *mat.Dense, raw []complex128) (float64, Peak) {
	if corrMap == nil || len(raw) == 0 {
		return 0, Peak{DopplerIdx: -1, LagIdx: -1}
	}
	_, k := corrMap.Dims()
	peak := findPeak(corrMap)
	var p float64
	for _, v := range raw {
		p += real(v)*real(v) + imag(v)*imag(v)
	}
	p /= float64(len(raw))
	if p == 0 {
		return 0, peak
	}
	return 2 * float64(k) * peak.Value / p, peak
}

// ByName resolves a configured detection statistic.
func ByName(name string) (Test, bool) {
	switch name {
	case "", "peak2noise":
		return func(m *mat.Dense, _ []complex128) (float64, Peak) { return Peak2NoiseFloorTest(m) }, true
	case "glrt":
		return GlrtTest, true
	}
	return nil, false
}

func denseData(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	out := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return out
}
