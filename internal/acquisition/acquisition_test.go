package acquisition

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
)

const (
	testFs    = 2.046e6
	testSpms  = 2046
	testRange = 5000.0
	testStep  = 500.0
)

func allCodes(t *testing.T) [][]int8 {
	t.Helper()
	codes := gnss.CACodes()
	out := make([][]int8, len(codes))
	for i := range codes {
		out[i] = codes[i]
	}
	return out
}

func newSetup(t *testing.T) *Setup {
	t.Helper()
	s, err := InitAcquisitionMatrices(allCodes(t), testRange, testStep, testFs, gnss.CACodeRate, 0)
	require.NoError(t, err)
	s.Log = logging.Nop()
	return s
}

// synth returns ms milliseconds of a C/A signal delayed by tau samples at
// Doppler f0, plus complex Gaussian noise of the given per-component std.
func synth(t *testing.T, prn int, f0 float64, tau int, amp, noise float64, ms int, rng *rand.Rand) []complex128 {
	t.Helper()
	code, err := gnss.CACode(prn)
	require.NoError(t, err)
	rep, _ := gnss.CodeNCO(code, gnss.CACodeRate, testFs, 0, testSpms)
	out := make([]complex128, ms*testSpms)
	for k := range out {
		c := rep[((k-tau)%testSpms+testSpms)%testSpms]
		carr := cmplx.Exp(complex(0, gnss.TwoPi*f0*float64(k)/testFs))
		out[k] = complex(amp, 0) * c * carr
		if noise > 0 {
			out[k] += complex(noise*rng.NormFloat64(), noise*rng.NormFloat64())
		}
	}
	return out
}

func TestInitAcquisitionMatricesGrid(t *testing.T) {
	s, err := InitAcquisitionMatrices(allCodes(t), testRange, testStep, testFs, gnss.CACodeRate, 1250)
	require.NoError(t, err)
	assert.Equal(t, 21, s.DopplerBins())
	assert.Equal(t, testSpms, s.SamplesPerMs)
	assert.InDelta(t, -testRange+1250, s.Doppler[0], 1e-9)
	assert.InDelta(t, testRange+1250, s.Doppler[20], 1e-9)
	assert.InDelta(t, testStep, s.BinWidth(), 1e-9)
	assert.Len(t, s.CodeFFT, gnss.NumGpsPRN)
	require.Len(t, s.CarrRep, 21)
	assert.Len(t, s.CarrRep[0], testSpms)
	assert.InDelta(t, 1, cmplx.Abs(s.CarrRep[3][77]), 1e-12)

	_, err = InitAcquisitionMatrices(allCodes(t), testRange, 0, testFs, gnss.CACodeRate, 0)
	assert.Error(t, err)
}

func TestPcpsSearchLocatesDopplerAndCodePhase(t *testing.T) {
	s := newSetup(t)
	const f0, tau = 2000.0, 300
	samples := synth(t, 7, f0, tau, 1, 0, 2, nil)

	for _, per := range []struct{ c, nc int }{{1, 1}, {1, 2}, {2, 1}} {
		m := PcpsSearch(samples, per.c, per.nc, 7, s)
		require.NotNil(t, m)
		rows, cols := m.Dims()
		assert.Equal(t, 21, rows)
		assert.Equal(t, testSpms, cols)

		_, peak := Peak2NoiseFloorTest(m)
		assert.InDelta(t, f0, s.Doppler[peak.DopplerIdx], s.BinWidth(), "c=%d nc=%d", per.c, per.nc)
		assert.InDelta(t, tau, peak.LagIdx, 1, "c=%d nc=%d", per.c, per.nc)
	}
}

func TestPcpsSearchDegenerateInputs(t *testing.T) {
	s := newSetup(t)
	short := make([]complex128, testSpms-1)
	assert.Nil(t, PcpsSearch(short, 1, 1, 1, s))
	full := make([]complex128, testSpms)
	assert.Nil(t, PcpsSearch(full, 1, 1, 0, s))
	assert.Nil(t, PcpsSearch(full, 1, 1, 33, s))
	assert.Nil(t, PcpsSearch(full, 0, 1, 1, s))

	metric, peak := Peak2NoiseFloorTest(nil)
	assert.Zero(t, metric)
	assert.Equal(t, -1, peak.DopplerIdx)
}

func TestPcpsSearchRecoversFromPanic(t *testing.T) {
	s := newSetup(t)
	// A truncated replica row forces an index panic inside the search.
	s.CarrRep[1] = s.CarrRep[1][:10]
	assert.Nil(t, PcpsSearch(make([]complex128, testSpms), 1, 1, 1, s))
}

func TestPeak2NoiseFloorMonotonicInAmplitude(t *testing.T) {
	s := newSetup(t)
	var prev float64
	for i, amp := range []float64{0.1, 0.3, 1.0} {
		rng := rand.New(rand.NewSource(42))
		samples := synth(t, 12, -2000, 911, amp, 1/math.Sqrt2, 2, rng)
		metric, peak := Peak2NoiseFloorTest(PcpsSearch(samples, 1, 2, 12, s))
		if i > 0 {
			assert.Greater(t, metric, prev, "amplitude %g", amp)
		}
		if amp >= 0.3 {
			assert.Equal(t, 911, peak.LagIdx)
		}
		prev = metric
	}
}

func TestPeak2NoiseFloorKnownMap(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 1, 1, 1, 1, 7})
	metric, peak := Peak2NoiseFloorTest(m)
	// mean 2, sample std sqrt(30/5)
	assert.InDelta(t, 5/math.Sqrt(6), metric, 1e-12)
	assert.Equal(t, Peak{DopplerIdx: 1, LagIdx: 2, Value: 7}, peak)
}

func TestGlrtLinearInLagCount(t *testing.T) {
	raw := []complex128{1, 1i, -1, -1i}
	build := func(k int) *mat.Dense {
		m := mat.NewDense(3, k, nil)
		m.Set(1, k/2, 4)
		return m
	}
	m1, p1 := GlrtTest(build(100), raw)
	m2, p2 := GlrtTest(build(200), raw)
	assert.InDelta(t, 800, m1, 1e-9)
	assert.InDelta(t, 2*m1, m2, 1e-9)
	assert.Equal(t, 1, p1.DopplerIdx)
	assert.Equal(t, 100, p2.LagIdx)

	metric, _ := GlrtTest(nil, raw)
	assert.Zero(t, metric)
}

func TestByName(t *testing.T) {
	_, ok := ByName("glrt")
	assert.True(t, ok)
	_, ok = ByName("peak2noise")
	assert.True(t, ok)
	_, ok = ByName("cfar")
	assert.False(t, ok)
}
