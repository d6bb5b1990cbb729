package channel

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

func TestLockDetectorPromotesAndDrops(t *testing.T) {
	d := lockDetector{state: LockTracking, minCN0: 30}

	for i := 0; i < 2; i++ {
		assert.Equal(t, LockTracking, d.update(45, 0.9))
	}
	assert.Equal(t, LockLocked, d.update(45, 0.9))

	// A single weak window is tolerated.
	assert.Equal(t, LockLocked, d.update(20, 0.9))
	assert.Equal(t, LockLocked, d.update(45, 0.9))
	d.update(20, 0.9)
	assert.Equal(t, LockTracking, d.update(20, 0.9))

	d.update(20, 0.1)
	assert.Equal(t, LockSearching, d.update(20, 0.1))

	// Searching recovers once the signal is usable again.
	assert.Equal(t, LockTracking, d.update(32, 0.5))
}

func TestLockDetectorMarginalSignalStaysTracking(t *testing.T) {
	d := lockDetector{state: LockTracking, minCN0: 30}
	for i := 0; i < 10; i++ {
		assert.Equal(t, LockTracking, d.update(33, 0.7))
	}
}

func TestTrackingConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, trackingConfidence(60, 1), 1e-12)
	assert.InDelta(t, 0.7*0.6, trackingConfidence(30, -0.5), 1e-12)
	assert.Equal(t, 0.0, trackingConfidence(-5, 0))
}

func TestLoopFilterCoefficients(t *testing.T) {
	f := newLoopFilter(2, 0.7, 1)
	wn := 2 * 8 * 0.7 / (4*0.49 + 1)
	assert.InDelta(t, 1/(wn*wn), f.tau1, 1e-12)
	assert.InDelta(t, 1.4/wn, f.tau2, 1e-12)

	// A constant error ramps the NCO by err*T/tau1 per update after the
	// proportional step.
	first := f.update(0.1)
	second := f.update(0.1)
	assert.InDelta(t, f.tau2/f.tau1*0.1+0.1*integrationTime/f.tau1, first, 1e-9)
	assert.InDelta(t, 0.1*integrationTime/f.tau1, second-first, 1e-9)
}

func TestTrackerBlockSizeFollowsCodePhase(t *testing.T) {
	code, err := gnss.CACode(1)
	require.NoError(t, err)
	trk := NewCorrelatorTracker(DefaultTrackerConfig(testFs, 0))
	trk.Init(code, 0, 0)
	assert.Equal(t, testSpms, trk.BlockSize())

	trk.Init(code, 0, 511.5)
	assert.Equal(t, testSpms/2, trk.BlockSize())
	assert.Equal(t, LockTracking, trk.Lock())
}

func TestTrackerPullsInFrequencyError(t *testing.T) {
	const (
		prn     = 12
		doppler = -2210.0
	)
	src := sdr.NewMock(0.7, 5, sdr.MockSignal{PRN: prn, Doppler: doppler, Amplitude: 1, Phase: 1.1})
	require.NoError(t, src.Init(context.Background(), sdr.Config{SampleRate: testFs}))

	code, err := gnss.CACode(prn)
	require.NoError(t, err)
	trk := NewCorrelatorTracker(DefaultTrackerConfig(testFs, 0))
	// Seed 110 Hz off, as a 250 Hz acquisition grid can.
	trk.Init(code, doppler+110, 0)

	var pos uint64
	for i := 0; i < 400; i++ {
		n := trk.BlockSize()
		trk.Track(src.Generate(pos, n))
		pos += uint64(n)
	}

	assert.Equal(t, 400, trk.Epochs())
	assert.InDelta(t, doppler, trk.Doppler(), 5)
	assert.Equal(t, LockLocked, trk.Lock())
	assert.Greater(t, trk.CN0(), 55.0)

	c := trk.Correlators()
	assert.Greater(t, math.Abs(c.IP), 10*math.Abs(c.QP))
	assert.Greater(t, math.Hypot(c.IP, c.QP), math.Hypot(c.IE, c.QE))
	assert.InDelta(t, math.Hypot(c.IE, c.QE), math.Hypot(c.IL, c.QL), 0.1*math.Abs(c.IP))

	dll, pll, _ := trk.Discriminators()
	assert.Less(t, math.Abs(dll), 0.1)
	assert.Less(t, math.Abs(pll), 0.05)
	assert.InDelta(t, dll*0.5, trk.ChipError(), 1e-12)

	chipVar, freqVar := trk.Variances()
	assert.Greater(t, chipVar, 0.0)
	assert.Greater(t, freqVar, 0.0)

	// Carrier phase accumulates Doppler cycles.
	assert.InDelta(t, doppler*float64(pos)/testFs, trk.CarrierPhase(), 5)

	// Prompt sign bits: no data modulation, so every bit after the PLL
	// settles agrees with the last.
	bits := trk.NavBits()
	assert.True(t, bits[0] == 0 || bits[0] == math.MaxUint64)
}

func TestTrackerSteerOverridesBasis(t *testing.T) {
	code, err := gnss.CACode(3)
	require.NoError(t, err)
	trk := NewCorrelatorTracker(DefaultTrackerConfig(testFs, 4000))
	trk.Init(code, 4000+500, 0)
	assert.InDelta(t, 500, trk.Doppler(), 1e-9)
	trk.Steer(-750)
	assert.InDelta(t, 3250, trk.carrFreqBasis, 1e-9)
}

func TestTrackerLosesLockWithoutSignal(t *testing.T) {
	src := sdr.NewMock(1, 9)
	require.NoError(t, src.Init(context.Background(), sdr.Config{SampleRate: testFs}))
	code, err := gnss.CACode(20)
	require.NoError(t, err)
	trk := NewCorrelatorTracker(DefaultTrackerConfig(testFs, 0))
	trk.Init(code, 1000, 0)

	var pos uint64
	lock := trk.Lock()
	for i := 0; i < 200 && lock != LockSearching; i++ {
		n := trk.BlockSize()
		lock = trk.Track(src.Generate(pos, n))
		pos += uint64(n)
	}
	assert.Equal(t, LockSearching, lock)
}
