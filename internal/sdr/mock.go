package sdr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/rjboer/GoGNSS/internal/gnss"
)

// MockSignal is one simulated GPS L1 C/A satellite.
type MockSignal struct {
	PRN       int
	Doppler   float64 // [Hz]
	CodeDelay float64 // samples until the first code start
	Amplitude float64
	Phase     float64 // initial carrier phase [rad]
}

// MockSDR synthesizes GPS C/A signals in Gaussian noise with a controllable
// phase offset between antennas. Time is continuous across RX calls.
type MockSDR struct {
	mu      sync.RWMutex
	cfg     Config
	signals []MockSignal
	codes   [][]int8
	noise   float64
	rng     *rand.Rand
	sample  uint64
}

// NewMock creates a mock with per-component noise standard deviation noise.
func NewMock(noise float64, seed int64, signals ...MockSignal) *MockSDR {
	return &MockSDR{signals: signals, noise: noise, rng: rand.New(rand.NewSource(seed))}
}

func (m *MockSDR) Init(_ context.Context, cfg Config) error {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 2.046e6
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = int(cfg.SampleRate / 1000)
	}
	codes := make([][]int8, len(m.signals))
	for i, s := range m.signals {
		code, err := gnss.CACode(s.PRN)
		if err != nil {
			return fmt.Errorf("mock signal %d: %w", i, err)
		}
		codes[i] = code
	}
	m.mu.Lock()
	if cfg.PhaseDelta == 0 {
		cfg.PhaseDelta = m.cfg.PhaseDelta
	}
	m.cfg = cfg
	m.codes = codes
	m.sample = 0
	m.mu.Unlock()
	return nil
}

func (m *MockSDR) Close() error { return nil }

// SetPhaseDelta updates the simulated antenna phase step in degrees. A value
// set before Init survives an Init whose Config leaves PhaseDelta zero.
func (m *MockSDR) SetPhaseDelta(phaseDeltaDeg float64) {
	m.mu.Lock()
	m.cfg.PhaseDelta = phaseDeltaDeg
	m.mu.Unlock()
}

// GetPhaseDelta returns the current phase delta setting.
func (m *MockSDR) GetPhaseDelta() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.PhaseDelta
}

// Generate returns n single-antenna samples starting at absolute sample
// index start without advancing the stream.
func (m *MockSDR) Generate(start uint64, n int) []complex128 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.NumAntennas = 1
	out := make([]complex128, n)
	m.fill(out, cfg, start, n)
	return out
}

func (m *MockSDR) RX(ctx context.Context, dst []complex128) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	if cfg.SampleRate == 0 {
		return fmt.Errorf("mock sdr: not initialised")
	}
	n := cfg.NumSamples
	if len(dst) < n*cfg.antennas() {
		return fmt.Errorf("mock sdr: destination holds %d samples, need %d", len(dst), n*cfg.antennas())
	}
	m.fill(dst, cfg, m.sample, n)
	m.sample += uint64(n)
	return nil
}

func (m *MockSDR) fill(dst []complex128, cfg Config, start uint64, n int) {
	nAnt := cfg.antennas()
	antStep := cfg.PhaseDelta * math.Pi / 180
	fs := cfg.SampleRate
	for i := 0; i < n; i++ {
		k := float64(start + uint64(i))
		var v complex128
		for si, s := range m.signals {
			code := m.codes[si]
			chipRate := gnss.CACodeRate * (1 + s.Doppler/gnss.GpsL1Freq)
			chip := math.Floor((k - s.CodeDelay) * chipRate / fs)
			idx := int(math.Mod(chip, gnss.CACodeLength))
			if idx < 0 {
				idx += gnss.CACodeLength
			}
			phase := gnss.TwoPi*(cfg.IntmdFreq+s.Doppler)*k/fs + s.Phase
			sn, cs := math.Sincos(phase)
			v += complex(s.Amplitude*float64(code[idx])*cs, s.Amplitude*float64(code[idx])*sn)
		}
		for a := 0; a < nAnt; a++ {
			x := v
			if a > 0 && antStep != 0 {
				sn, cs := math.Sincos(antStep * float64(a))
				x *= complex(cs, sn)
			}
			if m.noise > 0 {
				x += complex(m.rng.NormFloat64()*m.noise, m.rng.NormFloat64()*m.noise)
			}
			dst[i*nAnt+a] = x
		}
	}
}
