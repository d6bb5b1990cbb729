package channel

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rjboer/GoGNSS/internal/gnss"
)

// TrackerConfig tunes the correlator and its loops.
type TrackerConfig struct {
	SampFreq     float64 // [Hz]
	IntmdFreq    float64 // [Hz]
	CorrSpacing  float64 // early/late offset from prompt [chips]
	DLLBandwidth float64 // [Hz]
	PLLBandwidth float64 // [Hz]
	FLLGain      float64 // fraction of the frequency error applied per ms
	PullInMs     int     // epochs of frequency-assisted pull-in
	MinCN0       float64 // [dB-Hz]
}

// DefaultTrackerConfig returns loop settings for 1 ms C/A integration.
func DefaultTrackerConfig(sampFreq, intmdFreq float64) TrackerConfig {
	return TrackerConfig{
		SampFreq:     sampFreq,
		IntmdFreq:    intmdFreq,
		CorrSpacing:  0.5,
		DLLBandwidth: 2,
		PLLBandwidth: 15,
		FLLGain:      0.25,
		PullInMs:     50,
		MinCN0:       30,
	}
}

const (
	integrationTime = 1e-3
	cn0Window       = 20
)

// Correlators holds one integration period's correlator outputs. P1 and P2
// are the prompt split into the two halves of the period.
type Correlators struct {
	IE, QE, IP, QP, IL, QL float64
	IP1, QP1, IP2, QP2     float64
}

// loopFilter is a second order proportional-integral NCO filter.
type loopFilter struct {
	tau1, tau2 float64
	nco, err   float64
}

func newLoopFilter(bandwidth, zeta, gain float64) loopFilter {
	wn := bandwidth * 8 * zeta / (4*zeta*zeta + 1)
	return loopFilter{tau1: gain / (wn * wn), tau2: 2 * zeta / wn}
}

func (f *loopFilter) update(err float64) float64 {
	f.nco += f.tau2/f.tau1*(err-f.err) + err*integrationTime/f.tau1
	f.err = err
	return f.nco
}

// lockDetector grades lock from C/N0 and the phase lock indicator.
type lockDetector struct {
	state     LockState
	stableCnt int
	dropCnt   int
	minCN0    float64
}

func (d *lockDetector) update(cn0, confidence float64) LockState {
	const (
		lockMargin     = 6.0
		lockConfidence = 0.6
		dropConfidence = 0.3
		stableNeeded   = 3
		dropNeeded     = 2
	)
	lockCN0 := d.minCN0 + lockMargin

	switch d.state {
	case LockLocked:
		if cn0 < d.minCN0 || confidence < dropConfidence {
			d.dropCnt++
			if d.dropCnt >= dropNeeded {
				d.state = LockTracking
				d.stableCnt = 0
			}
		} else {
			d.dropCnt = 0
		}
	case LockTracking:
		if cn0 >= lockCN0 && confidence >= lockConfidence {
			d.stableCnt++
			if d.stableCnt >= stableNeeded {
				d.state = LockLocked
				d.dropCnt = 0
			}
		} else if cn0 < d.minCN0 || confidence < dropConfidence {
			d.dropCnt++
			if d.dropCnt >= dropNeeded {
				d.state = LockSearching
				d.stableCnt = 0
			}
		} else {
			d.stableCnt = 0
			d.dropCnt = 0
		}
	default:
		if cn0 >= d.minCN0 && confidence >= dropConfidence {
			d.state = LockTracking
			d.stableCnt = 0
			d.dropCnt = 0
		}
	}
	return d.state
}

func trackingConfidence(cn0, pllLock float64) float64 {
	cn0Score := clamp(cn0/50, 0, 1)
	pllScore := clamp(pllLock, 0, 1)
	return clamp(0.7*cn0Score+0.3*pllScore, 0, 1)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// CorrelatorTracker is a carrier-aided DLL with a PLL and a frequency
// assisted pull-in, integrating one code period at a time. It is owned by a
// single channel goroutine.
type CorrelatorTracker struct {
	cfg  TrackerConfig
	code []int8

	dll, pll      loopFilter
	codeFreq      float64
	remCodePhase  float64 // chips past the start of the next block
	carrFreqBasis float64
	carrFreq      float64
	remCarrPhase  float64 // rad
	carrierCycles float64 // accumulated Doppler phase [cycles]

	corr                   Correlators
	dllErr, pllErr, fllErr float64
	epochs                 int

	winI, winQ, winLock []float64
	cn0                 float64
	lock                lockDetector
	navBits             [2]uint64
}

func NewCorrelatorTracker(cfg TrackerConfig) *CorrelatorTracker {
	if cfg.CorrSpacing <= 0 {
		cfg.CorrSpacing = 0.5
	}
	if cfg.DLLBandwidth <= 0 {
		cfg.DLLBandwidth = 2
	}
	if cfg.PLLBandwidth <= 0 {
		cfg.PLLBandwidth = 15
	}
	return &CorrelatorTracker{cfg: cfg}
}

// Init seeds the loops from an acquisition: code is the chip sequence,
// carrFreq includes the intermediate frequency and the next block starts
// codePhase chips into the code.
func (t *CorrelatorTracker) Init(code []int8, carrFreq, codePhase float64) {
	t.code = code
	t.dll = newLoopFilter(t.cfg.DLLBandwidth, 0.7, 1)
	t.pll = newLoopFilter(t.cfg.PLLBandwidth, 0.707, 0.25)
	t.carrFreqBasis = carrFreq
	t.carrFreq = carrFreq
	t.codeFreq = t.aidedCodeFreq()
	t.remCodePhase = codePhase
	t.remCarrPhase = 0
	t.carrierCycles = 0
	t.corr = Correlators{}
	t.dllErr, t.pllErr, t.fllErr = 0, 0, 0
	t.epochs = 0
	t.winI, t.winQ, t.winLock = t.winI[:0], t.winQ[:0], t.winLock[:0]
	t.cn0 = 0
	t.lock = lockDetector{state: LockTracking, minCN0: t.cfg.MinCN0}
	t.navBits = [2]uint64{}
}

func (t *CorrelatorTracker) aidedCodeFreq() float64 {
	doppler := t.carrFreq - t.cfg.IntmdFreq
	return gnss.CACodeRate * (1 + doppler/gnss.GpsL1Freq)
}

// BlockSize is the number of samples up to the end of the current code
// period.
func (t *CorrelatorTracker) BlockSize() int {
	step := t.codeFreq / t.cfg.SampFreq
	if step <= 0 {
		return 0
	}
	return int(math.Ceil((float64(len(t.code)) - t.remCodePhase) / step))
}

// Track integrates one code period, updates the loops and the data bits and
// returns the lock state.
func (t *CorrelatorTracker) Track(block []complex128) LockState {
	t.Integrate(block)
	t.Dump()
	t.Demodulate()
	return t.lock.state
}

func (t *CorrelatorTracker) chip(phase float64) float64 {
	n := len(t.code)
	idx := int(math.Floor(phase)) % n
	if idx < 0 {
		idx += n
	}
	return float64(t.code[idx])
}

// Integrate wipes off the carrier and correlates block with early, prompt
// and late replicas.
func (t *CorrelatorTracker) Integrate(block []complex128) {
	if len(t.code) == 0 {
		return
	}
	step := t.codeFreq / t.cfg.SampFreq
	carrStep := gnss.TwoPi * t.carrFreq / t.cfg.SampFreq
	d := t.cfg.CorrSpacing
	half := len(block) / 2

	var e, l, p1, p2 complex128
	for i, x := range block {
		s, c := math.Sincos(t.remCarrPhase + float64(i)*carrStep)
		bb := x * complex(c, -s)
		phase := t.remCodePhase + float64(i)*step
		e += bb * complex(t.chip(phase-d), 0)
		l += bb * complex(t.chip(phase+d), 0)
		pc := bb * complex(t.chip(phase), 0)
		if i < half {
			p1 += pc
		} else {
			p2 += pc
		}
	}
	p := p1 + p2
	t.corr = Correlators{
		IE: real(e), QE: imag(e),
		IP: real(p), QP: imag(p),
		IL: real(l), QL: imag(l),
		IP1: real(p1), QP1: imag(p1),
		IP2: real(p2), QP2: imag(p2),
	}

	n := float64(len(block))
	t.remCodePhase += n*step - float64(len(t.code))
	t.remCarrPhase = math.Mod(t.remCarrPhase+n*carrStep, gnss.TwoPi)
	t.carrierCycles += (t.carrFreq - t.cfg.IntmdFreq) * n / t.cfg.SampFreq
}

// Dump runs the discriminators and loop filters on the latest correlators.
func (t *CorrelatorTracker) Dump() {
	c := t.corr
	t.epochs++

	cross := c.IP1*c.QP2 - c.IP2*c.QP1
	dot := c.IP1*c.IP2 + c.QP1*c.QP2
	t.fllErr = math.Atan2(cross, dot) / (gnss.TwoPi * integrationTime / 2)
	if t.epochs <= t.cfg.PullInMs {
		t.carrFreqBasis += t.cfg.FLLGain * t.fllErr
	}

	t.pllErr = 0
	if c.IP != 0 {
		t.pllErr = math.Atan(c.QP/c.IP) / gnss.TwoPi
	}
	t.carrFreq = t.carrFreqBasis + t.pll.update(t.pllErr)

	early := math.Hypot(c.IE, c.QE)
	late := math.Hypot(c.IL, c.QL)
	t.dllErr = 0
	if early+late > 0 {
		t.dllErr = (early - late) / (early + late)
	}
	t.codeFreq = t.aidedCodeFreq() - t.dll.update(t.dllErr)

	t.updateCN0()
}

func (t *CorrelatorTracker) updateCN0() {
	c := t.corr
	t.winI = append(t.winI, math.Abs(c.IP))
	t.winQ = append(t.winQ, c.IP*c.IP+c.QP*c.QP)
	if pw := c.IP*c.IP + c.QP*c.QP; pw > 0 {
		t.winLock = append(t.winLock, (c.IP*c.IP-c.QP*c.QP)/pw)
	} else {
		t.winLock = append(t.winLock, 0)
	}
	if len(t.winI) < cn0Window {
		return
	}

	amp := stat.Mean(t.winI, nil)
	signal := amp * amp
	noise := stat.Mean(t.winQ, nil) - signal
	if noise <= 0 {
		noise = signal * 1e-6
	}
	if signal > 0 {
		t.cn0 = 10 * math.Log10(signal/noise/integrationTime)
	}
	pllLock := stat.Mean(t.winLock, nil)
	t.winI, t.winQ, t.winLock = t.winI[:0], t.winQ[:0], t.winLock[:0]

	if t.epochs > t.cfg.PullInMs {
		t.lock.update(t.cn0, trackingConfidence(t.cn0, pllLock))
	}
}

// Demodulate shifts the sign of the prompt into the data bit accumulator.
func (t *CorrelatorTracker) Demodulate() {
	var bit uint64
	if t.corr.IP > 0 {
		bit = 1
	}
	t.navBits[1] = t.navBits[1]<<1 | t.navBits[0]>>63
	t.navBits[0] = t.navBits[0]<<1 | bit
}

// Steer replaces the carrier frequency basis with an externally predicted
// Doppler (vector feedback).
func (t *CorrelatorTracker) Steer(doppler float64) {
	t.carrFreqBasis = t.cfg.IntmdFreq + doppler
}

func (t *CorrelatorTracker) Correlators() Correlators { return t.corr }
func (t *CorrelatorTracker) Lock() LockState          { return t.lock.state }
func (t *CorrelatorTracker) CN0() float64             { return t.cn0 }
func (t *CorrelatorTracker) Doppler() float64         { return t.carrFreq - t.cfg.IntmdFreq }
func (t *CorrelatorTracker) CodePhase() float64       { return t.remCodePhase }
func (t *CorrelatorTracker) CarrierPhase() float64    { return t.carrierCycles }
func (t *CorrelatorTracker) NavBits() [2]uint64       { return t.navBits }
func (t *CorrelatorTracker) Epochs() int              { return t.epochs }

// Discriminators returns the DLL [chips of normalised envelope], PLL
// [cycles] and FLL [Hz] errors of the last epoch.
func (t *CorrelatorTracker) Discriminators() (dll, pll, fll float64) {
	return t.dllErr, t.pllErr, t.fllErr
}

// ChipError converts the DLL discriminator to a code offset in chips.
func (t *CorrelatorTracker) ChipError() float64 {
	return t.dllErr * (1 - t.cfg.CorrSpacing)
}

// Variances returns the thermal noise variance of the code [chips^2] and
// frequency [Hz^2] measurements at the current C/N0.
func (t *CorrelatorTracker) Variances() (chip, freq float64) {
	cn0 := math.Pow(10, t.cn0/10)
	if cn0 <= 0 || t.cn0 == 0 {
		cn0 = math.Pow(10, t.cfg.MinCN0/10)
	}
	spacing := 2 * t.cfg.CorrSpacing
	chip = t.cfg.DLLBandwidth * spacing / (2 * cn0) * (1 + 2/(integrationTime*cn0*(2-spacing)))
	phase := t.cfg.PLLBandwidth / cn0 * (1 + 1/(2*integrationTime*cn0)) / (gnss.TwoPi * gnss.TwoPi)
	freq = phase / (integrationTime * integrationTime)
	return chip, freq
}
