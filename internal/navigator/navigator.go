// Package navigator fuses per-channel observables into one navigation
// solution per update. Channels push packets from their own goroutines; a
// single navigation goroutine drains them when notified.
package navigator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rjboer/GoGNSS/internal/ephemeris"
	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navfilter"
	"github.com/rjboer/GoGNSS/internal/navtools"
	"github.com/rjboer/GoGNSS/internal/queue"
)

// Solution is the published navigation state.
type Solution struct {
	Week       uint16     `json:"week"`
	ToW        float64    `json:"tow"`
	LLA        [3]float64 `json:"lla"` // deg, deg, m
	ECEF       [3]float64 `json:"ecef"`
	VelNED     [3]float64 `json:"vel_ned"`
	RPY        [3]float64 `json:"rpy"`
	ClockBias  float64    `json:"clock_bias"`  // [m]
	ClockDrift float64    `json:"clock_drift"` // [m/s]
	NumSV      int        `json:"num_sv"`
	Mode       string     `json:"mode"`
	GDOP       float64    `json:"gdop,omitempty"`
}

// Reporter receives every navigation solution.
type Reporter interface {
	ReportSolution(Solution)
}

// Metrics observes navigation updates.
type Metrics interface {
	NavUpdate(mode string)
}

// Assist provides coarse time and position used to resolve the
// millisecond ambiguity of transmit times when channels have not decoded
// the time of week. ToW is the receiver time of sample zero; the combined
// time and position error must stay well below half a millisecond.
type Assist struct {
	Week      uint16
	ToW       float64
	ApproxPos [3]float64 // ECEF [m]
}

type Options struct {
	SampFreq    float64
	Capacity    int // sample buffer capacity, for pointer wraparound
	Channels    int
	MinChannels int
	Vector      bool // move channels to vector tracking once initialised
	Filter      navfilter.Filter
	Assist      *Assist
	Reporter    Reporter
	Metrics     Metrics
	Logger      logging.Logger
}

// Observation is a packet with its resolved transmit time (GPS time,
// satellite clock removed) and the satellite state at that time.
type Observation struct {
	Packet       NavPacket
	TransmitTime float64
	Sat          ephemeris.State
	Psrdot       float64 // measured, satellite drift removed [m/s]
}

// initial guess of the shortest signal travel time
const nominalTravel = 0.068

type Navigator struct {
	opts Options
	log  logging.Logger

	navQ *queue.Queue[NavPacket]
	ephQ *queue.Queue[EphemPacket]

	// aggregation state
	mu          sync.Mutex
	channelData map[int]NavPacket
	ephem       ephemeris.Table
	initialized bool
	vector      bool

	// wake condition
	evMu    sync.Mutex
	evCond  *sync.Cond
	pending bool

	running atomic.Bool
	syncs   []*SyncData
	done    chan struct{}

	// owned by the navigation goroutine
	filter      navfilter.Filter
	filePtr     int
	fileIdx     uint64
	week        uint16
	receiveTime float64
	rpy         [3]float64 // deg
	last        Solution
}

// below this horizontal speed the heading is left unchanged [m/s]
const minHeadingSpeed = 0.5

func New(opts Options) *Navigator {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.MinChannels < 4 {
		opts.MinChannels = 4
	}
	if opts.Filter == nil {
		opts.Filter = navfilter.NewClockKF(navfilter.DefaultKFConfig())
	}
	n := &Navigator{
		opts:        opts,
		log:         logging.Named(opts.Logger, "navigator"),
		navQ:        queue.New[NavPacket](),
		ephQ:        queue.New[EphemPacket](),
		channelData: make(map[int]NavPacket),
		ephem:       ephemeris.Table{},
		filter:      opts.Filter,
		done:        make(chan struct{}),
	}
	n.evCond = sync.NewCond(&n.evMu)
	n.syncs = make([]*SyncData, opts.Channels)
	for i := range n.syncs {
		n.syncs[i] = newSyncData()
	}
	if opts.Assist != nil {
		n.week = opts.Assist.Week
	}
	n.running.Store(true)
	return n
}

// PushNav queues an observable packet. Safe from any goroutine.
func (n *Navigator) PushNav(p NavPacket) { n.navQ.Push(p) }

// PushEphem queues an ephemeris packet. Safe from any goroutine.
func (n *Navigator) PushEphem(p EphemPacket) { n.ephQ.Push(p) }

// SyncData returns the synchronisation handle of a channel.
func (n *Navigator) SyncData(channelID int) *SyncData {
	if channelID < 0 || channelID >= len(n.syncs) {
		return nil
	}
	return n.syncs[channelID]
}

// Notify wakes the navigation goroutine for one update.
func (n *Navigator) Notify() {
	n.evMu.Lock()
	n.pending = true
	n.evMu.Unlock()
	n.evCond.Signal()
}

// Stop ends the navigation goroutine and releases every waiting channel.
func (n *Navigator) Stop() {
	n.running.Store(false)
	n.evMu.Lock()
	n.evMu.Unlock()
	n.evCond.Broadcast()
	for _, s := range n.syncs {
		s.stop()
	}
}

// Running reports whether Stop has not been called.
func (n *Navigator) Running() bool { return n.running.Load() }

// Run executes the navigation goroutine until Stop or ctx cancellation.
func (n *Navigator) Run(ctx context.Context) error {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			n.Stop()
		case <-stopWatch:
		}
	}()
	n.NavigationThread()
	return nil
}

// NavigationThread waits for notifications and runs one update per wake.
func (n *Navigator) NavigationThread() {
	defer close(n.done)
	for {
		n.evMu.Lock()
		for !n.pending && n.running.Load() {
			n.evCond.Wait()
		}
		n.pending = false
		n.evMu.Unlock()
		if !n.running.Load() {
			n.log.Debug("navigation thread stopped")
			return
		}
		n.NavigationUpdate()
	}
}

// Done is closed when the navigation goroutine returns.
func (n *Navigator) Done() <-chan struct{} { return n.done }

// ChannelEphemPacketListener drains queued ephemerides into the table.
func (n *Navigator) ChannelEphemPacketListener() {
	pkts := n.ephQ.Drain()
	if len(pkts) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range pkts {
		eph := p.Eph
		if n.ephem.Update(p.PRN, &eph) {
			n.log.Debug("ephemeris stored", logging.F("prn", p.PRN), logging.F("channel", p.ChannelID))
		}
	}
}

// ChannelNavPacketListener drains queued observables, keeping the latest per
// channel.
func (n *Navigator) ChannelNavPacketListener() {
	pkts := n.navQ.Drain()
	if len(pkts) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range pkts {
		n.channelData[p.ChannelID] = p
	}
}

// NavigationUpdate consumes the aggregated packets and performs an
// initialisation, scalar or vector update. It reports whether a solution was
// produced.
func (n *Navigator) NavigationUpdate() bool {
	n.ChannelEphemPacketListener()
	n.ChannelNavPacketListener()

	n.mu.Lock()
	pkts := make([]NavPacket, 0, len(n.channelData))
	for id, p := range n.channelData {
		pkts = append(pkts, p)
		delete(n.channelData, id)
	}
	ephs := make(map[uint8]ephemeris.Keplerian, len(n.ephem))
	for prn, e := range n.ephem {
		ephs[prn] = *e
	}
	initialized := n.initialized
	vectorMode := n.vector
	n.mu.Unlock()

	feedback := map[int]Feedback{}
	defer func() {
		for _, p := range pkts {
			if s := n.SyncData(p.ChannelID); s != nil {
				s.finish(feedback[p.ChannelID])
			}
		}
	}()

	common := latestPacket(pkts)
	ref := common.SampleIndex
	dSamp := 0
	if initialized {
		// Late packets from an epoch the filter has already passed are
		// aligned to the filter epoch instead of rewinding it.
		if ref < n.fileIdx {
			ref = n.fileIdx
		} else {
			// the wrapped pointer is ambiguous by whole buffers
			dSamp = int(ref - n.fileIdx)
			if c := n.opts.Capacity; c > 0 && n.GetDeltaSamples(common.SamplePtr) != dSamp%c {
				n.log.Debug("sample pointer out of step with index",
					logging.F("ptr", common.SamplePtr),
					logging.F("index", ref))
			}
		}
	}
	obs := n.observations(pkts, ephs, ref)
	if len(obs) == 0 {
		return false
	}

	if !initialized {
		if len(obs) < n.opts.MinChannels {
			n.log.Debug("waiting for channels", logging.F("have", len(obs)), logging.F("need", n.opts.MinChannels))
			return false
		}
		if _, err := n.InitNavSolution(obs, common); err != nil {
			n.log.Warn("navigation initialisation failed", logging.Err(err))
			return false
		}
		n.mu.Lock()
		n.initialized = true
		n.vector = n.opts.Vector
		n.mu.Unlock()
		if n.opts.Vector {
			for _, o := range obs {
				if s := n.SyncData(o.Packet.ChannelID); s != nil {
					s.setVector(true)
				}
			}
		}
		n.publish(len(obs), "init")
		return true
	}

	var scalar, vector []Observation
	for _, o := range obs {
		if o.Packet.Vector {
			vector = append(vector, o)
		} else {
			scalar = append(scalar, o)
		}
	}
	mode := "scalar"
	if len(scalar) > 0 {
		if err := n.ScalarNavSolution(scalar, dSamp); err != nil {
			n.log.Warn("scalar update failed", logging.Err(err))
		}
		dSamp = 0
		// channels that started tracking after initialisation join
		// vector mode on their next epoch
		if vectorMode {
			for _, o := range scalar {
				if s := n.SyncData(o.Packet.ChannelID); s != nil {
					s.setVector(true)
				}
			}
		}
	}
	if len(vector) > 0 {
		mode = "vector"
		fb, err := n.VectorNavSolution(vector, dSamp)
		if err != nil {
			n.log.Warn("vector update failed", logging.Err(err))
		}
		feedback = fb
	}
	n.publish(len(obs), mode)
	return true
}

func latestPacket(pkts []NavPacket) NavPacket {
	var latest NavPacket
	for _, p := range pkts {
		if p.SampleIndex >= latest.SampleIndex {
			latest = p
		}
	}
	return latest
}

// observations resolves transmit times, aligns every packet to the absolute
// sample index ref and evaluates satellite states.
func (n *Navigator) observations(pkts []NavPacket, ephs map[uint8]ephemeris.Keplerian, ref uint64) []Observation {
	out := make([]Observation, 0, len(pkts))
	for _, p := range pkts {
		eph, ok := ephs[p.PRN]
		if !ok {
			continue
		}
		tx := p.TransmitTime
		if tx <= 0 {
			if tx, ok = n.resolveTransmitTime(p, &eph); !ok {
				continue
			}
		}
		psrdot := -gnss.GpsL1Wavelength * p.Doppler
		if n.opts.SampFreq > 0 {
			dt := float64(int64(ref)-int64(p.SampleIndex)) / n.opts.SampFreq
			tx += dt * (1 - psrdot/gnss.SpeedOfLight)
		}
		clk := eph.NavStates(tx, false).Clock
		tx -= clk[0]
		st := eph.NavStates(tx, false)
		out = append(out, Observation{
			Packet:       p,
			TransmitTime: tx,
			Sat:          st,
			Psrdot:       psrdot + gnss.SpeedOfLight*st.Clock[1],
		})
	}
	return out
}

// resolveTransmitTime fixes the whole milliseconds of a code-phase-only
// measurement from the assisted receive time and position.
func (n *Navigator) resolveTransmitTime(p NavPacket, eph *ephemeris.Keplerian) (float64, bool) {
	a := n.opts.Assist
	if a == nil || n.opts.SampFreq <= 0 {
		return 0, false
	}
	rx := a.ToW + float64(p.SampleIndex)/n.opts.SampFreq
	tau := nominalTravel
	var clk float64
	for i := 0; i < 3; i++ {
		st := eph.NavStates(rx-tau, false)
		pos := navtools.SagnacRotate(st.Pos, tau)
		_, rng := navtools.Unit(navtools.Sub(pos, a.ApproxPos))
		tau = rng / gnss.SpeedOfLight
		clk = st.Clock[0]
	}
	coarse := rx - tau + clk
	frac := p.CodePhase / gnss.CACodeRate
	const period = 1e-3
	k := math.Round((coarse - frac) / period)
	return k*period + frac, true
}

func (n *Navigator) measurements(obs []Observation, bias float64) []navfilter.Measurement {
	meas := make([]navfilter.Measurement, len(obs))
	for i, o := range obs {
		psr := gnss.SpeedOfLight * (n.receiveTime - o.TransmitTime)
		tau := (psr - bias) / gnss.SpeedOfLight
		meas[i] = navfilter.Measurement{
			SatPos:    navtools.SagnacRotate(o.Sat.Pos, tau),
			SatVel:    navtools.SagnacRotate(o.Sat.Vel, tau),
			Psr:       psr,
			Psrdot:    o.Psrdot,
			PsrVar:    o.Packet.PsrVar,
			PsrdotVar: o.Packet.PsrdotVar,
		}
	}
	return meas
}

// InitNavSolution seeds the filter from a least-squares fix. The receive
// time is taken from the assistance when present, otherwise from the
// latest transmit time plus a nominal travel time; its error is absorbed
// into the clock bias and then removed from the receive time.
func (n *Navigator) InitNavSolution(obs []Observation, common NavPacket) (navfilter.Solution, error) {
	if a := n.opts.Assist; a != nil && n.opts.SampFreq > 0 {
		n.receiveTime = a.ToW + float64(common.SampleIndex)/n.opts.SampFreq
	} else {
		latest := 0.0
		for _, o := range obs {
			latest = math.Max(latest, o.TransmitTime)
		}
		n.receiveTime = latest + nominalTravel
	}

	var sol navfilter.Solution
	var err error
	bias := 0.0
	for pass := 0; pass < 2; pass++ {
		sol, err = navfilter.LeastSquares(n.measurements(obs, bias), navfilter.Solution{})
		if err != nil {
			return sol, err
		}
		bias = sol.ClockBias
	}

	seed := sol
	n.receiveTime -= sol.ClockBias / gnss.SpeedOfLight
	seed.ClockBias = 0
	n.filter.Init(seed)
	n.rpy = attitude(navtools.ECEF2NEDv(sol.Vel, navtools.ECEF2LLA(sol.Pos)), [3]float64{})
	n.filePtr = common.SamplePtr
	n.fileIdx = common.SampleIndex
	n.last.GDOP = sol.GDOP
	n.log.Info("navigation initialised",
		logging.F("satellites", len(obs)),
		logging.F("tow", n.receiveTime),
		logging.F("gdop", sol.GDOP))
	return sol, nil
}

// ScalarNavSolution propagates by dSamp samples and fuses pseudoranges and
// pseudorange rates.
func (n *Navigator) ScalarNavSolution(obs []Observation, dSamp int) error {
	n.propagate(dSamp)
	return n.filter.ScalarUpdate(n.measurements(obs, n.filter.State().ClockBias))
}

// VectorNavSolution propagates by dSamp samples, fuses discriminator outputs
// and returns the per-channel NCO feedback.
func (n *Navigator) VectorNavSolution(obs []Observation, dSamp int) (map[int]Feedback, error) {
	n.propagate(dSamp)
	meas := n.measurements(obs, n.filter.State().ClockBias)
	vm := make([]navfilter.VectorMeasurement, len(obs))
	for i, o := range obs {
		vm[i] = navfilter.VectorMeasurement{
			SatPos:   meas[i].SatPos,
			SatVel:   meas[i].SatVel,
			ChipErr:  o.Packet.ChipErr,
			FreqErr:  o.Packet.FreqErr,
			ChipVar:  o.Packet.ChipVar,
			FreqVar:  o.Packet.FreqVar,
			ChipRate: gnss.CACodeRate,
			Lambda:   gnss.GpsL1Wavelength,
		}
	}
	if err := n.filter.VectorUpdate(vm); err != nil {
		return nil, err
	}

	st := n.filter.State()
	lla := navtools.ECEF2LLA(st.Pos)
	fb := make(map[int]Feedback, len(obs))
	for i, o := range obs {
		_, psrdot := n.filter.Predict(meas[i].SatPos, meas[i].SatVel)
		u, _ := navtools.Unit(navtools.Sub(meas[i].SatPos, st.Pos))
		fb[o.Packet.ChannelID] = Feedback{
			Valid:   true,
			Doppler: -(psrdot - gnss.SpeedOfLight*o.Sat.Clock[1]) / gnss.GpsL1Wavelength,
			LOS:     navtools.ECEF2NEDv(u, lla),
		}
	}
	return fb, nil
}

func (n *Navigator) propagate(dSamp int) {
	if dSamp <= 0 || n.opts.SampFreq <= 0 {
		return
	}
	dt := float64(dSamp) / n.opts.SampFreq
	n.filter.Propagate(dt)
	n.receiveTime += dt
	n.fileIdx += uint64(dSamp)
	n.UpdateFilePtr(dSamp)
}

// attitude derives roll, pitch and yaw in degrees from the NED velocity.
// Without inertial aiding roll and pitch stay zero and the yaw follows the
// course over ground; prev is kept when the receiver is nearly static.
func attitude(velNED, prev [3]float64) [3]float64 {
	if math.Hypot(velNED[0], velNED[1]) < minHeadingSpeed {
		return prev
	}
	yaw := math.Atan2(velNED[1], velNED[0]) * 180 / math.Pi
	return [3]float64{0, 0, yaw}
}

// UpdateFilePtr advances the epoch sample pointer by dSamp, wrapping at the
// buffer capacity. The pointer is bookkeeping only; time steps come from
// absolute sample indices.
func (n *Navigator) UpdateFilePtr(dSamp int) {
	if n.opts.Capacity <= 0 {
		n.filePtr += dSamp
		return
	}
	n.filePtr = (n.filePtr + dSamp) % n.opts.Capacity
}

// GetDeltaSamples returns the forward distance from the epoch pointer to
// newPtr using the buffer's wraparound arithmetic.
func (n *Navigator) GetDeltaSamples(newPtr int) int {
	if newPtr >= n.filePtr || n.opts.Capacity <= 0 {
		return newPtr - n.filePtr
	}
	return n.opts.Capacity - n.filePtr + newPtr
}

// FilePtr is the buffer position of the current navigation epoch.
func (n *Navigator) FilePtr() int { return n.filePtr }

// Initialized reports whether a least-squares fix has seeded the filter.
func (n *Navigator) Initialized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.initialized
}

// Latest returns the most recent published solution.
func (n *Navigator) Latest() Solution { return n.last }

func (n *Navigator) publish(numSV int, mode string) {
	st := n.filter.State()
	lla := navtools.ECEF2LLA(st.Pos)
	tow := n.receiveTime - st.ClockBias/gnss.SpeedOfLight
	velNED := navtools.ECEF2NEDv(st.Vel, lla)
	n.rpy = attitude(velNED, n.rpy)
	sol := Solution{
		Week:       n.week,
		ToW:        tow,
		LLA:        [3]float64{lla[0] * 180 / math.Pi, lla[1] * 180 / math.Pi, lla[2]},
		ECEF:       st.Pos,
		VelNED:     velNED,
		RPY:        n.rpy,
		ClockBias:  st.ClockBias,
		ClockDrift: st.ClockDrift,
		NumSV:      numSV,
		Mode:       mode,
		GDOP:       n.last.GDOP,
	}
	n.last = sol
	if n.opts.Metrics != nil {
		n.opts.Metrics.NavUpdate(mode)
	}
	if n.opts.Reporter != nil {
		n.opts.Reporter.ReportSolution(sol)
	}
	n.log.Debug("navigation update",
		logging.F("mode", mode),
		logging.F("satellites", numSV),
		logging.F("lat", sol.LLA[0]),
		logging.F("lon", sol.LLA[1]),
		logging.F("alt", sol.LLA[2]))
}
