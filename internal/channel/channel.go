package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rjboer/GoGNSS/internal/binlog"
	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navigator"
	"github.com/rjboer/GoGNSS/internal/shm"
)

// Options are the shared handles and settings a channel is built with.
type Options struct {
	ID     int
	Signal Signal

	Buffer    *shm.SampleBuffer
	DataReady *shm.Barrier
	Consumed  *shm.Barrier
	Running   *atomic.Bool

	Nav       NavSink
	Assigner  PRNAssigner
	MaxFailed int

	SampFreq float64
	// NavPeriod is the spacing of navigation packets in samples.
	NavPeriod int
	// StartToW and Week stamp log records with receiver time.
	StartToW float64
	Week     uint16

	LogPath string
	// Beam combines antennas when the buffer holds more than one.
	Beam *dsp.BeamFormer
	// NullSteer selects nulling instead of steering weights.
	NullSteer bool

	Status  StatusReporter
	Metrics Metrics
	Logger  logging.Logger
}

// Channel processes one signal in lockstep with the sample producer.
type Channel struct {
	opts   Options
	log    logging.Logger
	sig    Signal
	buf    *shm.SampleBuffer
	cursor *shm.Cursor
	syncer *navigator.SyncData
	blog   *binlog.Writer

	state       State
	failures    int
	lastNavSlot uint64
	obs         Observables
	scratch     []complex128
	combined    []complex128

	wg       sync.WaitGroup
	joinOnce sync.Once
	joinErr  error
}

// New creates a channel and opens its binary log. Log creation failures are
// returned before any goroutine starts.
func New(opts Options) (*Channel, error) {
	if opts.Signal == nil {
		return nil, errors.New("channel: signal is required")
	}
	if opts.Buffer == nil || opts.DataReady == nil || opts.Consumed == nil || opts.Running == nil {
		return nil, errors.New("channel: buffer, barriers and running flag are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.MaxFailed <= 0 {
		opts.MaxFailed = 1
	}
	if opts.Buffer.Antennas() > 1 && (opts.Beam == nil || opts.Beam.Elements() != opts.Buffer.Antennas()) {
		return nil, fmt.Errorf("channel %d: %d antennas need a matching beamformer", opts.ID, opts.Buffer.Antennas())
	}
	c := &Channel{
		opts:   opts,
		log:    logging.Named(opts.Logger, "channel").With(logging.F("channel", opts.ID)),
		sig:    opts.Signal,
		buf:    opts.Buffer,
		cursor: shm.NewCursor(opts.Buffer),
		state:  Acquiring,
	}
	if opts.Nav != nil {
		c.syncer = opts.Nav.SyncData(opts.ID)
	}
	if opts.LogPath != "" {
		w, err := binlog.Create(opts.LogPath)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", opts.ID, err)
		}
		c.blog = w
	}
	return c, nil
}

func (c *Channel) ID() int             { return c.opts.ID }
func (c *Channel) State() State        { return c.state }
func (c *Channel) PRN() uint8          { return c.sig.PRN() }
func (c *Channel) Failures() int       { return c.failures }
func (c *Channel) Cursor() *shm.Cursor { return c.cursor }

// Start runs the channel loop in its own goroutine.
func (c *Channel) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run()
	}()
}

// Join waits for the goroutine started by Start and closes the log.
func (c *Channel) Join() error {
	c.wg.Wait()
	c.joinOnce.Do(func() {
		if c.blog != nil {
			c.joinErr = c.blog.Close()
		}
	})
	return c.joinErr
}

// Run is the epoch loop. Each iteration crosses the data-available barrier,
// books the published unit, crosses the processing barrier and then works on
// the unread samples while the producer writes the next unit. The running
// flag is checked once per epoch.
func (c *Channel) Run() {
	c.setState(c.state)
	c.opts.DataReady.Wait()
	c.cursor.AdvanceWriter()
	for c.opts.Running.Load() {
		c.opts.Consumed.Wait()
		c.dispatch()
		c.opts.DataReady.Wait()
		c.cursor.AdvanceWriter()
	}
	c.log.Debug("channel stopped", logging.F("prn", c.sig.PRN()), logging.F("dropped", c.cursor.Dropped()))
}

func (c *Channel) dispatch() {
	switch c.state {
	case Acquiring:
		c.Acquire()
	case Tracking:
		c.Track()
	}
	c.report()
}

// segment returns n samples starting at the read pointer, combined across
// antennas when needed.
func (c *Channel) segment(n int) []complex128 {
	start := c.cursor.ReadPtr()
	if c.buf.Antennas() == 1 {
		c.scratch = c.buf.Segment(c.scratch, start, n, 0)
		return c.scratch
	}
	c.scratch = c.buf.Block(c.scratch, start, n)
	c.combined = c.opts.Beam.CombineBlock(c.combined, c.scratch, c.buf.Antennas())
	return c.combined
}

// Acquire searches the unread samples for the assigned PRN. It waits for
// enough data; on detection it aligns the read pointer with the code start
// and switches to tracking, otherwise it discards the searched samples and
// counts a failure.
func (c *Channel) Acquire() {
	need := c.sig.AcquisitionSamples()
	if c.cursor.UnreadSampleCount() < need {
		return
	}
	res := c.sig.Acquire(c.segment(need))
	if c.opts.Metrics != nil {
		c.opts.Metrics.PcpsDuration(res.Duration)
		c.opts.Metrics.AcquisitionAttempt(res.Detected)
	}

	if res.Detected {
		c.log.Info("acquired",
			logging.F("prn", c.sig.PRN()),
			logging.F("metric", res.Metric),
			logging.F("doppler", res.Doppler),
			logging.F("code_lag", res.CodeLag))
		c.cursor.Consume(res.CodeLag)
		c.sig.StartTracking(res)
		c.failures = 0
		c.lastNavSlot = 0
		c.obs = Observables{Doppler: res.Doppler, Lock: LockTracking}
		c.setState(Tracking)
		return
	}

	c.log.Debug("acquisition failed", logging.F("prn", c.sig.PRN()), logging.F("metric", res.Metric))
	c.cursor.Consume(c.cursor.UnreadSampleCount())
	c.failures++
	if c.failures > c.opts.MaxFailed {
		c.reassign()
	}
}

func (c *Channel) reassign() {
	c.failures = 0
	if c.opts.Assigner == nil {
		return
	}
	old := c.sig.PRN()
	prn, ok := c.opts.Assigner.NextPRN(c.opts.ID, old)
	if !ok || prn == old {
		return
	}
	if err := c.sig.SetPRN(prn); err != nil {
		c.log.Warn("prn reassignment rejected", logging.F("prn", prn), logging.Err(err))
		return
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.PRNReassigned()
	}
	c.log.Info("prn reassigned", logging.F("from", old), logging.F("to", prn))
}

// Track processes every complete code period available, writing one log
// record per period. Loss of lock returns the channel to acquisition.
func (c *Channel) Track() {
	for {
		n := c.sig.BlockSize()
		if n <= 0 || c.cursor.UnreadSampleCount() < n {
			return
		}
		c.obs = c.sig.Track(c.segment(n))
		c.cursor.Consume(n)
		c.writeRecord()

		if c.obs.Lock == LockSearching {
			c.log.Info("lost lock", logging.F("prn", c.sig.PRN()), logging.F("cn0", c.obs.CN0))
			c.setState(Acquiring)
			return
		}
		c.navSync()
	}
}

// navSync pushes a navigation packet at the first code start of every
// navigation period. In vector mode the channel waits for the navigator to
// fuse it and applies the returned feedback.
func (c *Channel) navSync() {
	if c.opts.Nav == nil || c.opts.NavPeriod <= 0 || c.obs.CN0 <= 0 {
		return
	}
	idx := c.cursor.Position()
	slot := idx/uint64(c.opts.NavPeriod) + 1
	if slot == c.lastNavSlot {
		return
	}
	c.lastNavSlot = slot

	vector := c.syncer != nil && c.syncer.IsVector()
	chipWidth := gnss.SpeedOfLight / c.sig.ChipRate()
	lambda := c.sig.Wavelength()
	pkt := navigator.NavPacket{
		ChannelID:   c.opts.ID,
		PRN:         c.sig.PRN(),
		Vector:      vector,
		SampleIndex: idx,
		SamplePtr:   c.cursor.ReadPtr(),
		CodePhase:   c.obs.CodePhase,
		Week:        c.opts.Week,
		Doppler:     c.obs.Doppler,
		CN0:         c.obs.CN0,
		PsrVar:      c.obs.ChipVar * chipWidth * chipWidth,
		PsrdotVar:   c.obs.FreqVar * lambda * lambda,
		ChipErr:     c.obs.ChipErr,
		FreqErr:     c.obs.FllDisc,
		ChipVar:     c.obs.ChipVar,
		FreqVar:     c.obs.FreqVar,
	}
	if !vector {
		c.opts.Nav.PushNav(pkt)
		return
	}
	c.syncer.Begin()
	c.opts.Nav.PushNav(pkt)
	c.opts.Nav.Notify()
	fb := c.syncer.Wait()
	if !fb.Valid {
		return
	}
	c.sig.Steer(fb.Doppler)
	if c.opts.Beam != nil {
		if c.opts.NullSteer {
			c.opts.Beam.CalcNullingWeights(fb.LOS)
		} else {
			c.opts.Beam.CalcSteeringWeights(fb.LOS)
		}
	}
}

func (c *Channel) writeRecord() {
	if c.blog == nil {
		return
	}
	o := c.obs
	tow := 0.0
	if c.opts.SampFreq > 0 {
		tow = c.opts.StartToW + float64(c.cursor.Position())/c.opts.SampFreq
	}
	rec := binlog.Record{
		ChannelNum:     uint8(c.opts.ID),
		Constellation:  uint8(c.sig.Constellation()),
		Signal:         uint8(c.sig.Type()),
		SVID:           c.sig.PRN(),
		ChannelStatus:  uint8(c.state),
		TrackingStatus: uint8(o.Lock),
		Week:           c.opts.Week,
		ToW:            tow,
		CNo:            o.CN0,
		Doppler:        o.Doppler,
		CodePhase:      o.CodePhase,
		CarrierPhase:   o.CarrierPhase,
		IE:             o.Corr.IE,
		IP:             o.Corr.IP,
		IL:             o.Corr.IL,
		QE:             o.Corr.QE,
		QP:             o.Corr.QP,
		QL:             o.Corr.QL,
		IP1:            o.Corr.IP1,
		IP2:            o.Corr.IP2,
		QP1:            o.Corr.QP1,
		QP2:            o.Corr.QP2,
		DllDisc:        o.DllDisc,
		PllDisc:        o.PllDisc,
		FllDisc:        o.FllDisc,
		NavBits:        o.NavBits,
	}
	if err := c.blog.Write(&rec); err != nil {
		c.log.Warn("channel log write failed", logging.Err(err))
	}
}

func (c *Channel) setState(s State) {
	c.state = s
	if c.opts.Metrics != nil {
		c.opts.Metrics.ChannelState(c.opts.ID, s)
	}
}

func (c *Channel) report() {
	if c.opts.Status == nil {
		return
	}
	c.opts.Status.ReportChannel(Status{
		ID:        c.opts.ID,
		PRN:       c.sig.PRN(),
		State:     c.state.String(),
		Lock:      c.obs.Lock.String(),
		CN0:       c.obs.CN0,
		Doppler:   c.obs.Doppler,
		CodePhase: c.obs.CodePhase,
		Failures:  c.failures,
	})
}
