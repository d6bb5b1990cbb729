// Package receiver wires the sample producer, the channels and the navigator
// around one shared sample buffer and runs them in lockstep.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rjboer/GoGNSS/internal/acquisition"
	"github.com/rjboer/GoGNSS/internal/channel"
	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/dsp"
	"github.com/rjboer/GoGNSS/internal/ephemeris"
	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navigator"
	"github.com/rjboer/GoGNSS/internal/sdr"
	"github.com/rjboer/GoGNSS/internal/shm"
)

// Metrics is the union of everything the receiver's parts report.
type Metrics interface {
	channel.Metrics
	navigator.Metrics
	Epoch()
}

// SpectrumSink receives the front-end power spectrum.
type SpectrumSink interface {
	UpdateSpectrumSnapshot(bins []float64, source string)
}

type Options struct {
	Config config.Config
	Source sdr.SDR
	// Ephemeris is pushed to the navigator before the first epoch. When nil
	// and the assist section names a file, that file is loaded.
	Ephemeris map[uint8]ephemeris.Keplerian

	Reporter navigator.Reporter
	Status   channel.StatusReporter
	Metrics  Metrics
	Spectrum SpectrumSink
	Logger   logging.Logger
}

// Receiver owns the shared handles. Build it with New and call Run once.
type Receiver struct {
	cfg config.Config
	log logging.Logger
	src sdr.SDR

	buf       *shm.SampleBuffer
	dataReady *shm.Barrier
	consumed  *shm.Barrier
	running   atomic.Bool

	setup    *acquisition.Setup
	nav      *navigator.Navigator
	pool     *PRNPool
	channels []*channel.Channel

	metrics  Metrics
	spectrum SpectrumSink
	monitor  *dsp.Spectrum
	specBuf  []complex128

	epochs     uint64
	lastNotify uint64
	specSource string
}

// New validates cfg and builds every shared handle, the navigator and the
// channels. Channel logs are created here, so an unwritable output folder
// fails before anything runs.
func New(opts Options) (*Receiver, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Source == nil {
		return nil, errors.New("receiver: sample source is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	r := &Receiver{
		cfg:        cfg,
		log:        logging.Named(opts.Logger, "receiver"),
		src:        opts.Source,
		metrics:    opts.Metrics,
		spectrum:   opts.Spectrum,
		specSource: cfg.General.InFile,
	}
	if r.specSource == "" {
		r.specSource = "sdr"
	}

	codes := gnss.CACodes()
	setup, err := acquisition.InitAcquisitionMatrices(codes[:], cfg.Acquisition.DopplerRange, cfg.Acquisition.DopplerStep,
		cfg.RFSignal.SampFreq, gnss.CACodeRate, cfg.RFSignal.IntmdFreq)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	setup.Log = logging.Named(opts.Logger, "acquisition")
	r.setup = setup
	test, ok := acquisition.ByName(cfg.Acquisition.Test)
	if !ok {
		return nil, fmt.Errorf("%w: unknown acquisition test %q", config.ErrInvalid, cfg.Acquisition.Test)
	}

	nAnt := cfg.RFSignal.NumAnt
	buf, err := shm.NewSampleBuffer(cfg.BufferSamples(), cfg.ReadSamples(), nAnt)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	r.buf = buf
	prns := cfg.InitialPRNs()
	r.dataReady = shm.NewBarrier(len(prns) + 1)
	r.consumed = shm.NewBarrier(len(prns) + 1)
	r.running.Store(true)

	var assist *navigator.Assist
	var startToW float64
	var week uint16
	if a := cfg.Navigation.Assist; a != nil {
		assist = &navigator.Assist{Week: a.Week, ToW: a.ToW, ApproxPos: a.ApproxPos}
		startToW, week = a.ToW, a.Week
	}
	navOpts := navigator.Options{
		SampFreq:    cfg.RFSignal.SampFreq,
		Capacity:    buf.Capacity(),
		Channels:    len(prns),
		MinChannels: cfg.Navigation.MinChannels,
		Vector:      cfg.Navigation.Vector,
		Assist:      assist,
		Reporter:    opts.Reporter,
		Logger:      opts.Logger,
	}
	if opts.Metrics != nil {
		navOpts.Metrics = opts.Metrics
	}
	r.nav = navigator.New(navOpts)

	eph := opts.Ephemeris
	if eph == nil && cfg.Navigation.Assist != nil && cfg.Navigation.Assist.EphemerisFile != "" {
		eph, err = config.LoadEphemeris(cfg.Navigation.Assist.EphemerisFile)
		if err != nil {
			return nil, err
		}
	}
	for prn, e := range eph {
		r.nav.PushEphem(navigator.EphemPacket{ChannelID: -1, PRN: prn, Eph: e})
	}

	r.pool = NewPRNPool(prns)
	trk := channel.DefaultTrackerConfig(cfg.RFSignal.SampFreq, cfg.RFSignal.IntmdFreq)
	trk.CorrSpacing = cfg.Tracking.CorrelatorSpacing
	trk.DLLBandwidth = cfg.Tracking.DLLBandwidth
	trk.PLLBandwidth = cfg.Tracking.PLLBandwidth
	trk.PullInMs = cfg.Tracking.PullInMs
	trk.MinCN0 = cfg.Tracking.MinCNo
	acqParams := channel.AcquisitionParams{
		Setup:       setup,
		Test:        test,
		Threshold:   cfg.Acquisition.Threshold,
		Coherent:    cfg.Acquisition.NumCohPer,
		NonCoherent: cfg.Acquisition.NumNoncohPer,
	}

	for id, prn := range prns {
		sig, err := channel.NewGpsL1ca(prn, acqParams, trk)
		if err != nil {
			r.closeChannels()
			return nil, fmt.Errorf("channel %d: %w", id, err)
		}
		var beam *dsp.BeamFormer
		if nAnt > 1 {
			wl := cfg.Antenna.Wavelength
			if wl == 0 {
				wl = gnss.GpsL1Wavelength
			}
			if beam, err = dsp.NewBeamFormer(cfg.Antenna.Positions, wl); err != nil {
				r.closeChannels()
				return nil, fmt.Errorf("channel %d: %w", id, err)
			}
		}
		chOpts := channel.Options{
			ID:        id,
			Signal:    sig,
			Buffer:    buf,
			DataReady: r.dataReady,
			Consumed:  r.consumed,
			Running:   &r.running,
			Nav:       r.nav,
			Assigner:  r.pool,
			MaxFailed: cfg.Acquisition.MaxFailedAttempts,
			SampFreq:  cfg.RFSignal.SampFreq,
			NavPeriod: cfg.NavPeriodSamples(),
			StartToW:  startToW,
			Week:      week,
			LogPath:   cfg.ChannelLogPath(id),
			Beam:      beam,
			NullSteer: cfg.Antenna.Nulling,
			Status:    opts.Status,
			Logger:    opts.Logger,
		}
		if opts.Metrics != nil {
			chOpts.Metrics = opts.Metrics
		}
		ch, err := channel.New(chOpts)
		if err != nil {
			r.closeChannels()
			return nil, err
		}
		r.channels = append(r.channels, ch)
	}

	if n := cfg.Telemetry.SpectrumFFT; n > 0 && opts.Spectrum != nil {
		if n > buf.ReadSize() {
			n = buf.ReadSize()
		}
		r.monitor = dsp.NewSpectrum(n, cfg.RFSignal.BitDepth)
	}
	return r, nil
}

func (r *Receiver) closeChannels() {
	for _, ch := range r.channels {
		ch.Join()
	}
}

// Channels returns the receiver's channels.
func (r *Receiver) Channels() []*channel.Channel { return r.channels }

// Navigator returns the navigation engine.
func (r *Receiver) Navigator() *navigator.Navigator { return r.nav }

// Pool returns the PRN assignment authority.
func (r *Receiver) Pool() *PRNPool { return r.pool }

// Epochs is the number of read units published so far.
func (r *Receiver) Epochs() uint64 { return atomic.LoadUint64(&r.epochs) }

// Run opens the source and processes samples until the input ends, the
// configured duration is reached or ctx is canceled. Every unit read is
// processed by the channels before Run returns. Cancellation is not an
// error.
func (r *Receiver) Run(ctx context.Context) error {
	src := sdr.Config{
		SampleRate:  r.cfg.RFSignal.SampFreq,
		IntmdFreq:   r.cfg.RFSignal.IntmdFreq,
		NumSamples:  r.buf.ReadSize(),
		NumAntennas: r.cfg.RFSignal.NumAnt,
		Path:        r.cfg.General.InFile,
		IsComplex:   r.cfg.RFSignal.IsComplex,
		BitDepth:    r.cfg.RFSignal.BitDepth,
		SkipMs:      r.cfg.RFSignal.SkipMs,
	}
	if err := r.src.Init(ctx, src); err != nil {
		r.closeChannels()
		return fmt.Errorf("open sample source: %w", err)
	}
	defer r.src.Close()

	r.log.Info("receiver starting",
		logging.F("channels", len(r.channels)),
		logging.F("samp_freq", r.cfg.RFSignal.SampFreq),
		logging.F("buffer_samples", r.buf.Capacity()),
		logging.F("read_samples", r.buf.ReadSize()),
		logging.F("vector", r.cfg.Navigation.Vector))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.nav.Run(gctx) })
	for _, ch := range r.channels {
		ch.Start()
	}
	g.Go(func() error {
		err := r.produce(gctx)
		for _, ch := range r.channels {
			if jerr := ch.Join(); jerr != nil && err == nil {
				err = jerr
			}
		}
		r.nav.Stop()
		return err
	})
	err := g.Wait()
	r.log.Info("receiver stopped", logging.F("epochs", r.Epochs()), logging.F("solutions_valid", r.nav.Initialized()))
	return err
}

// produce is the producer side of the epoch handshake: write a unit,
// publish it at the data-available barrier, then wait at the processing
// barrier before overwriting the next unit while the channels work. Once no
// unit is left the running flag is cleared and one empty publication follows,
// so every channel processes the last unit and then leaves its loop at the
// same barrier generation.
func (r *Receiver) produce(ctx context.Context) error {
	first := true
	for {
		if !first {
			r.consumed.Wait()
		}
		first = false
		more, err := r.writeUnit(ctx)
		if !more {
			r.running.Store(false)
		}
		r.dataReady.Wait()
		if !more {
			return err
		}
		r.afterPublish()
	}
}

// writeUnit reads and commits the next unit. It reports false, without
// writing, once the input or the configured duration is exhausted; that
// final publication only releases the channels.
func (r *Receiver) writeUnit(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if limit := r.cfg.Epochs(); limit > 0 && r.Epochs() >= uint64(limit) {
		return false, nil
	}
	if err := r.src.RX(ctx, r.buf.WriteUnit()); err != nil {
		switch {
		case errors.Is(err, sdr.ErrEndOfData):
			r.log.Info("end of sample data", logging.F("epochs", r.Epochs()))
			return false, nil
		case ctx.Err() != nil:
			return false, nil
		default:
			return false, fmt.Errorf("read samples: %w", err)
		}
	}
	r.buf.CommitUnit()
	n := atomic.AddUint64(&r.epochs, 1)
	if r.metrics != nil {
		r.metrics.Epoch()
	}
	if limit := r.cfg.Epochs(); limit > 0 && n >= uint64(limit) {
		r.log.Debug("duration reached", logging.F("epochs", n))
	}
	return true, nil
}

// afterPublish runs between the data-available and processing barriers,
// when every channel has finished the previous epoch.
func (r *Receiver) afterPublish() {
	samples := r.Epochs() * uint64(r.buf.ReadSize())
	period := uint64(r.cfg.NavPeriodSamples())
	if slot := samples / period; slot > r.lastNotify {
		r.lastNotify = slot
		r.nav.Notify()
		r.updateSpectrum()
	}
}

func (r *Receiver) updateSpectrum() {
	if r.monitor == nil {
		return
	}
	n := r.monitor.Size()
	last := int((r.Epochs()-1)*uint64(r.buf.ReadSize())) % r.buf.Capacity()
	r.specBuf = r.buf.Segment(r.specBuf, last, n, 0)
	if bins := r.monitor.PowerDBFS(r.specBuf[:n]); bins != nil {
		r.spectrum.UpdateSpectrumSnapshot(bins, r.specSource)
	}
}
