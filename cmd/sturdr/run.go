package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/receiver"
	"github.com/rjboer/GoGNSS/internal/sdr"
	"github.com/rjboer/GoGNSS/internal/telemetry"
)

type runOptions struct {
	inFile      string
	outFolder   string
	msToProcess int
	backend     string
	mockPRNs    []int
	mockNoise   float64
	mockPhase   float64
	webAddr     string
	announce    bool
	vector      bool
	spectrumFFT int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process samples through acquisition, tracking and navigation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			o.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			src, err := selectSource(o.backend, o.mockPRNs, o.mockNoise)
			if err != nil {
				return err
			}
			if m, ok := src.(*sdr.MockSDR); ok {
				m.SetPhaseDelta(o.mockPhase)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runReceiver(ctx, cfg, src, o.announce, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.inFile, "in", "", "Input sample file (overrides general.in_file)")
	f.StringVar(&o.outFolder, "out", "", "Output folder for channel logs")
	f.IntVar(&o.msToProcess, "ms", 0, "Milliseconds to process, 0 for the whole input")
	f.StringVar(&o.backend, "backend", "file", "Sample source (file|mock)")
	f.IntSliceVar(&o.mockPRNs, "mock-prn", []int{3, 11, 17, 24}, "PRNs simulated by the mock source")
	f.Float64Var(&o.mockNoise, "mock-noise", 0.5, "Mock source noise standard deviation per component")
	f.Float64Var(&o.mockPhase, "mock-phase-delta", 30, "Mock source carrier phase step between antennas in degrees")
	f.StringVar(&o.webAddr, "web-addr", "", "Web telemetry listen address, empty string disables it")
	f.BoolVar(&o.announce, "announce", false, "Announce the web telemetry over mDNS")
	f.BoolVar(&o.vector, "vector", false, "Use vector tracking once the navigator is initialised")
	f.IntVar(&o.spectrumFFT, "spectrum-fft", 0, "FFT size of the front-end spectrum monitor, 0 disables it")
	return cmd
}

// apply copies the flags the user set over cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("in") {
		cfg.General.InFile = o.inFile
	}
	if flags.Changed("out") {
		cfg.General.OutFolder = o.outFolder
	}
	if flags.Changed("ms") {
		cfg.General.MsToProcess = o.msToProcess
	}
	if flags.Changed("web-addr") {
		cfg.Telemetry.WebAddr = o.webAddr
	}
	if flags.Changed("announce") {
		cfg.Telemetry.Announce = o.announce
	}
	o.announce = cfg.Telemetry.Announce
	if flags.Changed("vector") {
		cfg.Navigation.Vector = o.vector
	}
	if flags.Changed("spectrum-fft") {
		cfg.Telemetry.SpectrumFFT = o.spectrumFFT
	}
}

func selectSource(backend string, prns []int, noise float64) (sdr.SDR, error) {
	switch backend {
	case "file":
		return sdr.NewFileSource(), nil
	case "mock":
		signals := make([]sdr.MockSignal, 0, len(prns))
		for i, prn := range prns {
			signals = append(signals, sdr.MockSignal{
				PRN:       prn,
				Doppler:   float64(-3000 + 1750*i),
				CodeDelay: float64(137 + 311*i),
				Amplitude: 0.5,
			})
		}
		return sdr.NewMock(noise, 1, signals...), nil
	default:
		return nil, fmt.Errorf("unknown backend %s", backend)
	}
}

// runReceiver wires telemetry around a receiver and runs both until the
// receiver finishes or ctx is canceled.
func runReceiver(ctx context.Context, cfg config.Config, src sdr.SDR, announce bool, log logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := telemetry.NewHub(cfg.Telemetry.HistoryLimit, log)
	metrics := telemetry.NewMetrics()
	stdout := telemetry.NewStdoutReporter(log)
	reporters := telemetry.MultiReporter{hub, stdout}
	status := telemetry.MultiStatusReporter{hub, stdout}

	rcv, err := receiver.New(receiver.Options{
		Config:   cfg,
		Source:   src,
		Reporter: reporters,
		Status:   status,
		Metrics:  metrics,
		Spectrum: hub,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if addr := cfg.Telemetry.WebAddr; addr != "" {
		port, err := telemetry.PortOf(addr)
		if err != nil {
			return fmt.Errorf("web address: %w", err)
		}
		web := telemetry.NewWebServer(addr, hub, metrics.Registry)
		g.Go(func() error { return web.Start(gctx) })
		if announce {
			host, _ := os.Hostname()
			txt := []string{"scenario=" + cfg.General.Scenario, "channels=" + fmt.Sprint(cfg.Channels.MaxChannels)}
			g.Go(func() error { return announceBestEffort(gctx, "sturdr on "+host, port, txt, log) })
		}
	}
	g.Go(func() error {
		defer cancel()
		return rcv.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	latest := rcv.Navigator().Latest()
	log.Info("run complete",
		logging.F("epochs", rcv.Epochs()),
		logging.F("solutions", len(hub.History())),
		logging.F("last_tow", latest.ToW))
	return nil
}

var announceFunc = telemetry.Announce

// announceBestEffort advertises the telemetry server. A failed registration
// is logged and does not stop the receiver.
func announceBestEffort(ctx context.Context, instance string, port int, txt []string, log logging.Logger) error {
	if err := announceFunc(ctx, instance, port, txt); err != nil {
		log.Warn("mdns announce failed, continuing without it", logging.Err(err))
	}
	return nil
}
