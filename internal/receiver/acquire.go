package receiver

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/rjboer/GoGNSS/internal/acquisition"
	"github.com/rjboer/GoGNSS/internal/channel"
	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/gnss"
	"github.com/rjboer/GoGNSS/internal/logging"
)

// AcqResult is one row of a cold-start acquisition sweep.
type AcqResult struct {
	PRN      uint8   `json:"prn"`
	Detected bool    `json:"detected"`
	Metric   float64 `json:"metric"`
	Doppler  float64 `json:"doppler"`
	CodeLag  int     `json:"code_lag"`
}

// Acquire searches samples (antenna 0, starting at index 0) for every PRN in
// prns, or all 32 when prns is empty. Searches run in parallel and results
// are returned ordered by metric, strongest first.
func Acquire(ctx context.Context, cfg config.Config, samples []complex128, prns []uint8, logger logging.Logger) ([]AcqResult, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logging.Named(logger, "acquisition")
	if len(prns) == 0 {
		for p := uint8(1); p <= numPRN; p++ {
			prns = append(prns, p)
		}
	}
	codes := gnss.CACodes()
	setup, err := acquisition.InitAcquisitionMatrices(codes[:], cfg.Acquisition.DopplerRange, cfg.Acquisition.DopplerStep,
		cfg.RFSignal.SampFreq, gnss.CACodeRate, cfg.RFSignal.IntmdFreq)
	if err != nil {
		return nil, err
	}
	setup.Log = log
	test, ok := acquisition.ByName(cfg.Acquisition.Test)
	if !ok {
		return nil, fmt.Errorf("%w: unknown acquisition test %q", config.ErrInvalid, cfg.Acquisition.Test)
	}
	params := channel.AcquisitionParams{
		Setup:       setup,
		Test:        test,
		Threshold:   cfg.Acquisition.Threshold,
		Coherent:    cfg.Acquisition.NumCohPer,
		NonCoherent: cfg.Acquisition.NumNoncohPer,
	}

	results := make([]AcqResult, len(prns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, prn := range prns {
		i, prn := i, prn
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, err := channel.NewGpsL1ca(prn, params, channel.DefaultTrackerConfig(cfg.RFSignal.SampFreq, cfg.RFSignal.IntmdFreq))
			if err != nil {
				return err
			}
			if len(samples) < sig.AcquisitionSamples() {
				return fmt.Errorf("acquisition needs %d samples, got %d", sig.AcquisitionSamples(), len(samples))
			}
			acq := sig.Acquire(samples)
			results[i] = AcqResult{PRN: prn, Detected: acq.Detected, Metric: acq.Metric, Doppler: acq.Doppler, CodeLag: acq.CodeLag}
			log.Debug("prn searched", logging.F("prn", prn), logging.F("metric", acq.Metric), logging.F("detected", acq.Detected))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Metric > results[j].Metric })
	return results, nil
}
