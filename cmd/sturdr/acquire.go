package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/receiver"
	"github.com/rjboer/GoGNSS/internal/sdr"
)

func newAcquireCmd(g *globalOptions) *cobra.Command {
	var (
		inFile   string
		backend  string
		prns     []uint
		mockPRNs []int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Search the start of the input for every GPS satellite and print the detections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("in") {
				cfg.General.InFile = inFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			src, err := selectSource(backend, mockPRNs, 0.5)
			if err != nil {
				return err
			}

			n := cfg.Acquisition.NumCohPer * cfg.Acquisition.NumNoncohPer * cfg.SamplesPerMs()
			nAnt := cfg.RFSignal.NumAnt
			ctx := cmd.Context()
			if err := src.Init(ctx, sdr.Config{
				SampleRate:  cfg.RFSignal.SampFreq,
				IntmdFreq:   cfg.RFSignal.IntmdFreq,
				NumSamples:  n,
				NumAntennas: nAnt,
				Path:        cfg.General.InFile,
				IsComplex:   cfg.RFSignal.IsComplex,
				BitDepth:    cfg.RFSignal.BitDepth,
				SkipMs:      cfg.RFSignal.SkipMs,
			}); err != nil {
				return err
			}
			defer src.Close()
			raw := make([]complex128, n*nAnt)
			if err := src.RX(ctx, raw); err != nil {
				return fmt.Errorf("read %d samples: %w", n, err)
			}
			samples := make([]complex128, n)
			for i := range samples {
				samples[i] = raw[i*nAnt]
			}

			list := make([]uint8, len(prns))
			for i, p := range prns {
				list[i] = uint8(p)
			}
			results, err := receiver.Acquire(ctx, cfg, samples, list, log)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printAcquisition(cmd.OutOrStdout(), results)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&inFile, "in", "", "Input sample file")
	f.StringVar(&backend, "backend", "file", "Sample source (file|mock)")
	f.UintSliceVar(&prns, "prn", nil, "PRNs to search, all 32 when empty")
	f.IntSliceVar(&mockPRNs, "mock-prn", []int{3, 11, 17, 24}, "PRNs simulated by the mock source")
	f.BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func printAcquisition(w io.Writer, results []receiver.AcqResult) {
	fmt.Fprintf(w, "%4s %8s %10s %9s %s\n", "PRN", "METRIC", "DOPPLER", "CODE_LAG", "")
	for _, r := range results {
		mark := ""
		if r.Detected {
			mark = "acquired"
		}
		fmt.Fprintf(w, "%4d %8.2f %10.1f %9d %s\n", r.PRN, r.Metric, r.Doppler, r.CodeLag, mark)
	}
}
