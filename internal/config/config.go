// Package config loads and validates the receiver's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type General struct {
	Scenario    string `yaml:"scenario"`
	InFile      string `yaml:"in_file"`
	OutFolder   string `yaml:"out_folder"`
	MsToProcess int    `yaml:"ms_to_process"` // 0 runs to the end of the input
	MsChunkSize int    `yaml:"ms_chunk_size"` // buffer capacity
	MsReadSize  int    `yaml:"ms_read_size"`  // one producer write
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

type RFSignal struct {
	SampFreq  float64 `yaml:"samp_freq"`
	IntmdFreq float64 `yaml:"intmd_freq"`
	IsComplex bool    `yaml:"is_complex"`
	BitDepth  int     `yaml:"bit_depth"`
	NumAnt    int     `yaml:"n_ant"`
	SkipMs    int     `yaml:"skip_ms"`
}

type Acquisition struct {
	DopplerRange      float64 `yaml:"doppler_range"`
	DopplerStep       float64 `yaml:"doppler_step"`
	NumCohPer         int     `yaml:"num_coh_per"`
	NumNoncohPer      int     `yaml:"num_noncoh_per"`
	Threshold         float64 `yaml:"threshold"`
	MaxFailedAttempts int     `yaml:"max_failed_attempts"`
	Test              string  `yaml:"test"`
}

type Tracking struct {
	CorrelatorSpacing float64 `yaml:"correlator_spacing"`
	DLLBandwidth      float64 `yaml:"dll_bandwidth"`
	PLLBandwidth      float64 `yaml:"pll_bandwidth"`
	PullInMs          int     `yaml:"pull_in_ms"`
	MinCNo            float64 `yaml:"min_cno"`
}

// Assist is coarse receiver time and position for undecoded channels.
type Assist struct {
	Week          uint16     `yaml:"week"`
	ToW           float64    `yaml:"tow"`
	ApproxPos     [3]float64 `yaml:"approx_pos"`
	EphemerisFile string     `yaml:"ephemeris_file"`
}

type Navigation struct {
	NavPeriodMs int     `yaml:"nav_period_ms"`
	MinChannels int     `yaml:"min_channels"`
	Vector      bool    `yaml:"vector"`
	Assist      *Assist `yaml:"assist"`
}

type Channels struct {
	MaxChannels int     `yaml:"max_channels"`
	PRNs        []uint8 `yaml:"prns"`
}

type Antenna struct {
	Wavelength float64      `yaml:"wavelength"`
	Positions  [][3]float64 `yaml:"positions"`
	Nulling    bool         `yaml:"nulling"`
}

type Telemetry struct {
	WebAddr      string `yaml:"web_addr"`
	Announce     bool   `yaml:"announce"`
	HistoryLimit int    `yaml:"history_limit"`
	SpectrumFFT  int    `yaml:"spectrum_fft"` // 0 disables the spectrum monitor
}

// Config is the full receiver configuration.
type Config struct {
	General     General     `yaml:"general"`
	RFSignal    RFSignal    `yaml:"rfsignal"`
	Acquisition Acquisition `yaml:"acquisition"`
	Tracking    Tracking    `yaml:"tracking"`
	Navigation  Navigation  `yaml:"navigation"`
	Channels    Channels    `yaml:"channels"`
	Antenna     Antenna     `yaml:"antenna"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Default returns a configuration for a 2.046 MHz complex recording.
func Default() Config {
	return Config{
		General: General{
			Scenario:    "sturdr",
			OutFolder:   "results",
			MsChunkSize: 200,
			MsReadSize:  10,
			LogLevel:    "info",
			LogFormat:   "text",
		},
		RFSignal: RFSignal{
			SampFreq:  2.046e6,
			IsComplex: true,
			BitDepth:  8,
			NumAnt:    1,
		},
		Acquisition: Acquisition{
			DopplerRange:      5000,
			DopplerStep:       250,
			NumCohPer:         1,
			NumNoncohPer:      5,
			Threshold:         12,
			MaxFailedAttempts: 2,
			Test:              "peak2noise",
		},
		Tracking: Tracking{
			CorrelatorSpacing: 0.5,
			DLLBandwidth:      2,
			PLLBandwidth:      15,
			PullInMs:          50,
			MinCNo:            30,
		},
		Navigation: Navigation{
			NavPeriodMs: 100,
			MinChannels: 4,
		},
		Channels: Channels{MaxChannels: 8},
		Telemetry: Telemetry{
			WebAddr:      ":8080",
			HistoryLimit: 500,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	g := c.General
	if c.RFSignal.SampFreq < 1000 {
		return invalid("samp_freq %g Hz below 1 kHz", c.RFSignal.SampFreq)
	}
	if c.RFSignal.BitDepth != 8 && c.RFSignal.BitDepth != 16 {
		return invalid("bit_depth must be 8 or 16, got %d", c.RFSignal.BitDepth)
	}
	if g.MsReadSize < 1 {
		return invalid("ms_read_size must be at least 1, got %d", g.MsReadSize)
	}
	if g.MsChunkSize <= 0 || g.MsChunkSize%g.MsReadSize != 0 {
		return invalid("ms_chunk_size %d must be a positive multiple of ms_read_size %d", g.MsChunkSize, g.MsReadSize)
	}
	if g.MsChunkSize < 2*g.MsReadSize {
		return invalid("ms_chunk_size %d must hold at least two read units", g.MsChunkSize)
	}
	if g.MsToProcess < 0 {
		return invalid("ms_to_process must not be negative")
	}

	a := c.Acquisition
	if a.DopplerStep <= 0 {
		return invalid("doppler_step must be positive, got %g", a.DopplerStep)
	}
	if a.DopplerRange < 0 {
		return invalid("doppler_range must not be negative")
	}
	if a.NumCohPer < 1 || a.NumNoncohPer < 1 {
		return invalid("num_coh_per and num_noncoh_per must be at least 1")
	}
	if acq := a.NumCohPer * a.NumNoncohPer; acq > g.MsChunkSize-g.MsReadSize {
		return invalid("acquisition needs %d ms but the buffer retains %d ms", acq, g.MsChunkSize-g.MsReadSize)
	}
	switch a.Test {
	case "peak2noise", "glrt":
	default:
		return invalid("unknown acquisition test %q", a.Test)
	}
	if a.MaxFailedAttempts < 1 {
		return invalid("max_failed_attempts must be at least 1")
	}

	t := c.Tracking
	if t.CorrelatorSpacing <= 0 || t.CorrelatorSpacing >= 1 {
		return invalid("correlator_spacing must be in (0, 1) chips, got %g", t.CorrelatorSpacing)
	}

	n := c.Navigation
	if n.NavPeriodMs < 1 || n.NavPeriodMs > g.MsChunkSize-g.MsReadSize {
		return invalid("nav_period_ms %d must be in [1, %d]", n.NavPeriodMs, g.MsChunkSize-g.MsReadSize)
	}
	if n.MinChannels < 4 {
		return invalid("min_channels must be at least 4, got %d", n.MinChannels)
	}

	ch := c.Channels
	if ch.MaxChannels < 1 || ch.MaxChannels > 32 {
		return invalid("max_channels must be in [1, 32], got %d", ch.MaxChannels)
	}
	if len(ch.PRNs) > ch.MaxChannels {
		return invalid("%d prns for %d channels", len(ch.PRNs), ch.MaxChannels)
	}
	seen := make(map[uint8]bool, len(ch.PRNs))
	for _, p := range ch.PRNs {
		if p < 1 || p > 32 {
			return invalid("prn %d out of range", p)
		}
		if seen[p] {
			return invalid("prn %d assigned twice", p)
		}
		seen[p] = true
	}

	nAnt := c.RFSignal.NumAnt
	if nAnt < 1 {
		return invalid("n_ant must be at least 1")
	}
	if nAnt > 1 && len(c.Antenna.Positions) != nAnt {
		return invalid("%d antennas but %d positions", nAnt, len(c.Antenna.Positions))
	}

	if c.Telemetry.HistoryLimit < 0 {
		return invalid("history_limit must not be negative")
	}
	if f := c.Telemetry.SpectrumFFT; f < 0 || f&(f-1) != 0 {
		return invalid("spectrum_fft must be zero or a power of two, got %d", f)
	}
	return nil
}

// SamplesPerMs is the integer number of samples per millisecond.
func (c *Config) SamplesPerMs() int { return int(c.RFSignal.SampFreq / 1000) }

// BufferSamples is the shared buffer capacity in samples per antenna.
func (c *Config) BufferSamples() int { return c.General.MsChunkSize * c.SamplesPerMs() }

// ReadSamples is the producer's write unit in samples per antenna.
func (c *Config) ReadSamples() int { return c.General.MsReadSize * c.SamplesPerMs() }

// NavPeriodSamples is the spacing of navigation updates in samples.
func (c *Config) NavPeriodSamples() int { return c.Navigation.NavPeriodMs * c.SamplesPerMs() }

// Epochs is the number of read units to process, or 0 for the whole input.
func (c *Config) Epochs() int {
	if c.General.MsToProcess == 0 {
		return 0
	}
	return (c.General.MsToProcess + c.General.MsReadSize - 1) / c.General.MsReadSize
}

// ScenarioDir is where logs of this run are written.
func (c *Config) ScenarioDir() string {
	return filepath.Join(c.General.OutFolder, c.General.Scenario)
}

// ChannelLogPath is the binary log of channel n.
func (c *Config) ChannelLogPath(n int) string {
	return filepath.Join(c.ScenarioDir(), fmt.Sprintf("SturDR_Ch%d_Log.bin", n))
}

// InitialPRNs returns the PRN each channel starts on: the configured list
// padded with the lowest unused PRNs.
func (c *Config) InitialPRNs() []uint8 {
	out := append([]uint8(nil), c.Channels.PRNs...)
	used := make(map[uint8]bool, len(out))
	for _, p := range out {
		used[p] = true
	}
	for p := uint8(1); p <= 32 && len(out) < c.Channels.MaxChannels; p++ {
		if !used[p] {
			out = append(out, p)
		}
	}
	return out
}
