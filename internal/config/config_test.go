package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2046, cfg.SamplesPerMs())
	assert.Equal(t, 409200, cfg.BufferSamples())
	assert.Equal(t, 20460, cfg.ReadSamples())
	assert.Equal(t, 204600, cfg.NavPeriodSamples())
	assert.Equal(t, 0, cfg.Epochs())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "sturdr.yaml", `
general:
  scenario: drive
  out_folder: out
  ms_to_process: 1005
  ms_chunk_size: 200
  ms_read_size: 20
rfsignal:
  samp_freq: 5.0e6
  intmd_freq: 1.25e6
  bit_depth: 16
acquisition:
  test: glrt
  threshold: 18
navigation:
  nav_period_ms: 20
  vector: true
  assist:
    week: 2200
    tow: 345600.5
    approx_pos: [1, 2, 3]
channels:
  max_channels: 4
  prns: [7, 3]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "drive", cfg.General.Scenario)
	assert.Equal(t, 5000, cfg.SamplesPerMs())
	assert.Equal(t, 100000, cfg.ReadSamples())
	assert.Equal(t, 1.25e6, cfg.RFSignal.IntmdFreq)
	assert.Equal(t, "glrt", cfg.Acquisition.Test)
	assert.Equal(t, 250.0, cfg.Acquisition.DopplerStep, "untouched keys keep defaults")
	assert.True(t, cfg.Navigation.Vector)
	require.NotNil(t, cfg.Navigation.Assist)
	assert.Equal(t, uint16(2200), cfg.Navigation.Assist.Week)
	assert.Equal(t, [3]float64{1, 2, 3}, cfg.Navigation.Assist.ApproxPos)
	assert.Equal(t, 51, cfg.Epochs())
	assert.Equal(t, filepath.Join("out", "drive", "SturDR_Ch3_Log.bin"), cfg.ChannelLogPath(3))
	assert.Equal(t, []uint8{7, 3, 1, 2}, cfg.InitialPRNs())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "general: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "invalid.yaml", "acquisition:\n  doppler_step: 0\n"))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"slow sample rate":     func(c *Config) { c.RFSignal.SampFreq = 500 },
		"bit depth":            func(c *Config) { c.RFSignal.BitDepth = 12 },
		"zero read size":       func(c *Config) { c.General.MsReadSize = 0 },
		"chunk not multiple":   func(c *Config) { c.General.MsChunkSize = 205 },
		"single unit buffer":   func(c *Config) { c.General.MsChunkSize = 10 },
		"acquisition too long": func(c *Config) { c.Acquisition.NumNoncohPer = 500 },
		"unknown test":         func(c *Config) { c.Acquisition.Test = "cfar" },
		"spacing":              func(c *Config) { c.Tracking.CorrelatorSpacing = 1 },
		"nav period":           func(c *Config) { c.Navigation.NavPeriodMs = 195 },
		"min channels":         func(c *Config) { c.Navigation.MinChannels = 3 },
		"too many channels":    func(c *Config) { c.Channels.MaxChannels = 33 },
		"prn range":            func(c *Config) { c.Channels.PRNs = []uint8{0} },
		"duplicate prn":        func(c *Config) { c.Channels.PRNs = []uint8{4, 4} },
		"antenna positions":    func(c *Config) { c.RFSignal.NumAnt = 2 },
		"spectrum fft":         func(c *Config) { c.Telemetry.SpectrumFFT = 1000 },
		"negative history":     func(c *Config) { c.Telemetry.HistoryLimit = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadEphemeris(t *testing.T) {
	path := writeFile(t, "eph.yaml", `
satellites:
  - prn: 5
    toe: 345600
    sqrt_a: 5153.7
    e: 0.01
    i0: 0.96
    af0: 1.5e-5
  - prn: 12
    sqrt_a: 5153.6
`)
	eph, err := LoadEphemeris(path)
	require.NoError(t, err)
	require.Len(t, eph, 2)
	assert.Equal(t, 345600.0, eph[5].Toe)
	assert.Equal(t, 0.96, eph[5].I0)
	assert.Equal(t, 1.5e-5, eph[5].Af0)
	assert.Equal(t, 5153.6, eph[12].SqrtA)

	_, err = LoadEphemeris(writeFile(t, "bad.yaml", "satellites:\n  - prn: 40\n    sqrt_a: 1\n"))
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = LoadEphemeris(writeFile(t, "noorbit.yaml", "satellites:\n  - prn: 4\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}
