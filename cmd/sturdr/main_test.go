package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rjboer/GoGNSS/internal/binlog"
	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/receiver"
	"github.com/rjboer/GoGNSS/internal/telemetry"
)

func mapLookup(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := config.Default()
	applyEnv(&cfg, mapLookup(map[string]string{
		"STURDR_IN_FILE":       "/data/ifen.bin",
		"STURDR_MS_TO_PROCESS": "1500",
		"STURDR_SAMP_FREQ":     "5e6",
		"STURDR_MAX_CHANNELS":  "not-a-number",
		"STURDR_WEB_ADDR":      "",
	}))
	if cfg.General.InFile != "/data/ifen.bin" || cfg.General.MsToProcess != 1500 || cfg.RFSignal.SampFreq != 5e6 {
		t.Fatalf("env overrides not applied: %+v", cfg.General)
	}
	if cfg.Channels.MaxChannels != 8 {
		t.Fatalf("invalid env value should keep the default, got %d", cfg.Channels.MaxChannels)
	}
	if cfg.Telemetry.WebAddr != "" {
		t.Fatalf("empty env value should disable web telemetry, got %q", cfg.Telemetry.WebAddr)
	}
}

func TestSelectSourceError(t *testing.T) {
	if _, err := selectSource("pluto", nil, 0); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRunMockWritesChannelLogs(t *testing.T) {
	out := t.TempDir()
	root := newRootCmd(mapLookup(nil))
	root.SetArgs([]string{"run", "--backend", "mock", "--mock-prn", "1", "--ms", "200", "--out", out, "--web-addr", "", "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	cfg := config.Default()
	cfg.General.OutFolder = out
	recs, err := binlog.ReadAll(cfg.ChannelLogPath(0))
	if err != nil {
		t.Fatalf("read channel 0 log: %v", err)
	}
	if len(recs) == 0 {
		t.Fatalf("channel 0 tracked nothing")
	}
	if recs[0].SVID != 1 {
		t.Fatalf("channel 0 tracked prn %d, want 1", recs[0].SVID)
	}
	if _, err := os.Stat(cfg.ChannelLogPath(7)); err != nil {
		t.Fatalf("channel 7 log missing: %v", err)
	}
}

func TestRunRejectsInvalidOverride(t *testing.T) {
	root := newRootCmd(mapLookup(nil))
	root.SetArgs([]string{"run", "--backend", "mock", "--spectrum-fft", "300", "--web-addr", ""})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestAcquireMockJSON(t *testing.T) {
	var buf bytes.Buffer
	root := newRootCmd(mapLookup(nil))
	root.SetOut(&buf)
	root.SetArgs([]string{"acquire", "--backend", "mock", "--mock-prn", "7", "--prn", "7,30", "--json", "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	var results []receiver.AcqResult
	if err := json.Unmarshal(buf.Bytes(), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, buf.String())
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].PRN != 7 || !results[0].Detected {
		t.Fatalf("prn 7 should be detected first: %+v", results)
	}
	if results[0].Doppler != -3000 {
		t.Fatalf("unexpected doppler %v", results[0].Doppler)
	}
}

func TestDumpLogCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ch.bin")
	w, err := binlog.Create(path)
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := w.Write(&binlog.Record{ChannelNum: 2, SVID: 9, ToW: float64(i) * 0.001, CNo: 45}); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close log: %v", err)
	}

	var buf bytes.Buffer
	root := newRootCmd(mapLookup(nil))
	root.SetOut(&buf)
	root.SetArgs([]string{"dumplog", "--every", "2", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("dumplog failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "channel,prn,") || !strings.HasPrefix(lines[1], "2,9,") {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
}

func TestRunContinuesWhenAnnounceFails(t *testing.T) {
	called := false
	announceFunc = func(context.Context, string, int, []string) error {
		called = true
		return errors.New("no multicast interface")
	}
	t.Cleanup(func() { announceFunc = telemetry.Announce })

	cfg := config.Default()
	cfg.General.OutFolder = t.TempDir()
	cfg.General.MsToProcess = 100
	cfg.Telemetry.WebAddr = "127.0.0.1:0"
	src, err := selectSource("mock", []int{1}, 0.5)
	if err != nil {
		t.Fatalf("select source: %v", err)
	}
	if err := runReceiver(context.Background(), cfg, src, true, logging.Nop()); err != nil {
		t.Fatalf("run failed after announce error: %v", err)
	}
	if !called {
		t.Fatalf("announce was not attempted")
	}
	if _, err := os.Stat(cfg.ChannelLogPath(0)); err != nil {
		t.Fatalf("channel 0 log missing: %v", err)
	}
}
