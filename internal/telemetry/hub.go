// Package telemetry publishes navigation solutions, channel status and
// receiver metrics over HTTP.
package telemetry

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rjboer/GoGNSS/internal/channel"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navigator"
)

// Config represents the runtime configuration exposed by the telemetry hub.
type Config struct {
	HistoryLimit int `json:"historyLimit"`
}

const (
	minHistoryLimit = 1
	maxHistoryLimit = 100_000
)

func defaultConfig() Config {
	return Config{HistoryLimit: 500}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.HistoryLimit == 0 {
		base = defaultConfig()
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Sample is one navigation solution as stored and streamed by the hub.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	navigator.Solution
}

// SpectrumSnapshot is the latest power spectrum of the input samples.
type SpectrumSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Bins      []float64 `json:"bins"` // dB, DC centred
}

// ProcessStats describes the running process.
type ProcessStats struct {
	Uptime       float64 `json:"uptimeSeconds"`
	NumGoroutine int     `json:"numGoroutine"`
	HeapAlloc    uint64  `json:"heapAllocBytes"`
}

// HealthStatus summarises whether the receiver is producing solutions.
type HealthStatus struct {
	Status       string       `json:"status"`
	Solutions    int          `json:"solutions"`
	Tracking     int          `json:"tracking"`
	LastSolution *time.Time   `json:"lastSolution,omitempty"`
	Process      ProcessStats `json:"process"`
}

// Hub collects history and fans out navigation updates to subscribers. It
// implements navigator.Reporter and channel.StatusReporter.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	channels     map[int]channel.Status
	spectrum     SpectrumSnapshot
	config       Config
	started      time.Time
	log          logging.Logger
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if historyLimit > 0 {
		cfg.HistoryLimit = historyLimit
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		logger.Warn("history limit out of range, using default", logging.F("history_limit", historyLimit))
		cfg = defaultConfig()
	}
	return &Hub{
		historyLimit: cfg.HistoryLimit,
		subscribers:  make(map[chan Sample]struct{}),
		channels:     make(map[int]channel.Status),
		config:       cfg,
		started:      time.Now(),
		log:          logging.Named(logger, "telemetry"),
	}
}

// ReportSolution records a navigation solution and pushes it to subscribers.
func (h *Hub) ReportSolution(sol navigator.Solution) {
	sample := Sample{Timestamp: time.Now(), Solution: sol}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

// ReportChannel stores the latest status of a channel.
func (h *Hub) ReportChannel(st channel.Status) {
	h.mu.Lock()
	h.channels[st.ID] = st
	h.mu.Unlock()
}

// UpdateSpectrumSnapshot replaces the published spectrum.
func (h *Hub) UpdateSpectrumSnapshot(bins []float64, source string) {
	snap := SpectrumSnapshot{Timestamp: time.Now(), Source: source, Bins: append([]float64(nil), bins...)}
	h.mu.Lock()
	h.spectrum = snap
	h.mu.Unlock()
}

// History returns a copy of stored solutions.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Channels returns the latest status of every channel ordered by id.
func (h *Hub) Channels() []channel.Status {
	h.mu.RLock()
	out := make([]channel.Status, 0, len(h.channels))
	for _, st := range h.channels {
		out = append(out, st)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spectrum returns the latest spectrum snapshot.
func (h *Hub) Spectrum() SpectrumSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.spectrum
}

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Health reports "ok" once solutions flow, "degraded" while channels track
// without a solution and "idle" otherwise.
func (h *Hub) Health() HealthStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.mu.RLock()
	defer h.mu.RUnlock()
	st := HealthStatus{
		Status:    "idle",
		Solutions: len(h.history),
		Process: ProcessStats{
			Uptime:       time.Since(h.started).Seconds(),
			NumGoroutine: runtime.NumGoroutine(),
			HeapAlloc:    mem.HeapAlloc,
		},
	}
	for _, c := range h.channels {
		if c.State == channel.Tracking.String() {
			st.Tracking++
		}
	}
	if st.Tracking > 0 {
		st.Status = "degraded"
	}
	if n := len(h.history); n > 0 {
		ts := h.history[n-1].Timestamp
		st.LastSolution = &ts
		st.Status = "ok"
	}
	return st
}

// MultiReporter fans out navigation solutions to multiple destinations.
type MultiReporter []navigator.Reporter

// ReportSolution forwards the solution to each configured reporter.
func (m MultiReporter) ReportSolution(sol navigator.Solution) {
	for _, r := range m {
		if r != nil {
			r.ReportSolution(sol)
		}
	}
}

// MultiStatusReporter fans out channel status to multiple destinations.
type MultiStatusReporter []channel.StatusReporter

// ReportChannel forwards the status to each configured reporter.
func (m MultiStatusReporter) ReportChannel(st channel.Status) {
	for _, r := range m {
		if r != nil {
			r.ReportChannel(st)
		}
	}
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	h.historyLimit = cfg.HistoryLimit
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.History())
	}
}

func (h *Hub) handleChannels(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.Channels())
	}
}

func (h *Hub) handleSpectrumSnapshot(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.Spectrum())
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if getOnly(w, r) {
		writeJSON(w, h.Health())
	}
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	h.mu.RLock()
	current := h.config
	h.mu.RUnlock()

	cfg, err := validateConfig(incoming, current)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.applyConfig(cfg)
	h.mu.Unlock()

	writeJSON(w, cfg)
}

func writeEvent(w http.ResponseWriter, sample Sample) {
	payload, _ := json.Marshal(sample)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, sample := range h.History() {
		writeEvent(w, sample)
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, sample)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
