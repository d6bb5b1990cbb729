package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoGNSS/internal/channel"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navigator"
)

func newTestHub() *Hub {
	return NewHub(10, logging.New(logging.Debug, logging.Text, io.Discard))
}

func solution(tow float64) navigator.Solution {
	return navigator.Solution{Week: 2200, ToW: tow, LLA: [3]float64{45, -75, 100}, NumSV: 6, Mode: "scalar"}
}

func TestHubTrimsHistory(t *testing.T) {
	hub := NewHub(3, logging.Nop())
	for i := 0; i < 5; i++ {
		hub.ReportSolution(solution(float64(i)))
	}
	hist := hub.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(hist))
	}
	if hist[0].ToW != 2 || hist[2].ToW != 4 {
		t.Fatalf("unexpected history window %v..%v", hist[0].ToW, hist[2].ToW)
	}
}

func TestNewHubFallsBackOnBadLimit(t *testing.T) {
	hub := NewHub(1_000_000, logging.Nop())
	if got := hub.ConfigSnapshot().HistoryLimit; got != defaultConfig().HistoryLimit {
		t.Fatalf("expected default history limit, got %d", got)
	}
}

func TestHandleHistory(t *testing.T) {
	hub := newTestHub()
	hub.ReportSolution(solution(100.5))

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp []Sample
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ToW != 100.5 || resp[0].NumSV != 6 {
		t.Fatalf("unexpected history %+v", resp)
	}
}

func TestHandleChannelsSortedByID(t *testing.T) {
	hub := newTestHub()
	hub.ReportChannel(channel.Status{ID: 2, PRN: 9, State: "TRACKING"})
	hub.ReportChannel(channel.Status{ID: 0, PRN: 4, State: "ACQUIRING"})
	hub.ReportChannel(channel.Status{ID: 2, PRN: 9, State: "ACQUIRING"})

	rr := httptest.NewRecorder()
	hub.handleChannels(rr, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	var resp []channel.Status
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != 0 || resp[1].ID != 2 {
		t.Fatalf("unexpected channels %+v", resp)
	}
	if resp[1].State != "ACQUIRING" {
		t.Fatalf("expected latest status, got %q", resp[1].State)
	}
}

func TestHandleSpectrumSnapshot(t *testing.T) {
	hub := newTestHub()
	bins := []float64{-1, -2, -3}
	hub.UpdateSpectrumSnapshot(bins, "live")
	bins[0] = 99

	rr := httptest.NewRecorder()
	hub.handleSpectrumSnapshot(rr, httptest.NewRequest(http.MethodGet, "/api/spectrum", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp SpectrumSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Bins) != 3 || resp.Bins[0] != -1 {
		t.Fatalf("unexpected bins %v", resp.Bins)
	}
	if resp.Source != "live" {
		t.Fatalf("expected source 'live', got %q", resp.Source)
	}
}

func TestHandlersRejectPost(t *testing.T) {
	hub := newTestHub()
	handlers := map[string]http.HandlerFunc{
		"history":  hub.handleHistory,
		"channels": hub.handleChannels,
		"spectrum": hub.handleSpectrumSnapshot,
		"health":   hub.handleHealth,
	}
	for name, h := range handlers {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", name, rr.Code)
		}
	}
}

func TestHealthFollowsReceiverProgress(t *testing.T) {
	hub := newTestHub()
	if st := hub.Health(); st.Status != "idle" {
		t.Fatalf("expected idle, got %q", st.Status)
	}

	hub.ReportChannel(channel.Status{ID: 1, State: channel.Tracking.String()})
	if st := hub.Health(); st.Status != "degraded" || st.Tracking != 1 {
		t.Fatalf("expected degraded with one tracking channel, got %+v", st)
	}

	hub.ReportSolution(solution(1))
	rr := httptest.NewRecorder()
	hub.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var st HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.Status != "ok" || st.LastSolution == nil || st.Solutions != 1 {
		t.Fatalf("unexpected health %+v", st)
	}
	if st.Process.NumGoroutine == 0 {
		t.Fatal("expected goroutine count in health response")
	}
}

func TestHandleSetConfig(t *testing.T) {
	hub := newTestHub()
	for i := 0; i < 8; i++ {
		hub.ReportSolution(solution(float64(i)))
	}

	rr := httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{"historyLimit":4}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := len(hub.History()); n != 4 {
		t.Fatalf("expected history trimmed to 4, got %d", n)
	}

	rr = httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{"historyLimit":-1}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(`{`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	hub.handleSetConfig(rr, httptest.NewRequest(http.MethodGet, "/api/config/update", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestLiveStreamsHistoryAsEvents(t *testing.T) {
	hub := newTestHub()
	hub.ReportSolution(solution(42))
	srv := httptest.NewServer(NewWebServer("", hub, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var sample Sample
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &sample); err != nil {
		t.Fatalf("decode event %q: %v", line, err)
	}
	if sample.ToW != 42 {
		t.Fatalf("expected tow 42, got %v", sample.ToW)
	}
}

func waitForSubscriber(t *testing.T, hub *Hub) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.subscribers)
		hub.mu.RUnlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no subscriber registered")
}

func TestWebsocketPushesSolutions(t *testing.T) {
	hub := newTestHub()
	srv := httptest.NewServer(NewWebServer("", hub, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForSubscriber(t, hub)
	hub.ReportSolution(solution(7.25))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var sample Sample
	if err := conn.ReadJSON(&sample); err != nil {
		t.Fatalf("read: %v", err)
	}
	if sample.ToW != 7.25 || sample.Mode != "scalar" {
		t.Fatalf("unexpected sample %+v", sample)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	hub := newTestHub()
	m := NewMetrics()
	m.Epoch()
	m.AcquisitionAttempt(true)
	m.AcquisitionAttempt(false)
	m.AcquisitionAttempt(false)
	m.PRNReassigned()
	m.ChannelState(3, channel.Tracking)
	m.PcpsDuration(3 * time.Millisecond)
	m.NavUpdate("vector")

	srv := httptest.NewServer(NewWebServer("", hub, m.Registry).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"sturdr_epochs_total 1",
		`sturdr_acquisition_attempts_total{result="miss"} 2`,
		`sturdr_acquisition_attempts_total{result="detected"} 1`,
		"sturdr_prn_reassignments_total 1",
		`sturdr_channel_state{channel="3"} 2`,
		`sturdr_nav_updates_total{mode="vector"} 1`,
		"sturdr_pcps_duration_seconds_count 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestStdoutReporterLogsChanges(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.Text, &buf))
	st := channel.Status{ID: 1, PRN: 5, State: "ACQUIRING", Lock: "searching"}
	r.ReportChannel(st)
	r.ReportChannel(st)
	st.State = "TRACKING"
	r.ReportChannel(st)
	r.ReportSolution(solution(3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "navigation solution") {
		t.Fatalf("unexpected solution line %q", lines[2])
	}
}

func TestMultiReportersFanOut(t *testing.T) {
	a, b := newTestHub(), newTestHub()
	MultiReporter{a, nil, b}.ReportSolution(solution(1))
	MultiStatusReporter{a, b}.ReportChannel(channel.Status{ID: 4})
	if len(a.History()) != 1 || len(b.History()) != 1 {
		t.Fatal("solution not fanned out")
	}
	if len(a.Channels()) != 1 || len(b.Channels()) != 1 {
		t.Fatal("status not fanned out")
	}
}

func TestPortOf(t *testing.T) {
	if p, err := PortOf(":8080"); err != nil || p != 8080 {
		t.Fatalf("PortOf(:8080) = %d, %v", p, err)
	}
	if _, err := PortOf("localhost"); err == nil {
		t.Fatal("expected error without port")
	}
}
