package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rjboer/GoGNSS/internal/channel"
)

// Metrics holds the receiver's Prometheus collectors. It implements
// channel.Metrics and navigator.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	epochs       prometheus.Counter
	acquisitions *prometheus.CounterVec
	reassigned   prometheus.Counter
	chanState    *prometheus.GaugeVec
	navUpdates   *prometheus.CounterVec
	pcps         prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		epochs: f.NewCounter(prometheus.CounterOpts{
			Name: "sturdr_epochs_total",
			Help: "Read units published to the sample buffer.",
		}),
		acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sturdr_acquisition_attempts_total",
			Help: "Acquisition attempts by result.",
		}, []string{"result"}),
		reassigned: f.NewCounter(prometheus.CounterOpts{
			Name: "sturdr_prn_reassignments_total",
			Help: "PRNs handed to a channel after repeated acquisition failure.",
		}),
		chanState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sturdr_channel_state",
			Help: "Channel state (0 idle, 1 acquiring, 2 tracking).",
		}, []string{"channel"}),
		navUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sturdr_nav_updates_total",
			Help: "Navigation updates by mode.",
		}, []string{"mode"}),
		pcps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sturdr_pcps_duration_seconds",
			Help:    "Duration of one parallel code phase search.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

func (m *Metrics) Epoch() { m.epochs.Inc() }

func (m *Metrics) AcquisitionAttempt(detected bool) {
	result := "miss"
	if detected {
		result = "detected"
	}
	m.acquisitions.WithLabelValues(result).Inc()
}

func (m *Metrics) PRNReassigned() { m.reassigned.Inc() }

func (m *Metrics) ChannelState(id int, s channel.State) {
	m.chanState.WithLabelValues(strconv.Itoa(id)).Set(float64(s))
}

func (m *Metrics) PcpsDuration(d time.Duration) { m.pcps.Observe(d.Seconds()) }

func (m *Metrics) NavUpdate(mode string) { m.navUpdates.WithLabelValues(mode).Inc() }
