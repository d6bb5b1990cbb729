package telemetry

import (
	"fmt"
	"sync"

	"github.com/rjboer/GoGNSS/internal/channel"
	"github.com/rjboer/GoGNSS/internal/logging"
	"github.com/rjboer/GoGNSS/internal/navigator"
)

// StdoutReporter logs navigation solutions and channel state changes.
type StdoutReporter struct {
	logger logging.Logger

	mu     sync.Mutex
	states map[int]string
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) *StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &StdoutReporter{logger: logging.Named(logger, "telemetry"), states: make(map[int]string)}
}

func (r *StdoutReporter) ReportSolution(sol navigator.Solution) {
	fields := []logging.Field{
		logging.F("week", sol.Week),
		logging.F("tow", sol.ToW),
		logging.F("lat_deg", sol.LLA[0]),
		logging.F("lon_deg", sol.LLA[1]),
		logging.F("alt_m", sol.LLA[2]),
		logging.F("num_sv", sol.NumSV),
		logging.F("mode", sol.Mode),
	}
	if sol.GDOP != 0 {
		fields = append(fields, logging.F("gdop", sol.GDOP))
	}
	r.logger.Info("navigation solution", fields...)
}

// ReportChannel logs a channel only when its PRN, state or lock changes.
func (r *StdoutReporter) ReportChannel(st channel.Status) {
	key := fmt.Sprintf("%d/%s/%s", st.PRN, st.State, st.Lock)
	r.mu.Lock()
	changed := r.states[st.ID] != key
	r.states[st.ID] = key
	r.mu.Unlock()
	if !changed {
		return
	}
	r.logger.Info("channel",
		logging.F("channel", st.ID),
		logging.F("prn", st.PRN),
		logging.F("state", st.State),
		logging.F("lock", st.Lock),
		logging.F("cn0", st.CN0))
}
