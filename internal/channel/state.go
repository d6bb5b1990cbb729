// Package channel runs one satellite signal per goroutine: it steps through
// the shared sample buffer in lockstep with the producer, acquires its PRN
// and then tracks it, reporting observables to the navigator.
package channel

import (
	"time"

	"github.com/rjboer/GoGNSS/internal/navigator"
)

// State is the channel state machine.
type State uint8

const (
	Idle State = iota
	Acquiring
	Tracking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Acquiring:
		return "ACQUIRING"
	case Tracking:
		return "TRACKING"
	default:
		return "UNKNOWN"
	}
}

// LockState is the tracking lock indicator.
type LockState uint8

const (
	LockSearching LockState = iota
	LockTracking
	LockLocked
)

func (l LockState) String() string {
	switch l {
	case LockSearching:
		return "searching"
	case LockTracking:
		return "tracking"
	case LockLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// PRNAssigner is the authority that hands out satellites to channels. A
// channel that keeps failing acquisition returns its PRN and asks for the
// next one; ok is false when no other PRN is available.
type PRNAssigner interface {
	NextPRN(channelID int, current uint8) (prn uint8, ok bool)
}

// NavSink is the navigator side of a channel.
type NavSink interface {
	PushNav(navigator.NavPacket)
	PushEphem(navigator.EphemPacket)
	SyncData(channelID int) *navigator.SyncData
	Notify()
}

// Metrics observes channel activity.
type Metrics interface {
	AcquisitionAttempt(detected bool)
	PRNReassigned()
	ChannelState(channelID int, s State)
	PcpsDuration(d time.Duration)
}

// Status is a channel snapshot published once per epoch.
type Status struct {
	ID        int     `json:"id"`
	PRN       uint8   `json:"prn"`
	State     string  `json:"state"`
	Lock      string  `json:"lock"`
	CN0       float64 `json:"cn0"`
	Doppler   float64 `json:"doppler"`
	CodePhase float64 `json:"code_phase"`
	Failures  int     `json:"failures"`
}

// StatusReporter receives channel snapshots.
type StatusReporter interface {
	ReportChannel(Status)
}
