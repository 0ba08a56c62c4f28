package scheduler

import (
	"time"

	"github.com/BearBump/SimKeeper/internal/integrations/sms"
)

type RunState int32

const (
	StateIdle RunState = iota
	StateScanning
	StateDispatching
)

func (s RunState) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings can be swapped at runtime with ApplySettings.
type Settings struct {
	AutoSendEnabled bool
	Credentials     sms.Credentials
	// Target is where every payload goes; the card's own number is the payload.
	Target string
}

type OutcomeStatus string

const (
	OutcomeSent     OutcomeStatus = "sent"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeInvalid  OutcomeStatus = "invalid"
	OutcomeDeferred OutcomeStatus = "deferred"
)

// Outcome is the last keep-alive result for one card.
type Outcome struct {
	SimID         string        `json:"simId"`
	Status        OutcomeStatus `json:"status"`
	Payload       string        `json:"payload,omitempty"`
	Message       string        `json:"message,omitempty"`
	Error         string        `json:"error,omitempty"`
	DaysRemaining int           `json:"daysRemaining"`
	At            time.Time     `json:"at"`
}

type TickReport struct {
	// Skipped: another sweep held the latch, nothing was touched.
	Skipped bool
	// Disabled: auto-send is off.
	Disabled bool

	Now      time.Time
	Scanned  int
	Due      int
	Sent     int
	Failed   int
	Invalid  int
	Deferred int

	Outcomes []Outcome
	// Err is set when the tick itself failed (configuration or store).
	Err error
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastTickAt      *time.Time `json:"lastTickAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	State           RunState   `json:"state"`
	SweepInProgress bool       `json:"sweepInProgress"`
	AutoSendEnabled bool       `json:"autoSendEnabled"`
	TotalTicks      int64      `json:"totalTicks"`
	SkippedTicks    int64      `json:"skippedTicks"`
	TotalSent       int64      `json:"totalSent"`
	TotalFailed     int64      `json:"totalFailed"`
	LastError       string     `json:"lastError,omitempty"`
}
