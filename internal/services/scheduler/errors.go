package scheduler

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfigurationMissing: auto-send is on but credentials are absent. The tick is a no-op.
	ErrConfigurationMissing = errors.New("sms credentials missing")
	// ErrDispatchFailure: the SMS client rejected one card. Other cards are unaffected.
	ErrDispatchFailure = errors.New("dispatch failed")
	// ErrStoreFailure: reading or writing the card set failed. The current tick is aborted.
	ErrStoreFailure = errors.New("store failure")
	// ErrValidation: a card's phone number formats to an empty payload.
	ErrValidation = errors.New("invalid sim card")
	// ErrRateLimited: the shared per-minute budget is used up; the card waits for the next tick.
	ErrRateLimited = errors.New("dispatch rate limited")
	// ErrSweepInProgress: a manual send was requested while a sweep holds the latch.
	ErrSweepInProgress = errors.New("sweep in progress")
	// ErrStopped: Start or SendNow was called after Stop.
	ErrStopped = errors.New("engine stopped")
)

// SweepError ties a failure to its kind and, when known, the card it concerns.
// errors.Is matches both the kind and the underlying cause.
type SweepError struct {
	Kind  error
	SimID string
	Err   error
}

func (e *SweepError) Error() string {
	if e.SimID != "" {
		return fmt.Sprintf("%v: sim %s: %v", e.Kind, e.SimID, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *SweepError) Is(target error) bool { return target == e.Kind }

func (e *SweepError) Unwrap() error { return e.Err }
