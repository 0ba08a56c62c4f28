package expiry

import (
	"math"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/pkg/errors"
)

const (
	// ExpiryDays is how long a line survives without usage.
	ExpiryDays = 180
	// WarningDays and CriticalDays are the status thresholds, inclusive.
	WarningDays  = 30
	CriticalDays = 7
	// AutoSendBufferDays is the lead time before expiry in which a keep-alive is sent.
	AutoSendBufferDays = 3

	day = 24 * time.Hour
	// MaxExpiryDays is the longest window that still fits in a time.Duration.
	MaxExpiryDays = int(math.MaxInt64 / int64(day))
)

// Policy carries the expiry window and thresholds. The scheduler and the API
// share one Policy value so they never disagree about what "due" means.
type Policy struct {
	ExpiryDays         int `json:"expiryDays" yaml:"expiry_days"`
	WarningDays        int `json:"warningDays" yaml:"warning_days"`
	CriticalDays       int `json:"criticalDays" yaml:"critical_days"`
	AutoSendBufferDays int `json:"autoSendBufferDays" yaml:"auto_send_buffer_days"`
}

func DefaultPolicy() Policy {
	return Policy{
		ExpiryDays:         ExpiryDays,
		WarningDays:        WarningDays,
		CriticalDays:       CriticalDays,
		AutoSendBufferDays: AutoSendBufferDays,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.ExpiryDays <= 0 {
		p.ExpiryDays = def.ExpiryDays
	}
	if p.WarningDays <= 0 {
		p.WarningDays = def.WarningDays
	}
	if p.CriticalDays <= 0 {
		p.CriticalDays = def.CriticalDays
	}
	if p.AutoSendBufferDays <= 0 {
		p.AutoSendBufferDays = def.AutoSendBufferDays
	}
	return p
}

func (p Policy) Validate() error {
	if p.ExpiryDays > MaxExpiryDays {
		return errors.Errorf("expiry window (%d) must not exceed %d days", p.ExpiryDays, MaxExpiryDays)
	}
	if p.AutoSendBufferDays <= 0 {
		return errors.New("auto-send buffer must be positive")
	}
	if p.CriticalDays >= p.WarningDays {
		return errors.Errorf("critical threshold (%d) must be below warning threshold (%d)", p.CriticalDays, p.WarningDays)
	}
	if p.WarningDays >= p.ExpiryDays {
		return errors.Errorf("warning threshold (%d) must be below expiry window (%d)", p.WarningDays, p.ExpiryDays)
	}
	if p.AutoSendBufferDays >= p.ExpiryDays {
		return errors.Errorf("auto-send buffer (%d) must be below expiry window (%d)", p.AutoSendBufferDays, p.ExpiryDays)
	}
	return nil
}

// LeadWindow is the width of the auto-send window as a duration.
func (p Policy) LeadWindow() time.Duration {
	return time.Duration(p.AutoSendBufferDays) * day
}

func (p Policy) ExpiresAt(lastUsage time.Time) time.Time {
	return lastUsage.Add(time.Duration(p.ExpiryDays) * day)
}

// DaysRemaining rounds up: any fraction of a day left counts as a whole day.
func (p Policy) DaysRemaining(lastUsage, now time.Time) int {
	diff := p.ExpiresAt(lastUsage).Sub(now)
	days := diff / day
	if diff%day > 0 {
		days++
	}
	return int(days)
}

// StatusFor checks thresholds from the most severe down, so an expired line
// is never reported as critical.
func (p Policy) StatusFor(daysRemaining int) models.ExpiryStatus {
	switch {
	case daysRemaining <= 0:
		return models.ExpiryStatusExpired
	case daysRemaining <= p.CriticalDays:
		return models.ExpiryStatusCritical
	case daysRemaining <= p.WarningDays:
		return models.ExpiryStatusWarning
	default:
		return models.ExpiryStatusSafe
	}
}

// IsDueForAutoSend excludes lines that have already expired.
func (p Policy) IsDueForAutoSend(daysRemaining int) bool {
	return daysRemaining > 0 && daysRemaining <= p.AutoSendBufferDays
}

type Evaluation struct {
	DaysRemaining  int                 `json:"daysRemaining"`
	Status         models.ExpiryStatus `json:"status"`
	DueForAutoSend bool                `json:"dueForAutoSend"`
	ExpiresAt      time.Time           `json:"expiresAt"`
}

func (p Policy) Evaluate(lastUsage, now time.Time) Evaluation {
	d := p.DaysRemaining(lastUsage, now)
	return Evaluation{
		DaysRemaining:  d,
		Status:         p.StatusFor(d),
		DueForAutoSend: p.IsDueForAutoSend(d),
		ExpiresAt:      p.ExpiresAt(lastUsage),
	}
}

func DaysRemaining(lastUsage, now time.Time) int {
	return DefaultPolicy().DaysRemaining(lastUsage, now)
}

func StatusFor(daysRemaining int) models.ExpiryStatus {
	return DefaultPolicy().StatusFor(daysRemaining)
}

func IsDueForAutoSend(daysRemaining int) bool {
	return DefaultPolicy().IsDueForAutoSend(daysRemaining)
}
