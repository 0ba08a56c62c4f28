package models

import "time"

// ExpiryStatus is always derived from LastUsageDate and the current time, never stored.
type ExpiryStatus string

const (
	ExpiryStatusSafe     ExpiryStatus = "SAFE"
	ExpiryStatusWarning  ExpiryStatus = "WARNING"
	ExpiryStatusCritical ExpiryStatus = "CRITICAL"
	ExpiryStatusExpired  ExpiryStatus = "EXPIRED"
)

// SimCard is a tracked mobile line. LastUsageDate resets the expiry clock.
type SimCard struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	PhoneNumber   string    `json:"phoneNumber"`
	LastUsageDate time.Time `json:"lastUsageDate"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type SimCardCreateInput struct {
	Label         string
	PhoneNumber   string
	LastUsageDate time.Time
	Notes         string
}

// SimCardPatch: nil fields are left unchanged.
type SimCardPatch struct {
	Label         *string
	PhoneNumber   *string
	LastUsageDate *time.Time
	Notes         *string
}
