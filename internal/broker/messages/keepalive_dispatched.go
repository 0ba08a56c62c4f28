package messages

import "time"

// KeepAliveDispatched is published after every keep-alive attempt, successful or not.
type KeepAliveDispatched struct {
	SimID        string    `json:"sim_id"`
	Payload      string    `json:"payload"`
	Target       string    `json:"target"`
	Manual       bool      `json:"manual,omitempty"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	ProviderSID  string    `json:"provider_sid,omitempty"`
	DispatchedAt time.Time `json:"dispatched_at"`

	// LastUsageDate is set only when the dispatch succeeded and the store was updated.
	LastUsageDate *time.Time `json:"last_usage_date,omitempty"`
}
