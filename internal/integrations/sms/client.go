package sms

import "context"

// DefaultKeepAliveTarget is the number every keep-alive payload is sent to.
const DefaultKeepAliveTarget = "+447373000186"

// Credentials are opaque to the scheduler beyond Present().
type Credentials struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

func (c Credentials) Present() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

type Message struct {
	To          string
	Body        string
	Credentials Credentials
}

type Result struct {
	SID     string
	Message string
}

// Client sends one message. A nil error means the provider accepted it;
// implementations bound each call with their own timeout.
type Client interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
