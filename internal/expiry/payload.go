package expiry

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	countryCode   = "44"
	payloadPrefix = "0044 "
)

var ErrDegeneratePayload = errors.New("phone number has no subscriber digits")

// FormatPayloadNumber turns a human-entered number into "0044 <subscriber digits>".
// It is not idempotent ("0044 7700..." comes back as "0044 0447700..."),
// so apply it once, to raw input only.
func FormatPayloadNumber(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, countryCode):
		digits = digits[len(countryCode):]
	case strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}
	return payloadPrefix + digits
}

// PayloadDigits returns the subscriber part of a formatted payload.
func PayloadDigits(payload string) string {
	return strings.TrimPrefix(payload, payloadPrefix)
}

func ValidatePayload(payload string) error {
	if PayloadDigits(payload) == "" {
		return ErrDegeneratePayload
	}
	return nil
}
