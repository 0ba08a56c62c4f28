// Package expiry converts a last-usage timestamp into remaining days and an
// ExpiryStatus, decides whether a line is due for an automatic keep-alive and
// normalizes phone numbers into the keep-alive payload.
//
// Everything here is pure: the current time is always passed in.
package expiry
