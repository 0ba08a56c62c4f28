// Package scheduler runs the keep-alive sweep.
//
// An Engine owns one timer. Every tick it loads all sim cards, picks the ones
// inside the auto-send window, sends a keep-alive for each through the SMS
// client and, only when the send succeeded, moves the card's last usage date
// to the tick's "now". A sweep-in-progress latch makes overlapping ticks skip
// instead of interleave, so a card can never get two sends from concurrent sweeps.
//
// Run state goes Idle -> Scanning -> (Dispatching -> Scanning)* and back to
// Idle after a short settle delay once the sweep is done.
package scheduler
