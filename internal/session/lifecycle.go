package session

import "time"

// State is the effective session state at an instant. Unlike Status it
// includes expiry, which is a pure function of time and never stored.
type State int

const (
	StateActive State = iota
	StateEnded
	StateExpired
)

// Classify derives the effective state from stored fields and the clock.
// Expiry wins over everything; a stored "ended" never reverts; an active
// session past ends_at is effectively ended even before the write-back lands.
func Classify(now time.Time, s Session) State {
	if now.After(s.ExpiresAt) {
		return StateExpired
	}
	if s.Status == StatusEnded || now.After(s.EndsAt) {
		return StateEnded
	}
	return StateActive
}
