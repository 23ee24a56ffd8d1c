package token

import "time"

// WindowMillis is the length of one rotation window.
const WindowMillis = 30_000

// WindowIndex returns the 30-second window that t falls in.
func WindowIndex(t time.Time) int64 {
	return t.UnixMilli() / WindowMillis
}

// MsUntilNextWindow returns milliseconds until the next window boundary,
// always in (0, WindowMillis]. Displays schedule their next token fetch
// slightly after this to absorb request latency.
func MsUntilNextWindow(t time.Time) int64 {
	return WindowMillis - t.UnixMilli()%WindowMillis
}
