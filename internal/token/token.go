// Package token implements the rotating attendance token protocol: a
// 16-character HMAC tied to (session, 30-second window), accepted for the
// current window plus the immediately preceding one.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"
)

// Length is the token size in hex characters. 16 hex chars keep 64 bits of
// the MAC, plenty against guessing inside a 30-second window while keeping
// the encoded URL short enough for reliable QR scans. Do not widen the grace
// window or shrink this without re-deriving that margin.
const Length = 16

// GenerateAt derives the token for the window containing t shifted by
// windowOffset (0 = current, -1 = previous).
func GenerateAt(sessionID, secret string, t time.Time, windowOffset int64) string {
	w := WindowIndex(t) + windowOffset
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sessionID + ":" + strconv.FormatInt(w, 10)))
	return hex.EncodeToString(mac.Sum(nil))[:Length]
}

// Generate returns the current window's token.
func Generate(sessionID, secret string) string {
	return GenerateAt(sessionID, secret, time.Now(), 0)
}

// VerifyAt checks candidate against the current and previous window tokens
// for t. The one-window grace period covers a scan just before rotation, so
// total validity stays under 60 seconds. Malformed candidates are padded or
// truncated to the fixed length before the constant-time compare; the
// function never reports why it failed.
func VerifyAt(candidate, sessionID, secret string, t time.Time) bool {
	if secret == "" {
		return false
	}
	normalized := pad(candidate)
	ok := false
	for _, offset := range [2]int64{0, -1} {
		want := GenerateAt(sessionID, secret, t, offset)
		if subtle.ConstantTimeCompare([]byte(normalized), []byte(want)) == 1 {
			ok = true
		}
	}
	return ok
}

// Verify checks candidate against the current wall clock.
func Verify(candidate, sessionID, secret string) bool {
	return VerifyAt(candidate, sessionID, secret, time.Now())
}

func pad(s string) string {
	if len(s) >= Length {
		return s[:Length]
	}
	b := make([]byte, Length)
	copy(b, s)
	for i := len(s); i < Length; i++ {
		b[i] = '0'
	}
	return string(b)
}
