// Package session holds the attendance domain: session lifecycle, the
// submission gate, and persistence of sessions and their attendees.
package session

import "time"

// Status is the stored session status. Expiry is never stored; it is derived
// from expires_at on every read.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Retention is how long a session stays readable after it ends. Past this
// horizon the session is reported as not found everywhere.
const Retention = 24 * time.Hour

// Session is an attendance session. Secret never leaves the server boundary.
type Session struct {
	ID              string    `json:"id"`
	LectureName     string    `json:"lecture_name"`
	DurationMinutes int       `json:"duration_minutes"`
	StartedAt       time.Time `json:"started_at"`
	EndsAt          time.Time `json:"ends_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Status          Status    `json:"status"`
	Secret          string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Attendee is one recorded attendance submission.
type Attendee struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	FullName     string    `json:"full_name"`
	MatricNumber string    `json:"matric_number"`
	Level        string    `json:"level"`
	DeviceID     string    `json:"device_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Levels is the closed set of accepted class levels.
var Levels = []string{"100L", "200L", "300L", "400L", "500L", "Postgraduate"}

// ValidLevel reports whether level is in the closed set.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if level == l {
			return true
		}
	}
	return false
}

// QR is the payload a display surface renders for the current window.
type QR struct {
	Status          Status `json:"status"`
	Token           string `json:"token,omitempty"`
	Color           string `json:"color,omitempty"`
	ColorHex        string `json:"color_hex,omitempty"`
	TextColor       string `json:"text_color,omitempty"`
	QRURL           string `json:"qr_url,omitempty"`
	WindowExpiresIn int64  `json:"window_expires_in_ms,omitempty"`
}

// SubmitRequest carries one attendance submission through the gate.
type SubmitRequest struct {
	Token        string `json:"token" binding:"required"`
	FullName     string `json:"full_name" binding:"required"`
	MatricNumber string `json:"matric_number" binding:"required"`
	Level        string `json:"level" binding:"required"`
	DeviceID     string `json:"device_id" binding:"required"`
}
