package session

import (
	"strconv"
	"strings"
)

// ExportCSV renders the attendee list for download. Name fields are always
// quoted with internal quotes doubled; rows are CRLF-terminated UTF-8.
func ExportCSV(s Session, attendees []Attendee) string {
	var b strings.Builder
	b.WriteString("#,Full Name,Matric Number,Level,Time Signed In,Lecture Name,Session Date")
	date := s.StartedAt.Format("02/01/2006")
	for i, a := range attendees {
		b.WriteString("\r\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte(',')
		b.WriteString(quote(a.FullName))
		b.WriteByte(',')
		b.WriteString(a.MatricNumber)
		b.WriteByte(',')
		b.WriteString(a.Level)
		b.WriteByte(',')
		b.WriteString(a.SubmittedAt.Format("15:04:05"))
		b.WriteByte(',')
		b.WriteString(quote(s.LectureName))
		b.WriteByte(',')
		b.WriteString(date)
	}
	return b.String()
}

// ExportFilename builds a safe attachment name from the lecture name and date.
func ExportFilename(s Session) string {
	safe := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s.LectureName)
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	if len(safe) > 30 {
		safe = safe[:30]
	}
	return safe + "_" + s.StartedAt.Format("2006-01-02") + ".csv"
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
