package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_submissions_total",
	Help: "Attendance submissions by gate outcome.",
}, []string{"outcome"})

func countOutcome(err error) {
	switch {
	case err == nil:
		submissionsTotal.WithLabelValues("created").Inc()
	default:
		kind := RejectKind(err)
		if kind == "" {
			kind = "store_unavailable"
		}
		submissionsTotal.WithLabelValues(kind).Inc()
	}
}
