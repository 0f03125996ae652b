// internal/circulation/metrics.go
package circulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts loan lifecycle outcomes.
type Metrics struct {
	loansCreated  prometheus.Counter
	loansRejected *prometheus.CounterVec
	loansReturned prometheus.Counter
	sweepOutcomes *prometheus.CounterVec
}

// NewMetrics registers the circulation collectors with reg. A nil reg gives
// collectors that are counted but never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loansCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "libraryhub_loans_created_total",
			Help: "Loans created.",
		}),
		loansRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libraryhub_loans_rejected_total",
			Help: "Loan creations refused, by error code.",
		}, []string{"code"}),
		loansReturned: f.NewCounter(prometheus.CounterOpts{
			Name: "libraryhub_loans_returned_total",
			Help: "Loans returned.",
		}),
		sweepOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libraryhub_overdue_sweep_loans_total",
			Help: "Loans handled by the overdue sweeper, by outcome.",
		}, []string{"outcome"}),
	}
}
