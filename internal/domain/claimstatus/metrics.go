package claimstatus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the claim status engine.
type Metrics struct {
	Transitions  *prometheus.CounterVec
	EDI277       *prometheus.CounterVec
	EDI276       *prometheus.CounterVec
	BatchAborted prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_status_transitions_total",
			Help: "Claim status transitions recorded, by target status and source",
		}, []string{"status", "source"}),
		EDI277: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_edi_277_entries_total",
			Help: "277 response entries processed, by outcome",
		}, []string{"outcome"}),
		EDI276: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_edi_276_inquiries_total",
			Help: "276 inquiry items generated, by outcome",
		}, []string{"outcome"}),
		BatchAborted: f.NewCounter(prometheus.CounterOpts{
			Name: "claims_edi_batch_aborted_total",
			Help: "EDI batches halted by a storage failure",
		}),
	}
}

func (m *Metrics) observeTransition(status Status, source Source) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(status), string(source)).Inc()
}

func (m *Metrics) observe277(outcome string) {
	if m == nil {
		return
	}
	m.EDI277.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observe276(outcome string) {
	if m == nil {
		return
	}
	m.EDI276.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeAbort() {
	if m == nil {
		return
	}
	m.BatchAborted.Inc()
}
