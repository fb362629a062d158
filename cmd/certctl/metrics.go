package main

import (
	"fmt"

	"github.com/jmerrifield20/examcert/internal/issuance"
	"github.com/prometheus/client_golang/prometheus"
)

// sagaMetrics collects per-run saga counters for the node_exporter textfile
// collector. A nil *sagaMetrics records nothing.
type sagaMetrics struct {
	path        string
	reg         *prometheus.Registry
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	warnings    prometheus.Counter
}

func newSagaMetrics(path string) *sagaMetrics {
	if path == "" {
		return nil
	}
	m := &sagaMetrics{
		path: path,
		reg:  prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examcert_saga_transitions_total",
			Help: "Issuance saga phase transitions by source and target phase.",
		}, []string{"from", "to"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examcert_saga_outcomes_total",
			Help: "Finished issuance sessions by final phase and failure kind.",
		}, []string{"phase", "kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "examcert_saga_reconcile_warnings_total",
			Help: "Successful issuances whose reconciliation failed.",
		}),
	}
	m.reg.MustRegister(m.transitions, m.outcomes, m.warnings)
	return m
}

func (m *sagaMetrics) observe(from, to issuance.Phase) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.Name(), to.Name()).Inc()
}

func (m *sagaMetrics) finish(sess *issuance.Session) {
	if m == nil || sess == nil {
		return
	}
	kind := "none"
	switch p := sess.Phase.(type) {
	case issuance.Failed:
		kind = p.Kind.String()
	case issuance.Succeeded:
		if p.Warning != nil {
			m.warnings.Inc()
		}
	}
	m.outcomes.WithLabelValues(sess.Phase.Name(), kind).Inc()
}

// flush writes the collected metrics to the textfile.
func (m *sagaMetrics) flush() error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.path, m.reg); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
