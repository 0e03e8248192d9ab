// Package metrics exposes prometheus counters for revision capture, retention and rollback.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "revisionable"

// Recorder groups the collectors the revision engine reports to. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	RevisionsWritten *prometheus.CounterVec
	RevisionsSkipped *prometheus.CounterVec
	RevisionsPruned  *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
	Rollbacks        *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		RevisionsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_written_total",
			Help:      "Revisions appended, by record type and action.",
		}, []string{"type", "action"}),
		RevisionsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_skipped_total",
			Help:      "Lifecycle events that produced no revision, by reason.",
		}, []string{"type", "reason"}),
		RevisionsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_pruned_total",
			Help:      "Revisions deleted by retention or rollback cleanup.",
		}, []string{"type", "cause"}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Revision store operations that failed.",
		}, []string{"operation"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks attempted, by record type and outcome.",
		}, []string{"type", "outcome"}),
	}
	r.registry.MustRegister(
		r.RevisionsWritten,
		r.RevisionsSkipped,
		r.RevisionsPruned,
		r.StoreFailures,
		r.Rollbacks,
	)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Written(recordType, action string) {
	if r == nil {
		return
	}
	r.RevisionsWritten.WithLabelValues(recordType, action).Inc()
}

func (r *Recorder) Skipped(recordType, reason string) {
	if r == nil {
		return
	}
	r.RevisionsSkipped.WithLabelValues(recordType, reason).Inc()
}

func (r *Recorder) Pruned(recordType, cause string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RevisionsPruned.WithLabelValues(recordType, cause).Add(float64(n))
}

func (r *Recorder) StoreFailure(operation string) {
	if r == nil {
		return
	}
	r.StoreFailures.WithLabelValues(operation).Inc()
}

func (r *Recorder) Rollback(recordType, outcome string) {
	if r == nil {
		return
	}
	r.Rollbacks.WithLabelValues(recordType, outcome).Inc()
}
