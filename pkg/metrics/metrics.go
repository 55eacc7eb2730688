// Package metrics holds the Prometheus collectors shared by the api and the
// workers. Every recorder is safe to call on a nil receiver so callers can
// leave metrics unwired in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "walamarket"

func newCounter(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{label})
}

func inc(vec *prometheus.CounterVec, value string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labelOrUnknown(value)).Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
