package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks sweeper cycles: per-job runtime and result, plus
// cycles that never ran.
type CronJobMetrics struct {
	runtime *prometheus.HistogramVec
	ok      *prometheus.CounterVec
	failed  *prometheus.CounterVec
	skipped *prometheus.CounterVec
}

// NewCronJobMetrics registers on reg. A nil reg yields a recorder that drops
// every observation.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one cron job run.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		ok:      newCounter("job_success_total", "Cron job runs that returned no error.", "job"),
		failed:  newCounter("job_failure_total", "Cron job runs that returned an error.", "job"),
		skipped: newCounter("cycle_skipped_total", "Sweep cycles that did not run.", "reason"),
	}
	reg.MustRegister(m.runtime, m.ok, m.failed, m.skipped)
	return m
}

func (c *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if c == nil || c.runtime == nil {
		return
	}
	c.runtime.WithLabelValues(labelOrUnknown(job)).Observe(d.Seconds())
}

func (c *CronJobMetrics) IncSuccess(job string) {
	if c != nil {
		inc(c.ok, job)
	}
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c != nil {
		inc(c.failed, job)
	}
}

// IncSkipped counts a cycle that did not run, labelled in_flight or lock_held.
func (c *CronJobMetrics) IncSkipped(reason string) {
	if c != nil {
		inc(c.skipped, reason)
	}
}
