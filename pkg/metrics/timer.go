package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures one duration for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the histogram and returns
// the measured duration.
func (t *Timer) ObserveDuration(h prometheus.Histogram) time.Duration {
	d := t.Duration()
	h.Observe(d.Seconds())
	return d
}

// ObserveDurationVec records the elapsed time into one labeled series of a
// histogram vec and returns the measured duration.
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) time.Duration {
	d := t.Duration()
	h.WithLabelValues(labels...).Observe(d.Seconds())
	return d
}
