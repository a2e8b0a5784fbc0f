// Package telemetry exports Prometheus metrics for merged reads.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(readsInFlight)
	prometheus.MustRegister(sourcesOpen)
	prometheus.MustRegister(entriesEmitted)
	prometheus.MustRegister(readErrors)
	prometheus.MustRegister(readDuration)
}

var (
	readsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merged_reads_in_flight",
			Help: "Current number of merged reads being consumed",
		},
	)

	sourcesOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merged_read_sources_open",
			Help: "Current number of range scans opened by merged reads and not yet released",
		},
	)

	entriesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merged_read_entries_total",
			Help: "Entries emitted to callers of merged reads",
		},
		[]string{"mode"},
	)

	readErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merged_read_errors_total",
			Help: "Merged reads that ended with an error",
		},
		[]string{"mode"},
	)

	readDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merged_read_duration_seconds",
			Help:    "Time from the start of a merged read until it is released",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)
)

// Read tracks one merged read from its first pull until it ends.
type Read struct {
	mode    string
	start   time.Time
	emitted int
}

// StartRead records the start of a read. Mode is "merge" or "fallback".
func StartRead(mode string) *Read {
	readsInFlight.Inc()
	return &Read{mode: mode, start: time.Now()}
}

// Emitted counts one entry delivered to the caller.
func (r *Read) Emitted() {
	r.emitted++
}

// Done records the end of the read. err is the error that ended it, if any.
func (r *Read) Done(err error) {
	readsInFlight.Dec()
	entriesEmitted.WithLabelValues(r.mode).Add(float64(r.emitted))
	if err != nil {
		readErrors.WithLabelValues(r.mode).Inc()
	}
	readDuration.WithLabelValues(r.mode).Observe(time.Since(r.start).Seconds())
}

// SourceOpened and SourceReleased bracket the life of one range scan.
func SourceOpened() {
	sourcesOpen.Inc()
}

func SourceReleased() {
	sourcesOpen.Dec()
}
