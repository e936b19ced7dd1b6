// Package metrics registers the prometheus collectors shared by the
// eventstore and projection packages.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder wraps the prometheus collectors used across the engine. A nil
// *Recorder is safe to use: every method is then a no-op. DefaultRecorder
// and New return a Recorder with live collectors.
type Recorder struct {
	eventsAppended   *prometheus.CounterVec
	appendDuration   *prometheus.HistogramVec
	eventsProcessed  *prometheus.CounterVec
	projectionLag    *prometheus.GaugeVec
	projectionStatus *prometheus.GaugeVec
}

var (
	defaultRecorder     *Recorder
	defaultRecorderOnce sync.Once
)

// DefaultRecorder returns the process-wide Recorder, registering its
// collectors against prometheus.DefaultRegisterer exactly once.
func DefaultRecorder() *Recorder {
	defaultRecorderOnce.Do(func() {
		defaultRecorder = New(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// New builds a Recorder and registers its collectors against reg. Passing a
// fresh prometheus.NewRegistry() is useful in tests to avoid collisions
// with DefaultRecorder.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventry_events_appended_total",
			Help: "Number of events successfully appended, by stream.",
		}, []string{"stream"}),
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventry_append_duration_seconds",
			Help:    "AppendTo latency, by stream.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stream"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventry_projection_events_processed_total",
			Help: "Number of events folded into a projection's handlers.",
		}, []string{"projection"}),
		projectionLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventry_projection_lag",
			Help: "Difference between a stream's head position and a projection's last processed position.",
		}, []string{"projection", "stream"}),
		projectionStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventry_projection_status",
			Help: "Current projection status, encoded as an enum (see metrics.StatusOrdinals).",
		}, []string{"projection"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{r.eventsAppended, r.appendDuration, r.eventsProcessed, r.projectionLag, r.projectionStatus} {
			if err := reg.Register(c); err != nil {
				// Ignore AlreadyRegisteredError: multiple EventStores in one
				// process share the default registry.
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return r
}

// IncEventsAppended records n events appended to stream.
func (r *Recorder) IncEventsAppended(stream string, n int) {
	if r == nil {
		return
	}
	r.eventsAppended.WithLabelValues(stream).Add(float64(n))
}

// ObserveAppendDuration starts a timer for an AppendTo call against stream;
// call the returned func when the call completes.
func (r *Recorder) ObserveAppendDuration(stream string) func() {
	if r == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		r.appendDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	}
}

// IncEventsProcessed records one event folded into projection's handlers.
func (r *Recorder) IncEventsProcessed(projection string) {
	if r == nil {
		return
	}
	r.eventsProcessed.WithLabelValues(projection).Inc()
}

// SetProjectionLag records the current lag of projection against stream.
func (r *Recorder) SetProjectionLag(projection, stream string, lag int64) {
	if r == nil {
		return
	}
	r.projectionLag.WithLabelValues(projection, stream).Set(float64(lag))
}

// StatusOrdinals maps a projection status string to the numeric value
// exposed via the eventry_projection_status gauge.
var StatusOrdinals = map[string]float64{
	"IDLE":                         0,
	"RUNNING":                      1,
	"STOPPING":                     2,
	"DELETING":                     3,
	"DELETING_INCL_EMITTED_EVENTS": 4,
	"RESETTING":                    5,
}

// SetProjectionStatus records projection's current status.
func (r *Recorder) SetProjectionStatus(projection string, status string) {
	if r == nil {
		return
	}
	ordinal, ok := StatusOrdinals[status]
	if !ok {
		ordinal = -1
	}
	r.projectionStatus.WithLabelValues(projection).Set(ordinal)
}
