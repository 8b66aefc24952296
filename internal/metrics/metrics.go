// Package metrics exposes conversion counters to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Conversion results used as label values.
const (
	ResultSuccess     = "success"
	ResultConversion  = "conversion_failure"
	ResultUnsupported = "unsupported_geometry"
	ResultSuperseded  = "superseded"
	ResultCacheHit    = "cache_hit"
)

// Metrics records conversions. A nil *Metrics records nothing.
type Metrics struct {
	conversions *prometheus.CounterVec
	duration    prometheus.Histogram
}

// New registers the collectors. A nil registerer disables metrics.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		return nil, nil
	}

	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shpmap",
		Name:      "conversions_total",
		Help:      "Shapefile conversions by result.",
	}, []string{"result"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shpmap",
		Name:      "conversion_duration_seconds",
		Help:      "Time spent converting shapefiles.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 7),
	})

	for name, collector := range map[string]prometheus.Collector{
		"conversions_total":           conversions,
		"conversion_duration_seconds": duration,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("unable to register `%s` metric: %w", name, err)
		}
	}

	return &Metrics{
		conversions: conversions,
		duration:    duration,
	}, nil
}

// Observe counts one conversion and its duration.
func (m *Metrics) Observe(result string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.conversions.With(prometheus.Labels{"result": result}).Inc()
	m.duration.Observe(elapsed.Seconds())
}
