// Copyright 2025 The Zen Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/model"
)

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	EventsAdmitted     *prometheus.CounterVec
	EventsAggregated   *prometheus.CounterVec
	ActiveStrategy     *prometheus.GaugeVec
	StrategyChanges    *prometheus.CounterVec
	DedupCacheEntries  *prometheus.GaugeVec
	Effectiveness      *prometheus.GaugeVec
	ProcessingDuration *prometheus.HistogramVec
	SinkWrites         *prometheus.CounterVec
	SinkFailures       *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics and registers them on the given
// registerer. Tests pass a private registry to avoid duplicate-registration
// panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_events_total",
			Help: "Total number of events received by source and severity",
		},
		[]string{"source", "severity"},
	)

	eventsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_events_dropped_total",
			Help: "Total number of events dropped by source, stage, and reason",
		},
		[]string{"source", "stage", "reason"},
	)

	eventsAdmitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_events_admitted_total",
			Help: "Total number of events admitted by source",
		},
		[]string{"source"},
	)

	eventsAggregated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_events_aggregated_total",
			Help: "Total number of duplicate events folded into an open aggregation window",
		},
		[]string{"source"},
	)

	activeStrategy := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zen_pipeline_active_strategy",
			Help: "Active processing strategy per source (1 for the active strategy, 0 otherwise)",
		},
		[]string{"source", "strategy"},
	)

	strategyChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_strategy_changes_total",
			Help: "Total number of strategy transitions by source and trigger",
		},
		[]string{"source", "trigger"},
	)

	dedupCacheEntries := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zen_pipeline_dedup_cache_entries",
			Help: "Number of fingerprints currently tracked per source",
		},
		[]string{"source"},
	)

	effectiveness := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zen_pipeline_effectiveness_ratio",
			Help: "Observed pipeline ratios per source (dedup_rate, filter_rate, low_severity_ratio)",
		},
		[]string{"source", "ratio"},
	)

	processingDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zen_pipeline_processing_duration_seconds",
			Help:    "Time taken to run an event through the pipeline stages",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"source", "strategy"},
	)

	sinkWrites := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_sink_writes_total",
			Help: "Total number of Observations written to the sink",
		},
		[]string{"source"},
	)

	sinkFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_sink_failures_total",
			Help: "Total number of failed sink writes",
		},
		[]string{"source", "reason"},
	)

	reg.MustRegister(eventsTotal)
	reg.MustRegister(eventsDropped)
	reg.MustRegister(eventsAdmitted)
	reg.MustRegister(eventsAggregated)
	reg.MustRegister(activeStrategy)
	reg.MustRegister(strategyChanges)
	reg.MustRegister(dedupCacheEntries)
	reg.MustRegister(effectiveness)
	reg.MustRegister(processingDuration)
	reg.MustRegister(sinkWrites)
	reg.MustRegister(sinkFailures)

	return &Metrics{
		EventsTotal:        eventsTotal,
		EventsDropped:      eventsDropped,
		EventsAdmitted:     eventsAdmitted,
		EventsAggregated:   eventsAggregated,
		ActiveStrategy:     activeStrategy,
		StrategyChanges:    strategyChanges,
		DedupCacheEntries:  dedupCacheEntries,
		Effectiveness:      effectiveness,
		ProcessingDuration: processingDuration,
		SinkWrites:         sinkWrites,
		SinkFailures:       sinkFailures,
	}
}

// SanitizeLabel returns the value if it is a valid Prometheus label value.
// Source names come in off the wire and must never break a scrape.
func SanitizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	if !model.LabelValue(value).IsValid() {
		return "invalid"
	}
	return value
}
