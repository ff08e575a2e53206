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

package pipeline

import (
	"context"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"

	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/event"
	"github.com/kube-zen/zen-pipeline/pkg/filter"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
	"github.com/kube-zen/zen-pipeline/pkg/optimization"
	"github.com/kube-zen/zen-pipeline/pkg/ratelimit"
	"github.com/kube-zen/zen-pipeline/pkg/sink"
)

// Stage names used in drop decisions and metrics labels
const (
	StageIntake    = "intake"
	StageFilter    = "filter"
	StageDedup     = "dedup"
	StageRateLimit = "ratelimit"
)

// Pipeline runs events through dedup, rate limiting, and filtering in a
// per-source order, and emits survivors to the sink
type Pipeline struct {
	cfg      *config.EngineConfig
	registry *registry
	filters  *filter.Engine
	limits   *ratelimit.Registry
	metrics  *metrics.Metrics
	logger   *sdklog.Logger
	out      sink.Sink
}

// New assembles a pipeline from a validated configuration
func New(cfg *config.EngineConfig, filters *filter.Engine, out sink.Sink, m *metrics.Metrics, logger *sdklog.Logger) *Pipeline {
	limits := ratelimit.NewRegistry(ratelimit.Config{
		EventsPerSecond: cfg.RateLimitDefaults.EventsPerSecond,
		Burst:           cfg.RateLimitDefaults.Burst,
	}, 10*time.Minute)

	p := &Pipeline{
		cfg:     cfg,
		filters: filters,
		limits:  limits,
		metrics: m,
		logger:  logger,
		out:     out,
	}
	p.registry = newRegistry(func(source string) *sourceRuntime {
		rt := buildRuntime(source, cfg, limits)
		p.publishStrategy(rt)
		return rt
	})
	return p
}

// Process runs one event through the pipeline and returns its terminal
// decision. Admitted events are written to the sink before returning.
func (p *Pipeline) Process(ctx context.Context, ev *event.Event, now time.Time) event.Decision {
	start := time.Now()

	// Only an unresolvable source is malformed; events missing other
	// fields degrade to whole-object fingerprinting downstream
	if ev == nil || ev.Source == "" {
		p.metrics.EventsDropped.WithLabelValues("unknown", StageIntake, event.ReasonMalformed).Inc()
		return event.Dropped(StageIntake, event.ReasonMalformed)
	}

	rt := p.registry.get(ev.Source)
	label := metrics.SanitizeLabel(ev.Source)
	lowSeverity := ev.Severity < rt.severityFence
	rt.window.RecordTotal(now, lowSeverity)
	p.metrics.EventsTotal.WithLabelValues(label, ev.SeverityLabel()).Inc()

	strategy := rt.activeStrategy()
	decision := p.runStages(ctx, rt, ev, now, stageOrder(strategy, lowSeverity))

	p.metrics.ProcessingDuration.WithLabelValues(label, strategy.String()).Observe(time.Since(start).Seconds())
	p.metrics.DedupCacheEntries.WithLabelValues(label).Set(float64(rt.cache.Stats().Entries))
	return decision
}

// stageOrder maps a strategy to its stage sequence. Hybrid classifies each
// event: low severity runs filter first, everything else dedups first.
func stageOrder(s optimization.Strategy, lowSeverity bool) [3]string {
	switch s {
	case optimization.DedupFirst:
		return [3]string{StageDedup, StageRateLimit, StageFilter}
	case optimization.RateLimitFirst:
		return [3]string{StageRateLimit, StageFilter, StageDedup}
	case optimization.Hybrid:
		if lowSeverity {
			return [3]string{StageFilter, StageRateLimit, StageDedup}
		}
		return [3]string{StageDedup, StageRateLimit, StageFilter}
	default:
		return [3]string{StageFilter, StageRateLimit, StageDedup}
	}
}

func (p *Pipeline) runStages(ctx context.Context, rt *sourceRuntime, ev *event.Event, now time.Time, order [3]string) event.Decision {
	label := metrics.SanitizeLabel(ev.Source)
	occurrences := 1

	for _, stage := range order {
		switch stage {
		case StageFilter:
			allow, reason := p.filters.Allow(ev, now)
			if !allow {
				rt.window.RecordFiltered(now)
				p.metrics.EventsDropped.WithLabelValues(label, StageFilter, reason).Inc()
				return event.Dropped(StageFilter, reason)
			}

		case StageRateLimit:
			if !p.limits.TryAcquire(ev.Source, now) {
				rt.window.RecordRateLimited(now)
				p.metrics.EventsDropped.WithLabelValues(label, StageRateLimit, event.ReasonRateLimited).Inc()
				return event.Dropped(StageRateLimit, event.ReasonRateLimited)
			}

		case StageDedup:
			if !rt.dedupEnabled {
				continue
			}
			fp := rt.fp.Fingerprint(ev)
			admit, count := rt.cache.ShouldAdmit(fp, now)
			if !admit {
				rt.window.RecordDuplicate(now)
				if rt.aggEnabled {
					rep, folded := rt.agg.Observe(fp, ev, now)
					p.metrics.EventsAggregated.WithLabelValues(label).Inc()
					return event.Aggregated(rep, folded)
				}
				p.metrics.EventsDropped.WithLabelValues(label, StageDedup, event.ReasonDuplicate).Inc()
				return event.Dropped(StageDedup, event.ReasonDuplicate)
			}
			occurrences = count
			if rt.aggEnabled {
				// Open the aggregation window with this event as representative
				rt.agg.Observe(fp, ev, now)
			}
		}
	}

	rt.window.RecordAdmitted(now)
	p.metrics.EventsAdmitted.WithLabelValues(label).Inc()
	if p.out != nil {
		if err := p.out.Write(ctx, ev, occurrences); err != nil {
			p.logger.Error(err, "Sink write failed for admitted event",
				sdklog.Operation("pipeline_process"),
				sdklog.String("source", ev.Source))
		}
	}
	return event.Admitted(occurrences)
}

// FlushAggregates closes aggregation windows older than their span and
// writes rolled-up Observations for windows that folded duplicates
func (p *Pipeline) FlushAggregates(ctx context.Context, now time.Time) int {
	flushed := 0
	for _, rt := range p.registry.all() {
		if !rt.aggEnabled {
			continue
		}
		for _, rep := range rt.agg.Flush(now) {
			if rep.Count <= 1 {
				// Already emitted when it was first admitted
				continue
			}
			if p.out != nil {
				if err := p.out.Write(ctx, rep.Event, rep.Count); err != nil {
					p.logger.Error(err, "Sink write failed for aggregate",
						sdklog.Operation("aggregate_flush"),
						sdklog.String("source", rt.source))
					continue
				}
			}
			flushed++
		}
	}
	return flushed
}

// Close flushes every open aggregation window. Called on shutdown.
func (p *Pipeline) Close(ctx context.Context) {
	for _, rt := range p.registry.all() {
		if !rt.aggEnabled {
			continue
		}
		for _, rep := range rt.agg.FlushAll() {
			if rep.Count <= 1 || p.out == nil {
				continue
			}
			if err := p.out.Write(ctx, rep.Event, rep.Count); err != nil {
				p.logger.Error(err, "Sink write failed during shutdown flush",
					sdklog.Operation("aggregate_flush"),
					sdklog.String("source", rt.source))
			}
		}
	}
}

// publishStrategy reflects a runtime's active strategy into the gauge set
func (p *Pipeline) publishStrategy(rt *sourceRuntime) {
	label := metrics.SanitizeLabel(rt.source)
	active := rt.activeStrategy()
	for _, s := range optimization.Strategies() {
		v := 0.0
		if s == active {
			v = 1.0
		}
		p.metrics.ActiveStrategy.WithLabelValues(label, s.String()).Set(v)
	}
}

// Sources implements optimization.Target
func (p *Pipeline) Sources() []string {
	return p.registry.sources()
}

// MetricsSnapshot implements optimization.Target
func (p *Pipeline) MetricsSnapshot(source string, now time.Time) metrics.Snapshot {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return metrics.Snapshot{}
	}
	snap := rt.window.Snapshot(now)
	label := metrics.SanitizeLabel(source)
	p.metrics.Effectiveness.WithLabelValues(label, "dedup_rate").Set(snap.DedupRate)
	p.metrics.Effectiveness.WithLabelValues(label, "filter_rate").Set(snap.FilterRate)
	p.metrics.Effectiveness.WithLabelValues(label, "low_severity_ratio").Set(snap.LowSeverityRatio)
	return snap
}

// ActiveStrategy implements optimization.Target
func (p *Pipeline) ActiveStrategy(source string) optimization.Strategy {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return optimization.FilterFirst
	}
	return rt.activeStrategy()
}

// SetStrategy implements optimization.Target
func (p *Pipeline) SetStrategy(source string, s optimization.Strategy, trigger string) {
	rt := p.registry.get(source)
	if rt.activeStrategy() == s {
		return
	}
	rt.setStrategy(s)
	p.publishStrategy(rt)
	p.metrics.StrategyChanges.WithLabelValues(metrics.SanitizeLabel(source), trigger).Inc()
	p.logger.Info("Processing strategy changed",
		sdklog.Operation("strategy_change"),
		sdklog.String("source", source),
		sdklog.String("strategy", s.String()),
		sdklog.String("trigger", trigger))
}

// IsForced implements optimization.Target. A source is forced when an
// operator pinned it through the API or configured a fixed order, or when
// auto-optimization is off for it.
func (p *Pipeline) IsForced(source string) bool {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return false
	}
	return rt.forced.Load() || !rt.cfg.Processing.AutoOptimize
}

// ThresholdsFor implements optimization.Target
func (p *Pipeline) ThresholdsFor(source string) config.Thresholds {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return config.Thresholds{}.WithDefaults()
	}
	return rt.cfg.Processing.Thresholds.WithDefaults()
}

// ForceStrategy pins a source to a strategy until ClearForce. Used by the
// control surface.
func (p *Pipeline) ForceStrategy(source string, s optimization.Strategy) {
	rt := p.registry.get(source)
	rt.forced.Store(true)
	p.SetStrategy(source, s, "operator")
}

// ClearForce releases an operator pin, returning the source to
// decider control
func (p *Pipeline) ClearForce(source string) {
	if rt, ok := p.registry.lookup(source); ok {
		rt.forced.Store(false)
	}
}

// ResetSource drops a source's dedup cache, rolling window, and open
// aggregation state
func (p *Pipeline) ResetSource(source string) bool {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return false
	}
	rt.cache.Reset()
	rt.window.Reset()
	if rt.aggEnabled {
		rt.agg.FlushAll()
	}
	p.logger.Info("Reset source pipeline state",
		sdklog.Operation("source_reset"),
		sdklog.String("source", source))
	return true
}

// SourceStatus is the control surface's view of one source
type SourceStatus struct {
	Source    string           `json:"source"`
	Strategy  string           `json:"strategy"`
	Forced    bool             `json:"forced"`
	Dedup     bool             `json:"dedupEnabled"`
	CacheSize int              `json:"cacheEntries"`
	OpenAggs  int              `json:"openAggregations"`
	Window    metrics.Snapshot `json:"window"`
}

// Status reports a source's live state, or false if the source has never
// sent an event
func (p *Pipeline) Status(source string, now time.Time) (SourceStatus, bool) {
	rt, ok := p.registry.lookup(source)
	if !ok {
		return SourceStatus{}, false
	}
	st := SourceStatus{
		Source:   source,
		Strategy: rt.activeStrategy().String(),
		Forced:   rt.forced.Load(),
		Dedup:    rt.dedupEnabled,
		Window:   rt.window.Snapshot(now),
	}
	st.CacheSize = rt.cache.Stats().Entries
	if rt.aggEnabled {
		st.OpenAggs = rt.agg.Open()
	}
	return st, true
}

// PruneLimiters drops rate limiter state for sources idle past the TTL
func (p *Pipeline) PruneLimiters(now time.Time) int {
	return p.limits.Prune(now)
}
