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

package optimization

import (
	"context"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"k8s.io/utils/clock"

	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
)

// Target is the surface the engine drives. The pipeline implements it.
type Target interface {
	// Sources lists sources with live pipeline state
	Sources() []string
	// MetricsSnapshot returns a source's rolling-window aggregate
	MetricsSnapshot(source string, now time.Time) metrics.Snapshot
	// ActiveStrategy returns the strategy currently applied to a source
	ActiveStrategy(source string) Strategy
	// SetStrategy applies a strategy; trigger is "decider" or "rollback"
	SetStrategy(source string, s Strategy, trigger string)
	// IsForced reports whether an operator pinned the source's strategy
	IsForced(source string) bool
	// ThresholdsFor returns the source's decider thresholds
	ThresholdsFor(source string) config.Thresholds
}

// Engine periodically re-evaluates every source's processing order and
// rolls back changes that made things worse
type Engine struct {
	target   Target
	states   *StateManager
	sampler  *metrics.SystemSampler
	logger   *sdklog.Logger
	clock    clock.WithTicker
	interval time.Duration

	// cpuHighWater and memHighWater block new strategy applications on a
	// saturated node
	cpuHighWater float64
	memHighWater float64
}

// NewEngine creates a strategy engine. A nil clock uses the real one.
func NewEngine(target Target, interval time.Duration, logger *sdklog.Logger, clk clock.WithTicker) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Engine{
		target:       target,
		states:       NewStateManager(),
		sampler:      metrics.NewSystemSampler(),
		logger:       logger,
		clock:        clk,
		interval:     interval,
		cpuHighWater: 90,
		memHighWater: 90,
	}
}

// States exposes the state manager for the control surface
func (e *Engine) States() *StateManager {
	return e.states
}

// Run re-evaluates all sources every interval until the context ends
func (e *Engine) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("Strategy engine started",
		sdklog.Operation("optimization_run"),
		sdklog.Duration("interval", e.interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Strategy engine stopped", sdklog.Operation("optimization_run"))
			return
		case <-ticker.C():
			e.EvaluateAll(e.clock.Now())
		}
	}
}

// EvaluateAll runs one evaluation pass over every source
func (e *Engine) EvaluateAll(now time.Time) {
	for _, source := range e.target.Sources() {
		e.EvaluateSource(source, now)
	}
}

// EvaluateSource runs one optimization step for a single source
func (e *Engine) EvaluateSource(source string, now time.Time) {
	if e.target.IsForced(source) {
		return
	}

	st := e.states.State(source, e.target.ActiveStrategy(source))
	thresholds := e.target.ThresholdsFor(source).WithDefaults()
	snap := e.target.MetricsSnapshot(source, now)

	if now.Before(st.PinnedUntil) {
		return
	}

	if st.Phase == PhaseApplying {
		e.settleProbation(source, st, snap, thresholds, now)
		return
	}
	if st.Phase == PhaseRolledBack {
		e.states.RecordEvaluating(source)
	}

	decision := NewDecider(thresholds).Decide(snap)
	if decision.Abstained {
		e.logger.Debug("Strategy decider abstained",
			sdklog.Operation("optimization_evaluate"),
			sdklog.String("source", source),
			sdklog.String("reason", decision.Reason))
		return
	}
	if decision.Strategy == st.Current {
		e.states.RecordStable(source, now)
		return
	}
	if decision.Confidence < thresholds.MinConfidence {
		e.logger.Debug("Strategy change below confidence gate",
			sdklog.Operation("optimization_evaluate"),
			sdklog.String("source", source),
			sdklog.String("proposed", decision.Strategy.String()),
			sdklog.Float64("confidence", decision.Confidence))
		return
	}
	cpu := e.sampler.CPUUsagePercent()
	mem := e.sampler.MemoryUsagePercent()
	if cpu > e.cpuHighWater || mem > e.memHighWater {
		e.logger.Warn("Deferring strategy change under resource pressure",
			sdklog.Operation("optimization_evaluate"),
			sdklog.String("source", source),
			sdklog.Float64("cpu_percent", cpu),
			sdklog.Float64("memory_percent", mem))
		return
	}

	baseline := effectiveness(snap)
	e.states.RecordApply(source, decision.Strategy, decision.Confidence, decision.Reason, baseline, now)
	e.target.SetStrategy(source, decision.Strategy, "decider")
	e.logger.Info("Applied new processing strategy",
		sdklog.Operation("optimization_apply"),
		sdklog.String("source", source),
		sdklog.String("strategy", decision.Strategy.String()),
		sdklog.Float64("confidence", decision.Confidence),
		sdklog.String("reason", decision.Reason))
}

// settleProbation compares post-change effectiveness against the recorded
// baseline and rolls back on a material regression
func (e *Engine) settleProbation(source string, st *SourceState, snap metrics.Snapshot, t config.Thresholds, now time.Time) {
	if snap.Total < t.MinSampleSize {
		// Not enough traffic since the change to judge it
		return
	}
	current := effectiveness(snap)
	if st.Baseline-current > t.RollbackGuard {
		reverted := e.states.RecordRollback(source,
			"effectiveness regression after strategy change",
			now.Add(e.interval), now)
		e.target.SetStrategy(source, reverted, "rollback")
		e.logger.Warn("Rolled back strategy change",
			sdklog.Operation("optimization_rollback"),
			sdklog.String("source", source),
			sdklog.String("strategy", reverted.String()),
			sdklog.Float64("baseline", st.Baseline),
			sdklog.Float64("current", current))
		return
	}
	e.states.RecordStable(source, now)
}

// effectiveness is the share of inbound events the pipeline kept out of the
// sink, the quantity the reorder is trying to maximize cheaply
func effectiveness(snap metrics.Snapshot) float64 {
	if snap.Total == 0 {
		return 0
	}
	return float64(snap.Duplicates+snap.Filtered+snap.RateLimited) / float64(snap.Total)
}
