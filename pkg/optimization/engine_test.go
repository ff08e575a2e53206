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
	"testing"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"

	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTarget is a scriptable optimization.Target
type fakeTarget struct {
	sources    []string
	snapshots  map[string]metrics.Snapshot
	strategies map[string]Strategy
	forced     map[string]bool
	thresholds config.Thresholds
	changes    []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		sources:    []string{"falco"},
		snapshots:  make(map[string]metrics.Snapshot),
		strategies: map[string]Strategy{"falco": DedupFirst},
		forced:     make(map[string]bool),
	}
}

func (f *fakeTarget) Sources() []string { return f.sources }
func (f *fakeTarget) MetricsSnapshot(source string, _ time.Time) metrics.Snapshot {
	return f.snapshots[source]
}
func (f *fakeTarget) ActiveStrategy(source string) Strategy { return f.strategies[source] }
func (f *fakeTarget) SetStrategy(source string, s Strategy, trigger string) {
	f.strategies[source] = s
	f.changes = append(f.changes, trigger)
}
func (f *fakeTarget) IsForced(source string) bool { return f.forced[source] }
func (f *fakeTarget) ThresholdsFor(string) config.Thresholds {
	return f.thresholds
}

func newTestEngine(target Target) *Engine {
	e := NewEngine(target, 10*time.Minute, sdklog.NewLogger("test"), nil)
	// System pressure checks are irrelevant under test
	e.cpuHighWater = 101
	e.memHighWater = 101
	return e
}

func TestEngine_AppliesDeciderRecommendation(t *testing.T) {
	target := newFakeTarget()
	// Low-severity flood with few duplicates: filter_first territory
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)

	if target.strategies["falco"] != FilterFirst {
		t.Errorf("expected filter_first applied, got %s", target.strategies["falco"])
	}
	st, ok := e.States().SnapshotState("falco")
	if !ok || st.Phase != PhaseApplying {
		t.Errorf("source should be in the applying phase, got %+v", st)
	}
}

func TestEngine_SkipsForcedSources(t *testing.T) {
	target := newFakeTarget()
	target.forced["falco"] = true
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)

	if len(target.changes) != 0 {
		t.Error("forced sources must never be touched")
	}
}

func TestEngine_DefersChangesUnderResourcePressure(t *testing.T) {
	target := newFakeTarget()
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)
	// Sampled usage is never negative, so these always read as saturated
	e.cpuHighWater = -1
	e.memHighWater = -1

	e.EvaluateSource("falco", t0)

	if len(target.changes) != 0 {
		t.Error("a saturated node must defer strategy changes")
	}
	if target.strategies["falco"] != DedupFirst {
		t.Errorf("strategy changed under pressure: %s", target.strategies["falco"])
	}
}

func TestEngine_AbstainsWithoutSample(t *testing.T) {
	target := newFakeTarget()
	target.snapshots["falco"] = metrics.Snapshot{Total: 5}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)

	if len(target.changes) != 0 {
		t.Error("an abstaining decider must not change strategy")
	}
}

func TestEngine_ProbationSettlesToStable(t *testing.T) {
	target := newFakeTarget()
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, Duplicates: 100, Filtered: 200,
		DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)

	// Next interval: effectiveness held up (same shape), so the change
	// settles
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, Duplicates: 100, Filtered: 250,
		DedupRate: 0.1, LowSeverityRatio: 0.95,
	}
	e.EvaluateSource("falco", t0.Add(10*time.Minute))

	st, _ := e.States().SnapshotState("falco")
	if st.Phase != PhaseStable {
		t.Errorf("expected stable phase after a healthy probation, got %s", st.Phase)
	}
}

func TestEngine_RollsBackOnRegression(t *testing.T) {
	target := newFakeTarget()
	// Baseline effectiveness: (100+200)/1000 = 0.30
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, Duplicates: 100, Filtered: 200,
		DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)
	if target.strategies["falco"] != FilterFirst {
		t.Fatal("setup: strategy change should have applied")
	}

	// Probation window: effectiveness collapses to 0.05, a drop of 0.25
	// past the 0.15 guard
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, Duplicates: 30, Filtered: 20,
	}
	e.EvaluateSource("falco", t0.Add(10*time.Minute))

	if target.strategies["falco"] != DedupFirst {
		t.Errorf("expected rollback to dedup_first, got %s", target.strategies["falco"])
	}
	st, _ := e.States().SnapshotState("falco")
	if st.Phase != PhaseRolledBack {
		t.Errorf("expected rolled_back phase, got %s", st.Phase)
	}
	if !st.PinnedUntil.After(t0.Add(10 * time.Minute)) {
		t.Error("rollback should pin the source past the current evaluation")
	}
}

func TestEngine_PinnedSourceNotReevaluated(t *testing.T) {
	target := newFakeTarget()
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, Duplicates: 100, Filtered: 200,
		DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)
	target.snapshots["falco"] = metrics.Snapshot{Total: 1000}
	e.EvaluateSource("falco", t0.Add(10*time.Minute)) // rollback, pins one interval

	changes := len(target.changes)
	// Inside the pin window nothing may happen, even with a decisive shape
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, DedupRate: 0.1, LowSeverityRatio: 0.95, EventsPerMinute: 66,
	}
	e.EvaluateSource("falco", t0.Add(15*time.Minute))

	if len(target.changes) != changes {
		t.Error("pinned source must not change strategy")
	}

	// After the pin lapses the decider runs again
	e.EvaluateSource("falco", t0.Add(21*time.Minute))
	if target.strategies["falco"] != FilterFirst {
		t.Errorf("expected re-evaluation after the pin, got %s", target.strategies["falco"])
	}
}

func TestEngine_ConfidenceGateBlocksWeakSignals(t *testing.T) {
	target := newFakeTarget()
	target.thresholds = config.Thresholds{MinConfidence: 0.9}
	// Barely past the filter_first threshold: confidence well under 0.9
	target.snapshots["falco"] = metrics.Snapshot{
		Total: 1000, DedupRate: 0.1, LowSeverityRatio: 0.72, EventsPerMinute: 66,
	}
	e := newTestEngine(target)

	e.EvaluateSource("falco", t0)

	if len(target.changes) != 0 {
		t.Error("a decision under the confidence gate must not apply")
	}
}
