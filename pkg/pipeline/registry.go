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
	"sync"
	"sync/atomic"
	"time"

	"github.com/kube-zen/zen-pipeline/pkg/aggregate"
	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/dedup"
	"github.com/kube-zen/zen-pipeline/pkg/fingerprint"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
	"github.com/kube-zen/zen-pipeline/pkg/optimization"
	"github.com/kube-zen/zen-pipeline/pkg/ratelimit"
)

// sourceRuntime is the live per-source pipeline state. Created lazily on
// first event from a source; hot-path reads never take the registry lock
// twice.
type sourceRuntime struct {
	source string
	cfg    *config.SourceConfig

	fp     *fingerprint.Computer
	cache  *dedup.Cache
	agg    *aggregate.Aggregator
	window *metrics.SourceWindow

	// strategy holds the active optimization.Strategy; forced marks an
	// operator override the engine must not touch
	strategy atomic.Int32
	forced   atomic.Bool

	dedupEnabled bool
	aggEnabled   bool

	// severityFence splits hybrid traffic and marks low-severity events
	// in the rolling window
	severityFence float64
}

func (rt *sourceRuntime) activeStrategy() optimization.Strategy {
	return optimization.Strategy(rt.strategy.Load())
}

func (rt *sourceRuntime) setStrategy(s optimization.Strategy) {
	rt.strategy.Store(int32(s))
}

// registry maps sources to runtimes with double-checked locking
type registry struct {
	mu       sync.RWMutex
	runtimes map[string]*sourceRuntime
	build    func(source string) *sourceRuntime
}

func newRegistry(build func(source string) *sourceRuntime) *registry {
	return &registry{
		runtimes: make(map[string]*sourceRuntime),
		build:    build,
	}
}

func (r *registry) get(source string) *sourceRuntime {
	r.mu.RLock()
	rt, ok := r.runtimes[source]
	r.mu.RUnlock()
	if ok {
		return rt
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok = r.runtimes[source]; ok {
		return rt
	}
	rt = r.build(source)
	r.runtimes[source] = rt
	return rt
}

func (r *registry) lookup(source string) (*sourceRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[source]
	return rt, ok
}

func (r *registry) sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runtimes))
	for s := range r.runtimes {
		out = append(out, s)
	}
	return out
}

func (r *registry) remove(source string) (*sourceRuntime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[source]
	if ok {
		delete(r.runtimes, source)
	}
	return rt, ok
}

func (r *registry) all() []*sourceRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sourceRuntime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	return out
}

// buildRuntime assembles a runtime from engine defaults plus any per-source
// overrides in the active configuration
func buildRuntime(source string, engineCfg *config.EngineConfig, limits *ratelimit.Registry) *sourceRuntime {
	sc := engineCfg.Sources[source]
	if sc == nil {
		sc = &config.SourceConfig{Source: source}
	}

	window := engineCfg.DedupWindow.Std()
	var bucketWidth time.Duration
	maxEntries := engineCfg.DedupMaxEntries
	fpCfg := fingerprint.Config{}
	dedupEnabled := true
	if sc.Dedup != nil {
		if sc.Dedup.Window > 0 {
			window = sc.Dedup.Window.Std()
		}
		if sc.Dedup.BucketWidth > 0 {
			bucketWidth = sc.Dedup.BucketWidth.Std()
		}
		if sc.Dedup.MaxEntries > 0 {
			maxEntries = sc.Dedup.MaxEntries
		}
		fpCfg.Mode = fingerprint.Mode(sc.Dedup.FingerprintMode)
		fpCfg.KeyFields = sc.Dedup.KeyFields
		dedupEnabled = sc.Dedup.Enabled
	}

	if sc.RateLimit != nil {
		_ = limits.Configure(source, ratelimit.Config{
			EventsPerSecond: sc.RateLimit.EventsPerSecond,
			Burst:           sc.RateLimit.Burst,
		})
	}

	rt := &sourceRuntime{
		source:        source,
		cfg:           sc,
		fp:            fingerprint.New(fpCfg),
		cache:         dedup.NewCache(window, bucketWidth, maxEntries),
		window:        metrics.NewSourceWindow(engineCfg.MetricsWindow.Std()),
		dedupEnabled:  dedupEnabled,
		severityFence: sc.SeverityFence,
	}
	if rt.severityFence == 0 {
		rt.severityFence = 0.5
	}
	if sc.Aggregation != nil && sc.Aggregation.Enabled {
		aggWindow := sc.Aggregation.Window.Std()
		if aggWindow <= 0 {
			aggWindow = window
		}
		rt.agg = aggregate.New(aggWindow)
		rt.aggEnabled = true
	}

	initial := optimization.FilterFirst
	if sc.Processing.Order != "" && sc.Processing.Order != config.OrderAuto {
		if s, err := optimization.ParseStrategy(sc.Processing.Order); err == nil {
			initial = s
			rt.forced.Store(true)
		}
	}
	rt.setStrategy(initial)
	return rt
}
