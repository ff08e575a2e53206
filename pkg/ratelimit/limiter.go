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

package ratelimit

import (
	"fmt"
	"sync"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"golang.org/x/time/rate"
)

// Package-level logger to avoid repeated allocations
var limiterLogger = sdklog.NewLogger("zen-pipeline-ratelimit")

// Config holds per-source token-bucket parameters
type Config struct {
	// EventsPerSecond is the steady refill rate
	EventsPerSecond float64
	// Burst is the bucket capacity; allows short spikes above the steady rate
	Burst int
}

// Validate rejects non-positive capacity or rate
func (c Config) Validate() error {
	if c.EventsPerSecond <= 0 {
		return fmt.Errorf("rate limit events per second must be positive, got %v", c.EventsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1, got %d", c.Burst)
	}
	return nil
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Registry provides independent per-source token buckets. Each admission
// check takes time explicitly so refill behavior is deterministic in tests.
type Registry struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	overrides map[string]Config
	defaults  Config
	idleTTL   time.Duration
}

// NewRegistry creates a registry with the given default bucket parameters.
// Sources inactive for longer than idleTTL are removed by Prune.
func NewRegistry(defaults Config, idleTTL time.Duration) *Registry {
	if defaults.EventsPerSecond <= 0 {
		defaults.EventsPerSecond = 100
	}
	if defaults.Burst < 1 {
		defaults.Burst = int(defaults.EventsPerSecond) * 2
	}
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &Registry{
		limiters:  make(map[string]*limiterEntry),
		overrides: make(map[string]Config),
		defaults:  defaults,
		idleTTL:   idleTTL,
	}
}

// Configure sets source-specific bucket parameters. The source's bucket is
// rebuilt on its next admission check.
func (r *Registry) Configure(source string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[source] = cfg
	delete(r.limiters, source)
	return nil
}

// Drop removes a source's override and live bucket
func (r *Registry) Drop(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, source)
	delete(r.limiters, source)
}

// TryAcquire consumes one token for the source if available. Token count
// stays within [0, burst] by construction of the underlying limiter.
func (r *Registry) TryAcquire(source string, now time.Time) bool {
	r.mu.Lock()
	ent, exists := r.limiters[source]
	if !exists {
		cfg := r.defaults
		if override, ok := r.overrides[source]; ok {
			cfg = override
		}
		ent = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
		}
		r.limiters[source] = ent
	}
	ent.lastSeen = now
	r.mu.Unlock()

	return ent.limiter.AllowN(now, 1)
}

// Tokens reports the current token count for a source at the given time
func (r *Registry) Tokens(source string, now time.Time) float64 {
	r.mu.Lock()
	ent, exists := r.limiters[source]
	r.mu.Unlock()
	if !exists {
		cfg := r.defaults
		if override, ok := r.overrides[source]; ok {
			cfg = override
		}
		return float64(cfg.Burst)
	}
	return ent.limiter.TokensAt(now)
}

// Prune removes buckets for sources inactive beyond the idle TTL, bounding
// memory for sources that disappear. Returns the number removed.
func (r *Registry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for source, ent := range r.limiters {
		if now.Sub(ent.lastSeen) > r.idleTTL {
			delete(r.limiters, source)
			removed++
		}
	}
	if removed > 0 {
		limiterLogger.Debug("Rate limiter prune completed",
			sdklog.Operation("rate_limit_prune"),
			sdklog.Int("removed", removed),
			sdklog.Int("remaining", len(r.limiters)))
	}
	return removed
}

// Size returns the number of live buckets
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
