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

package config

import (
	"fmt"
	"time"

	"github.com/kube-zen/zen-pipeline/pkg/errors"
)

// ProcessingOrder is the configured stage order for a source. "auto" defers
// to the strategy decider.
const (
	OrderAuto           = "auto"
	OrderFilterFirst    = "filter_first"
	OrderDedupFirst     = "dedup_first"
	OrderHybrid         = "hybrid"
	OrderRateLimitFirst = "ratelimit_first"
)

// DedupConfig holds a source's deduplication settings
type DedupConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Window is the dedup window, e.g. "60s". Defaults to the engine default.
	Window Duration `yaml:"window" json:"window"`
	// BucketWidth is the expiry bucket width; defaults to window/10
	BucketWidth Duration `yaml:"bucketWidth" json:"bucketWidth"`
	// MaxEntries is the LRU cap; defaults to 10000
	MaxEntries int `yaml:"maxEntries" json:"maxEntries"`
	// FingerprintMode is content, key or hybrid
	FingerprintMode string `yaml:"fingerprintMode" json:"fingerprintMode"`
	// KeyFields are the detail fields hashed in key mode
	KeyFields []string `yaml:"keyFields" json:"keyFields"`
}

// RateLimitConfig holds a source's admission-control settings
type RateLimitConfig struct {
	EventsPerSecond float64 `yaml:"eventsPerSecond" json:"eventsPerSecond"`
	Burst           int     `yaml:"burst" json:"burst"`
}

// AggregationConfig enables duplicate folding within a rolling window
type AggregationConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Window  Duration `yaml:"window" json:"window"`
}

// Thresholds are the strategy decider's tuning knobs. Zero values take the
// defaults below.
type Thresholds struct {
	// LowSeverityHighWater: low-severity ratio above which filtering first
	// pays off. Default 0.70.
	LowSeverityHighWater float64 `yaml:"lowSeverityHighWater" json:"lowSeverityHighWater"`
	// DedupRateLowWater: dedup hit rate below which dedup bookkeeping is
	// wasted on fresh events. Default 0.30.
	DedupRateLowWater float64 `yaml:"dedupRateLowWater" json:"dedupRateLowWater"`
	// DedupRateHighWater: dedup hit rate above which deduping first pays
	// off. Default 0.50.
	DedupRateHighWater float64 `yaml:"dedupRateHighWater" json:"dedupRateHighWater"`
	// LowVolumePerMinute: events/minute under which a source counts as low
	// volume. Default 100.
	LowVolumePerMinute float64 `yaml:"lowVolumePerMinute" json:"lowVolumePerMinute"`
	// RateLimitWarnPerMinute: events/minute above which the source is
	// handled rate-limit-first. 0 disables.
	RateLimitWarnPerMinute float64 `yaml:"rateLimitWarnPerMinute" json:"rateLimitWarnPerMinute"`
	// MinSampleSize: below this many events in the window the decider
	// abstains. Default 50.
	MinSampleSize int64 `yaml:"minSampleSize" json:"minSampleSize"`
	// MinConfidence gates whether an evaluated change is applied. Default 0.3.
	MinConfidence float64 `yaml:"minConfidence" json:"minConfidence"`
	// RollbackGuard: absolute effectiveness drop that triggers a rollback.
	// Default 0.15.
	RollbackGuard float64 `yaml:"rollbackGuard" json:"rollbackGuard"`
}

// WithDefaults fills zero fields with the documented defaults
func (t Thresholds) WithDefaults() Thresholds {
	if t.LowSeverityHighWater == 0 {
		t.LowSeverityHighWater = 0.70
	}
	if t.DedupRateLowWater == 0 {
		t.DedupRateLowWater = 0.30
	}
	if t.DedupRateHighWater == 0 {
		t.DedupRateHighWater = 0.50
	}
	if t.LowVolumePerMinute == 0 {
		t.LowVolumePerMinute = 100
	}
	if t.MinSampleSize == 0 {
		t.MinSampleSize = 50
	}
	if t.MinConfidence == 0 {
		t.MinConfidence = 0.3
	}
	if t.RollbackGuard == 0 {
		t.RollbackGuard = 0.15
	}
	return t
}

// ProcessingConfig holds stage ordering and auto-optimization settings
type ProcessingConfig struct {
	// Order is auto, filter_first, dedup_first, hybrid or ratelimit_first.
	// A non-auto order always wins over the decider.
	Order string `yaml:"order" json:"order"`
	// AutoOptimize enables feedback-driven order selection
	AutoOptimize bool `yaml:"autoOptimize" json:"autoOptimize"`
	// Thresholds tune the decider for this source
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
}

// SourceConfig is a source's complete pipeline configuration
type SourceConfig struct {
	Source      string             `yaml:"source" json:"source"`
	Dedup       *DedupConfig       `yaml:"dedup" json:"dedup"`
	RateLimit   *RateLimitConfig   `yaml:"rateLimit" json:"rateLimit"`
	Aggregation *AggregationConfig `yaml:"aggregation" json:"aggregation"`
	Processing  ProcessingConfig   `yaml:"processing" json:"processing"`
	// SeverityFence is the hybrid pre-classifier boundary; defaults to 0.5
	// when unset
	SeverityFence float64 `yaml:"severityFence" json:"severityFence"`
}

// EngineConfig is the whole engine configuration document
type EngineConfig struct {
	// Defaults applied to sources without explicit settings
	DedupWindow       Duration `yaml:"dedupWindow" json:"dedupWindow"`
	DedupMaxEntries   int           `yaml:"dedupMaxEntries" json:"dedupMaxEntries"`
	RateLimitDefaults RateLimitConfig `yaml:"rateLimitDefaults" json:"rateLimitDefaults"`

	// Worker pool
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queueSize" json:"queueSize"`

	// Strategy re-evaluation interval; default 10m
	OptimizationInterval Duration `yaml:"optimizationInterval" json:"optimizationInterval"`

	// MetricsWindow is the rolling window feeding the decider; default 15m
	MetricsWindow Duration `yaml:"metricsWindow" json:"metricsWindow"`

	// HTTP listen address for metrics and the control surface
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`

	Sources map[string]*SourceConfig `yaml:"sources" json:"sources"`
}

// WithDefaults fills zero fields with engine defaults
func (c *EngineConfig) WithDefaults() *EngineConfig {
	if c.DedupWindow <= 0 {
		c.DedupWindow = Duration(60 * time.Second)
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 10000
	}
	if c.RateLimitDefaults.EventsPerSecond <= 0 {
		c.RateLimitDefaults.EventsPerSecond = 100
	}
	if c.RateLimitDefaults.Burst <= 0 {
		c.RateLimitDefaults.Burst = int(c.RateLimitDefaults.EventsPerSecond) * 2
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 2
	}
	if c.OptimizationInterval <= 0 {
		c.OptimizationInterval = Duration(10 * time.Minute)
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = Duration(15 * time.Minute)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Sources == nil {
		c.Sources = make(map[string]*SourceConfig)
	}
	return c
}

// Validate rejects configurations that must never be applied
func (c *EngineConfig) Validate() error {
	for name, sc := range c.Sources {
		if sc == nil {
			return fmt.Errorf("source %q: nil config", name)
		}
		if sc.Source == "" {
			sc.Source = name
		}
		if sc.Dedup != nil {
			if sc.Dedup.Window < 0 {
				return errors.NewDedupError(name, "INVALID_DEDUP_CONFIG", "negative dedup window", nil)
			}
			if sc.Dedup.MaxEntries < 0 {
				return errors.NewDedupError(name, "INVALID_DEDUP_CONFIG", "negative dedup maxEntries", nil)
			}
			switch sc.Dedup.FingerprintMode {
			case "", "content", "key", "hybrid":
			default:
				return errors.NewDedupError(name, "INVALID_DEDUP_CONFIG",
					fmt.Sprintf("unknown fingerprint mode %q", sc.Dedup.FingerprintMode), nil)
			}
		}
		if sc.RateLimit != nil {
			if sc.RateLimit.EventsPerSecond <= 0 {
				return errors.NewRateLimitError(name, "INVALID_RATE_LIMIT_CONFIG", "eventsPerSecond must be positive", nil)
			}
			if sc.RateLimit.Burst < 1 {
				return errors.NewRateLimitError(name, "INVALID_RATE_LIMIT_CONFIG", "burst must be at least 1", nil)
			}
		}
		switch sc.Processing.Order {
		case "", OrderAuto, OrderFilterFirst, OrderDedupFirst, OrderHybrid, OrderRateLimitFirst:
		default:
			return errors.NewPipelineError(name, "UNKNOWN_PROCESSING_ORDER",
				fmt.Sprintf("unknown processing order %q", sc.Processing.Order), nil)
		}
		if sc.SeverityFence < 0 || sc.SeverityFence > 1 {
			return fmt.Errorf("source %q: severityFence %v outside [0,1]", name, sc.SeverityFence)
		}
	}
	return nil
}
