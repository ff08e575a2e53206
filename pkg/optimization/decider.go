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
	"fmt"

	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
)

// Decision is the decider's recommendation for one source
type Decision struct {
	Strategy   Strategy
	Confidence float64
	Reason     string
	// Abstained is set when the window held too few events to trust
	Abstained bool
}

// Decider maps a source's observed traffic shape to a stage ordering
type Decider struct {
	thresholds config.Thresholds
}

// NewDecider creates a decider with the given thresholds, filling defaults
func NewDecider(t config.Thresholds) *Decider {
	return &Decider{thresholds: t.WithDefaults()}
}

// Decide recommends a strategy from the rolling-window snapshot.
//
// The table, in priority order:
//   - mostly low severity and few duplicates: filter first
//   - heavy duplication on a low-volume source: dedup first
//   - volume past the configured warning rate: rate limit first
//   - otherwise: hybrid per-event classification
func (d *Decider) Decide(snap metrics.Snapshot) Decision {
	t := d.thresholds

	if snap.Total < t.MinSampleSize {
		return Decision{
			Strategy:  Hybrid,
			Abstained: true,
			Reason:    fmt.Sprintf("insufficient sample: %d events (need %d)", snap.Total, t.MinSampleSize),
		}
	}

	if snap.LowSeverityRatio >= t.LowSeverityHighWater && snap.DedupRate <= t.DedupRateLowWater {
		return Decision{
			Strategy:   FilterFirst,
			Confidence: confidence(snap.LowSeverityRatio, t.LowSeverityHighWater),
			Reason: fmt.Sprintf("low-severity ratio %.2f >= %.2f with dedup rate %.2f <= %.2f",
				snap.LowSeverityRatio, t.LowSeverityHighWater, snap.DedupRate, t.DedupRateLowWater),
		}
	}

	if snap.DedupRate >= t.DedupRateHighWater && snap.EventsPerMinute < t.LowVolumePerMinute {
		return Decision{
			Strategy:   DedupFirst,
			Confidence: confidence(snap.DedupRate, t.DedupRateHighWater),
			Reason: fmt.Sprintf("dedup rate %.2f >= %.2f at %.0f events/min",
				snap.DedupRate, t.DedupRateHighWater, snap.EventsPerMinute),
		}
	}

	if t.RateLimitWarnPerMinute > 0 && snap.EventsPerMinute >= t.RateLimitWarnPerMinute {
		return Decision{
			Strategy:   RateLimitFirst,
			Confidence: confidence(snap.EventsPerMinute, t.RateLimitWarnPerMinute),
			Reason: fmt.Sprintf("volume %.0f events/min >= warn rate %.0f",
				snap.EventsPerMinute, t.RateLimitWarnPerMinute),
		}
	}

	return Decision{
		Strategy:   Hybrid,
		Confidence: hybridConfidence(snap, t),
		Reason:     "mixed traffic shape, classifying per event",
	}
}

// confidence scales with how far the signal sits past its threshold,
// capped at 1
func confidence(signal, threshold float64) float64 {
	if threshold == 0 {
		return 1
	}
	c := (signal - threshold) / threshold
	if c < 0 {
		c = -c
	}
	if c > 1 {
		return 1
	}
	return c
}

// hybridConfidence reflects how far the traffic sits from every decisive
// boundary: the deeper in no-man's-land, the stronger the hybrid case
func hybridConfidence(snap metrics.Snapshot, t config.Thresholds) float64 {
	// Distance from the nearest decisive threshold, normalized
	dLow := distance(snap.LowSeverityRatio, t.LowSeverityHighWater)
	dDedup := distance(snap.DedupRate, t.DedupRateHighWater)
	min := dLow
	if dDedup < min {
		min = dDedup
	}
	return min
}

func distance(signal, threshold float64) float64 {
	if threshold == 0 {
		return 0
	}
	d := (threshold - signal) / threshold
	if d < 0 {
		d = -d
	}
	if d > 1 {
		return 1
	}
	return d
}
