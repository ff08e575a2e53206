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

	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
)

func snapshot(total int64, dedupRate, lowSevRatio, perMinute float64) metrics.Snapshot {
	return metrics.Snapshot{
		Total:            total,
		DedupRate:        dedupRate,
		LowSeverityRatio: lowSevRatio,
		EventsPerMinute:  perMinute,
		Window:           15 * time.Minute,
	}
}

func TestDecider_FilterFirstOnLowSeverityFloods(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	dec := d.Decide(snapshot(1000, 0.1, 0.9, 60))
	if dec.Strategy != FilterFirst {
		t.Errorf("expected filter_first, got %s (%s)", dec.Strategy, dec.Reason)
	}
	if dec.Abstained {
		t.Error("a 1000-event sample should not abstain")
	}
	if dec.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %v", dec.Confidence)
	}
}

func TestDecider_DedupFirstOnHeavyDuplication(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	dec := d.Decide(snapshot(500, 0.9, 0.2, 60))
	if dec.Strategy != DedupFirst {
		t.Errorf("expected dedup_first, got %s (%s)", dec.Strategy, dec.Reason)
	}
}

func TestDecider_DedupFirstRequiresLowVolume(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	// Same duplication, but volume above the low-volume threshold
	dec := d.Decide(snapshot(5000, 0.9, 0.2, 500))
	if dec.Strategy == DedupFirst {
		t.Errorf("high-volume sources should not pick dedup_first, got %s", dec.Strategy)
	}
}

func TestDecider_RateLimitFirstOnFlood(t *testing.T) {
	d := NewDecider(config.Thresholds{RateLimitWarnPerMinute: 1000})

	dec := d.Decide(snapshot(20000, 0.4, 0.4, 2000))
	if dec.Strategy != RateLimitFirst {
		t.Errorf("expected ratelimit_first, got %s (%s)", dec.Strategy, dec.Reason)
	}
}

func TestDecider_HybridOnAmbiguousShape(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	// Mid-range everything: no single signal dominates
	dec := d.Decide(snapshot(500, 0.4, 0.5, 200))
	if dec.Strategy != Hybrid {
		t.Errorf("expected hybrid, got %s (%s)", dec.Strategy, dec.Reason)
	}
}

func TestDecider_AbstainsOnSmallSample(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	dec := d.Decide(snapshot(10, 0.9, 0.9, 5))
	if !dec.Abstained {
		t.Error("10 events is below the default sample floor and should abstain")
	}
}

func TestDecider_ConfidenceScalesWithDistance(t *testing.T) {
	d := NewDecider(config.Thresholds{})

	near := d.Decide(snapshot(1000, 0.1, 0.71, 60))
	far := d.Decide(snapshot(1000, 0.1, 0.99, 60))
	if near.Strategy != FilterFirst || far.Strategy != FilterFirst {
		t.Fatal("both shapes should choose filter_first")
	}
	if far.Confidence <= near.Confidence {
		t.Errorf("confidence should grow with distance past the threshold: near %v far %v",
			near.Confidence, far.Confidence)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		config.OrderFilterFirst:    FilterFirst,
		config.OrderDedupFirst:     DedupFirst,
		config.OrderRateLimitFirst: RateLimitFirst,
		config.OrderHybrid:         Hybrid,
	}
	for order, want := range cases {
		got, err := ParseStrategy(order)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", order, got, err, want)
		}
	}
	if _, err := ParseStrategy("auto"); err == nil {
		t.Error("auto has no fixed strategy and should be rejected")
	}
	if _, err := ParseStrategy("bogus"); err == nil {
		t.Error("unknown orders should be rejected")
	}
}
