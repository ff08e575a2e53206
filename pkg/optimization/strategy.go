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
)

// Strategy is a processing-stage ordering
type Strategy int

const (
	// FilterFirst runs filter, then rate limit, then dedup. Best when most
	// traffic is low severity that filters would drop anyway.
	FilterFirst Strategy = iota
	// DedupFirst runs dedup, then rate limit, then filter. Best when the
	// duplicate rate is high and dedup state is cheap to keep hot.
	DedupFirst
	// RateLimitFirst sheds load before any per-event bookkeeping. Used when
	// a source floods past its configured warning volume.
	RateLimitFirst
	// Hybrid classifies each event by severity: high-severity events dedup
	// first, low-severity events filter first.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case FilterFirst:
		return "filter_first"
	case DedupFirst:
		return "dedup_first"
	case RateLimitFirst:
		return "ratelimit_first"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Strategies lists every selectable strategy, for gauge enumeration
func Strategies() []Strategy {
	return []Strategy{FilterFirst, DedupFirst, RateLimitFirst, Hybrid}
}

// ParseStrategy maps a configured order name to a strategy. The "auto"
// order has no fixed strategy and is rejected here.
func ParseStrategy(order string) (Strategy, error) {
	switch order {
	case config.OrderFilterFirst:
		return FilterFirst, nil
	case config.OrderDedupFirst:
		return DedupFirst, nil
	case config.OrderRateLimitFirst:
		return RateLimitFirst, nil
	case config.OrderHybrid:
		return Hybrid, nil
	default:
		return FilterFirst, fmt.Errorf("unknown processing order %q", order)
	}
}
