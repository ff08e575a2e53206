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

package filter

import (
	"fmt"
	"time"
)

// Action is what a matching dynamic rule does. Closed set; the engine
// switches exhaustively so unrecognized values fail validation instead of
// silently falling through.
type Action string

const (
	// ActionInclude short-circuits to allow
	ActionInclude Action = "include"
	// ActionExclude short-circuits to reject
	ActionExclude Action = "exclude"
)

// Match is the predicate of a dynamic rule. Empty fields match everything.
type Match struct {
	Namespaces  []string `json:"namespaces,omitempty"`
	EventTypes  []string `json:"eventTypes,omitempty"`
	MinSeverity *float64 `json:"minSeverity,omitempty"`
	MaxSeverity *float64 `json:"maxSeverity,omitempty"`
}

// DynamicRule is a TTL-bound rule evaluated before the static rules.
// Higher Priority wins; expired rules are skipped and pruned.
type DynamicRule struct {
	Name      string    `json:"name"`
	Action    Action    `json:"action"`
	Priority  float64   `json:"priority"`
	Match     Match     `json:"match"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the rule's TTL has elapsed
func (r *DynamicRule) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// StaticRules are the per-source declarative predicates loaded from
// configuration. Read-only from the pipeline's perspective.
type StaticRules struct {
	// MinPriority drops events below this severity; 0 disables the fence
	MinPriority float64 `json:"minPriority,omitempty"`
	// IncludedNamespaces, when set, allows only these namespaces
	IncludedNamespaces []string `json:"includedNamespaces,omitempty"`
	// ExcludedNamespaces rejects these namespaces
	ExcludedNamespaces []string `json:"excludedNamespaces,omitempty"`
	// AllowedTypes, when set, allows only these event types
	AllowedTypes []string `json:"allowedTypes,omitempty"`
}

// SourceRules bundles a source's static rules with its dynamic rules
type SourceRules struct {
	Static  StaticRules   `json:"static"`
	Dynamic []DynamicRule `json:"dynamic,omitempty"`
}

// Snapshot is a whole rule-set version. Swapped atomically on reload so an
// in-flight evaluation never sees a mix of old and new rules.
type Snapshot struct {
	// Sources maps source name to its rules; Default applies to sources
	// without an entry
	Sources map[string]SourceRules `json:"sources,omitempty"`
	Default *SourceRules           `json:"default,omitempty"`
}

// Validate rejects malformed snapshots so a partially-valid rule set is
// never applied.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("nil filter snapshot")
	}
	validate := func(source string, rules SourceRules) error {
		if rules.Static.MinPriority < 0 || rules.Static.MinPriority > 1 {
			return fmt.Errorf("source %q: minPriority %v outside [0,1]", source, rules.Static.MinPriority)
		}
		for i := range rules.Dynamic {
			rule := &rules.Dynamic[i]
			switch rule.Action {
			case ActionInclude, ActionExclude:
			default:
				return fmt.Errorf("source %q: rule %q has unknown action %q", source, rule.Name, rule.Action)
			}
			if rule.Name == "" {
				return fmt.Errorf("source %q: dynamic rule %d has no name", source, i)
			}
		}
		return nil
	}
	if s.Default != nil {
		if err := validate("default", *s.Default); err != nil {
			return err
		}
	}
	for source, rules := range s.Sources {
		if err := validate(source, rules); err != nil {
			return err
		}
	}
	return nil
}

// rulesFor returns the rules applying to a source
func (s *Snapshot) rulesFor(source string) *SourceRules {
	if s == nil {
		return nil
	}
	if rules, ok := s.Sources[source]; ok {
		return &rules
	}
	return s.Default
}
