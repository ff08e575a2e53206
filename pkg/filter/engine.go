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
	"sort"
	"sync"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"

	"github.com/kube-zen/zen-pipeline/pkg/errors"
	"github.com/kube-zen/zen-pipeline/pkg/event"
)

// Package-level logger to avoid repeated allocations
var filterLogger = sdklog.NewLogger("zen-pipeline-filter")

// Engine evaluates filter rules against events. The active snapshot is
// swapped as a whole on reload; evaluation reads the pointer once, so each
// event sees exactly one rule-set version.
type Engine struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewEngine creates an engine with an optional initial snapshot
func NewEngine(snap *Snapshot) (*Engine, error) {
	e := &Engine{}
	if snap != nil {
		if err := e.Update(snap); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Update validates and atomically swaps in a new snapshot. On validation
// failure the previous snapshot stays active.
func (e *Engine) Update(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		filterLogger.Warn("Rejected filter snapshot, keeping last known good",
			sdklog.Operation("filter_reload"),
			sdklog.ErrorCode("INVALID_SNAPSHOT"),
			sdklog.Error(err))
		return errors.NewFilterError("", "INVALID_FILTER_SNAPSHOT", "filter snapshot rejected", err)
	}
	// Sort dynamic rules once per reload so evaluation is a linear pass.
	for source, rules := range snap.Sources {
		sortRules(rules.Dynamic)
		snap.Sources[source] = rules
	}
	if snap.Default != nil {
		sortRules(snap.Default.Dynamic)
	}

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()

	filterLogger.Debug("Filter snapshot updated",
		sdklog.Operation("filter_reload"),
		sdklog.Int("sources", len(snap.Sources)))
	return nil
}

// Snapshot returns the active snapshot (shared, treat as read-only)
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// AddDynamicRule appends a TTL-bound rule for a source, re-snapshotting so
// in-flight evaluations are unaffected.
func (e *Engine) AddDynamicRule(source string, rule DynamicRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := cloneSnapshot(e.snap)
	rules := next.Sources[source]
	rules.Dynamic = append(rules.Dynamic, rule)
	next.Sources[source] = rules
	if err := next.Validate(); err != nil {
		return errors.NewFilterError(source, "INVALID_DYNAMIC_RULE", "dynamic rule rejected", err)
	}
	sortRules(rules.Dynamic)
	e.snap = next
	return nil
}

// PruneExpired removes expired dynamic rules. Returns how many were removed.
func (e *Engine) PruneExpired(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return 0
	}

	removed := 0
	next := cloneSnapshot(e.snap)
	for source, rules := range next.Sources {
		kept := rules.Dynamic[:0]
		for _, rule := range rules.Dynamic {
			if rule.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, rule)
		}
		rules.Dynamic = kept
		next.Sources[source] = rules
	}
	if removed > 0 {
		e.snap = next
		filterLogger.Debug("Expired dynamic rules pruned",
			sdklog.Operation("filter_prune"),
			sdklog.Int("removed", removed))
	}
	return removed
}

// Allow evaluates the event against the active rule set. Dynamic rules run
// first in priority order: a matching include allows immediately, a matching
// exclude rejects with its name. Then the static rules run; if nothing
// rejects, the event is allowed.
func (e *Engine) Allow(ev *event.Event, now time.Time) (bool, string) {
	e.mu.RLock()
	snap := e.snap
	e.mu.RUnlock()

	rules := snap.rulesFor(ev.Source)
	if rules == nil {
		return true, ""
	}

	for i := range rules.Dynamic {
		rule := &rules.Dynamic[i]
		if rule.Expired(now) {
			continue
		}
		if !matches(&rule.Match, ev) {
			continue
		}
		switch rule.Action {
		case ActionInclude:
			return true, event.ReasonDynamicIncluded
		case ActionExclude:
			return false, event.ReasonDynamicExcluded
		}
	}

	return allowStatic(&rules.Static, ev)
}

// allowStatic applies the per-source static predicates
func allowStatic(static *StaticRules, ev *event.Event) (bool, string) {
	if static.MinPriority > 0 && ev.Severity < static.MinPriority {
		return false, event.ReasonMinPriority
	}

	ns := ev.Namespace()
	if len(static.ExcludedNamespaces) > 0 && containsString(static.ExcludedNamespaces, ns) {
		return false, event.ReasonNamespaceDenied
	}
	if len(static.IncludedNamespaces) > 0 && !containsString(static.IncludedNamespaces, ns) {
		return false, event.ReasonNamespaceDenied
	}
	if len(static.AllowedTypes) > 0 && !containsString(static.AllowedTypes, ev.EventType) {
		return false, event.ReasonTypeDenied
	}
	return true, ""
}

// matches applies a dynamic rule's predicate
func matches(m *Match, ev *event.Event) bool {
	if len(m.Namespaces) > 0 && !containsString(m.Namespaces, ev.Namespace()) {
		return false
	}
	if len(m.EventTypes) > 0 && !containsString(m.EventTypes, ev.EventType) {
		return false
	}
	if m.MinSeverity != nil && ev.Severity < *m.MinSeverity {
		return false
	}
	if m.MaxSeverity != nil && ev.Severity > *m.MaxSeverity {
		return false
	}
	return true
}

func sortRules(rules []DynamicRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	next := &Snapshot{Sources: make(map[string]SourceRules)}
	if snap == nil {
		return next
	}
	for source, rules := range snap.Sources {
		cloned := rules
		cloned.Dynamic = append([]DynamicRule(nil), rules.Dynamic...)
		next.Sources[source] = cloned
	}
	if snap.Default != nil {
		def := *snap.Default
		def.Dynamic = append([]DynamicRule(nil), snap.Default.Dynamic...)
		next.Default = &def
	}
	return next
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
