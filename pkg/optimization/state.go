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
	"sync"
	"time"
)

// Phase is a source's position in the optimization cycle
type Phase string

const (
	// PhaseEvaluating: collecting a window of metrics before any change
	PhaseEvaluating Phase = "evaluating"
	// PhaseApplying: a new strategy was applied and is on probation
	PhaseApplying Phase = "applying"
	// PhaseStable: the applied strategy held up under its first window
	PhaseStable Phase = "stable"
	// PhaseRolledBack: the applied strategy regressed and was reverted;
	// the source is pinned to the previous strategy for one interval
	PhaseRolledBack Phase = "rolled_back"
)

// Transition records one strategy change for a source
type Transition struct {
	Timestamp  time.Time
	From       Strategy
	To         Strategy
	Confidence float64
	Reason     string
	// Baseline is the effectiveness observed under the old strategy,
	// kept for the rollback comparison
	Baseline float64
}

// SourceState tracks one source's optimization cycle
type SourceState struct {
	Source   string
	Phase    Phase
	Current  Strategy
	Previous Strategy
	// Baseline effectiveness under the current strategy's predecessor
	Baseline float64
	// PinnedUntil blocks re-evaluation after a rollback
	PinnedUntil time.Time
	LastChange  time.Time
	History     []Transition
}

// StateManager tracks the optimization cycle for all sources
type StateManager struct {
	mu         sync.RWMutex
	states     map[string]*SourceState
	maxHistory int
}

// NewStateManager creates an empty state manager keeping the last 100
// transitions per source
func NewStateManager() *StateManager {
	return &StateManager{
		states:     make(map[string]*SourceState),
		maxHistory: 100,
	}
}

// State returns the state for a source, creating it in the evaluating
// phase with the given initial strategy
func (m *StateManager) State(source string, initial Strategy) *SourceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[source]; ok {
		return st
	}
	st := &SourceState{
		Source:  source,
		Phase:   PhaseEvaluating,
		Current: initial,
	}
	m.states[source] = st
	return st
}

// RecordApply moves a source into the applying phase after a strategy change
func (m *StateManager) RecordApply(source string, to Strategy, confidence float64, reason string, baseline float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[source]
	if !ok {
		st = &SourceState{Source: source, Current: to}
		m.states[source] = st
	}
	tr := Transition{
		Timestamp:  now,
		From:       st.Current,
		To:         to,
		Confidence: confidence,
		Reason:     reason,
		Baseline:   baseline,
	}
	st.Previous = st.Current
	st.Current = to
	st.Baseline = baseline
	st.Phase = PhaseApplying
	st.LastChange = now
	st.History = append(st.History, tr)
	if len(st.History) > m.maxHistory {
		st.History = st.History[len(st.History)-m.maxHistory:]
	}
}

// RecordStable marks the applied strategy as having survived its probation
func (m *StateManager) RecordStable(source string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[source]; ok {
		st.Phase = PhaseStable
	}
}

// RecordRollback reverts a source to its previous strategy and pins it
// until the given time
func (m *StateManager) RecordRollback(source string, reason string, pinnedUntil, now time.Time) Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[source]
	if !ok {
		return FilterFirst
	}
	tr := Transition{
		Timestamp: now,
		From:      st.Current,
		To:        st.Previous,
		Reason:    reason,
	}
	st.Current, st.Previous = st.Previous, st.Current
	st.Phase = PhaseRolledBack
	st.PinnedUntil = pinnedUntil
	st.LastChange = now
	st.History = append(st.History, tr)
	if len(st.History) > m.maxHistory {
		st.History = st.History[len(st.History)-m.maxHistory:]
	}
	return st.Current
}

// RecordEvaluating returns a source to the evaluating phase once any
// rollback pin has lapsed
func (m *StateManager) RecordEvaluating(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[source]; ok {
		st.Phase = PhaseEvaluating
	}
}

// SnapshotState returns a copy of a source's state for reporting
func (m *StateManager) SnapshotState(source string) (SourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[source]
	if !ok {
		return SourceState{}, false
	}
	cp := *st
	cp.History = append([]Transition(nil), st.History...)
	return cp, true
}

// Sources lists all tracked sources
func (m *StateManager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.states))
	for s := range m.states {
		out = append(out, s)
	}
	return out
}

// Forget drops a source's state entirely
func (m *StateManager) Forget(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, source)
}
