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
)

func TestStateManager_NewSourceStartsEvaluating(t *testing.T) {
	m := NewStateManager()
	st := m.State("trivy", DedupFirst)

	if st.Phase != PhaseEvaluating {
		t.Errorf("new state phase = %s, want evaluating", st.Phase)
	}
	if st.Current != DedupFirst {
		t.Errorf("new state strategy = %s, want dedup_first", st.Current)
	}
}

func TestStateManager_ApplyThenStable(t *testing.T) {
	m := NewStateManager()
	m.State("trivy", DedupFirst)

	m.RecordApply("trivy", FilterFirst, 0.8, "low-severity flood", 0.3, t0)
	st, _ := m.SnapshotState("trivy")
	if st.Phase != PhaseApplying || st.Current != FilterFirst || st.Previous != DedupFirst {
		t.Fatalf("after apply: %+v", st)
	}
	if st.Baseline != 0.3 {
		t.Errorf("baseline = %v, want 0.3", st.Baseline)
	}

	m.RecordStable("trivy", t0.Add(10*time.Minute))
	st, _ = m.SnapshotState("trivy")
	if st.Phase != PhaseStable {
		t.Errorf("after stable: phase = %s", st.Phase)
	}
	if len(st.History) != 1 {
		t.Errorf("history length = %d, want 1", len(st.History))
	}
}

func TestStateManager_RollbackSwapsAndPins(t *testing.T) {
	m := NewStateManager()
	m.State("trivy", DedupFirst)
	m.RecordApply("trivy", FilterFirst, 0.8, "low-severity flood", 0.3, t0)

	pin := t0.Add(20 * time.Minute)
	reverted := m.RecordRollback("trivy", "regression", pin, t0.Add(10*time.Minute))

	if reverted != DedupFirst {
		t.Errorf("reverted to %s, want dedup_first", reverted)
	}
	st, _ := m.SnapshotState("trivy")
	if st.Current != DedupFirst || st.Previous != FilterFirst {
		t.Errorf("rollback did not swap strategies: %+v", st)
	}
	if st.Phase != PhaseRolledBack {
		t.Errorf("phase = %s, want rolled_back", st.Phase)
	}
	if !st.PinnedUntil.Equal(pin) {
		t.Errorf("pinned until %v, want %v", st.PinnedUntil, pin)
	}
	if len(st.History) != 2 {
		t.Errorf("history length = %d, want 2", len(st.History))
	}
}

func TestStateManager_HistoryBounded(t *testing.T) {
	m := NewStateManager()
	m.State("trivy", DedupFirst)
	for i := 0; i < 250; i++ {
		m.RecordApply("trivy", Strategy(i%4), 0.5, "churn", 0.1, t0.Add(time.Duration(i)*time.Minute))
	}
	st, _ := m.SnapshotState("trivy")
	if len(st.History) != 100 {
		t.Errorf("history length = %d, want 100", len(st.History))
	}
	last := st.History[len(st.History)-1]
	if !last.Timestamp.Equal(t0.Add(249 * time.Minute)) {
		t.Error("history should keep the most recent transitions")
	}
}

func TestStateManager_SnapshotIsACopy(t *testing.T) {
	m := NewStateManager()
	m.State("trivy", DedupFirst)
	m.RecordApply("trivy", FilterFirst, 0.8, "x", 0.3, t0)

	snap, _ := m.SnapshotState("trivy")
	snap.History[0].Reason = "mutated"
	snap.Current = Hybrid

	st, _ := m.SnapshotState("trivy")
	if st.History[0].Reason != "x" || st.Current != FilterFirst {
		t.Error("snapshot mutation leaked into manager state")
	}
}

func TestStateManager_Forget(t *testing.T) {
	m := NewStateManager()
	m.State("trivy", DedupFirst)
	m.Forget("trivy")

	if _, ok := m.SnapshotState("trivy"); ok {
		t.Error("forgotten source should have no state")
	}
	if len(m.Sources()) != 0 {
		t.Error("forgotten source still listed")
	}
}
