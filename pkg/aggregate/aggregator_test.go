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

package aggregate

import (
	"testing"
	"time"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(name string) *event.Event {
	return &event.Event{
		Source:    "falco",
		EventType: "runtime-threat",
		Details:   map[string]interface{}{"output": name},
	}
}

func TestAggregator_FirstEventIsRepresentative(t *testing.T) {
	a := New(time.Minute)

	first := ev("first")
	rep, count := a.Observe("fp", first, t0)
	if rep != first || count != 1 {
		t.Fatalf("first observation should open with itself, got count %d", count)
	}

	rep, count = a.Observe("fp", ev("second"), t0.Add(time.Second))
	if rep != first {
		t.Error("later occurrences must not replace the representative")
	}
	if count != 2 {
		t.Errorf("expected running count 2, got %d", count)
	}
}

func TestAggregator_FlushClosesAgedWindows(t *testing.T) {
	a := New(time.Minute)

	a.Observe("old", ev("old"), t0)
	a.Observe("young", ev("young"), t0.Add(50*time.Second))

	closed := a.Flush(t0.Add(61 * time.Second))
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed window, got %d", len(closed))
	}
	if closed[0].Count != 1 {
		t.Errorf("expected count 1, got %d", closed[0].Count)
	}
	if a.Open() != 1 {
		t.Errorf("the young window should stay open, %d open", a.Open())
	}
}

func TestAggregator_FlushCarriesCountAndTimes(t *testing.T) {
	a := New(time.Minute)

	a.Observe("fp", ev("rep"), t0)
	a.Observe("fp", ev("dup"), t0.Add(10*time.Second))
	a.Observe("fp", ev("dup"), t0.Add(20*time.Second))

	closed := a.Flush(t0.Add(2 * time.Minute))
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed window, got %d", len(closed))
	}
	w := closed[0]
	if w.Count != 3 {
		t.Errorf("expected count 3, got %d", w.Count)
	}
	if !w.FirstSeen.Equal(t0) || !w.LastSeen.Equal(t0.Add(20*time.Second)) {
		t.Errorf("window bounds wrong: first %v last %v", w.FirstSeen, w.LastSeen)
	}
}

func TestAggregator_FlushAll(t *testing.T) {
	a := New(time.Hour)

	a.Observe("a", ev("a"), t0)
	a.Observe("b", ev("b"), t0)

	closed := a.FlushAll()
	if len(closed) != 2 {
		t.Errorf("FlushAll should close every window, got %d", len(closed))
	}
	if a.Open() != 0 {
		t.Errorf("no windows should remain, %d open", a.Open())
	}
}

func TestAggregator_ReopenAfterFlush(t *testing.T) {
	a := New(time.Minute)

	a.Observe("fp", ev("one"), t0)
	a.Flush(t0.Add(2 * time.Minute))

	_, count := a.Observe("fp", ev("two"), t0.Add(3*time.Minute))
	if count != 1 {
		t.Errorf("flushed fingerprint should open a fresh window, got count %d", count)
	}
}
