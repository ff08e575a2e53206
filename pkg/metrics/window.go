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

package metrics

import (
	"sync"
	"time"
)

// windowBucket accumulates stage outcomes for one slice of the rolling window
type windowBucket struct {
	id          int64
	total       int64
	duplicates  int64
	filtered    int64
	rateLimited int64
	admitted    int64
	lowSeverity int64
}

// SourceWindow keeps per-source rolling counters over a fixed window, sliced
// into buckets so expiry is a cursor advance rather than a scan. All methods
// take an explicit time so callers control the clock.
type SourceWindow struct {
	mu          sync.Mutex
	window      time.Duration
	bucketWidth time.Duration
	buckets     []windowBucket
	cursor      int
}

// Snapshot is a point-in-time aggregate of a source's rolling window
type Snapshot struct {
	Total       int64
	Duplicates  int64
	Filtered    int64
	RateLimited int64
	Admitted    int64
	LowSeverity int64

	// DedupRate is duplicates / total, 0 when the window is empty
	DedupRate float64
	// FilterRate is filtered / total
	FilterRate float64
	// LowSeverityRatio is low-severity events / total
	LowSeverityRatio float64
	// EventsPerMinute is total normalized to a one-minute rate
	EventsPerMinute float64

	Window time.Duration
}

// NewSourceWindow creates a rolling window of the given size. The window is
// sliced into 30 buckets, at least one second wide.
func NewSourceWindow(window time.Duration) *SourceWindow {
	if window <= 0 {
		window = 15 * time.Minute
	}
	width := window / 30
	if width < time.Second {
		width = time.Second
	}
	n := int(window/width) + 1
	return &SourceWindow{
		window:      window,
		bucketWidth: width,
		buckets:     make([]windowBucket, n),
	}
}

func (w *SourceWindow) bucketFor(now time.Time) *windowBucket {
	id := now.UnixNano() / int64(w.bucketWidth)
	b := &w.buckets[w.cursor]
	if b.id == id {
		return b
	}
	if id-b.id >= int64(len(w.buckets)) {
		// First use, or the whole window elapsed since the last record
		for i := range w.buckets {
			w.buckets[i] = windowBucket{}
		}
		w.cursor = 0
		w.buckets[0].id = id
		return &w.buckets[0]
	}
	// Advance, clearing skipped slots so stale counts never resurface
	for b.id < id {
		w.cursor = (w.cursor + 1) % len(w.buckets)
		next := &w.buckets[w.cursor]
		*next = windowBucket{id: b.id + 1}
		b = next
	}
	b.id = id
	return b
}

// RecordTotal counts a received event; lowSeverity marks events under the
// source's severity fence
func (w *SourceWindow) RecordTotal(now time.Time, lowSeverity bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.bucketFor(now)
	b.total++
	if lowSeverity {
		b.lowSeverity++
	}
}

// RecordDuplicate counts an event rejected by the dedup stage
func (w *SourceWindow) RecordDuplicate(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucketFor(now).duplicates++
}

// RecordFiltered counts an event rejected by the filter stage
func (w *SourceWindow) RecordFiltered(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucketFor(now).filtered++
}

// RecordRateLimited counts an event rejected by admission control
func (w *SourceWindow) RecordRateLimited(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucketFor(now).rateLimited++
}

// RecordAdmitted counts an event that survived every stage
func (w *SourceWindow) RecordAdmitted(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bucketFor(now).admitted++
}

// Snapshot aggregates the buckets still inside the window ending at now
func (w *SourceWindow) Snapshot(now time.Time) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	minID := now.Add(-w.window).UnixNano() / int64(w.bucketWidth)
	snap := Snapshot{Window: w.window}
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.id < minID || b.total == 0 && b.duplicates == 0 && b.filtered == 0 && b.rateLimited == 0 && b.admitted == 0 {
			continue
		}
		snap.Total += b.total
		snap.Duplicates += b.duplicates
		snap.Filtered += b.filtered
		snap.RateLimited += b.rateLimited
		snap.Admitted += b.admitted
		snap.LowSeverity += b.lowSeverity
	}
	if snap.Total > 0 {
		snap.DedupRate = float64(snap.Duplicates) / float64(snap.Total)
		snap.FilterRate = float64(snap.Filtered) / float64(snap.Total)
		snap.LowSeverityRatio = float64(snap.LowSeverity) / float64(snap.Total)
		snap.EventsPerMinute = float64(snap.Total) / w.window.Minutes()
	}
	return snap
}

// Reset clears all counters
func (w *SourceWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.buckets {
		w.buckets[i] = windowBucket{}
	}
	w.cursor = 0
}
