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
	"sync"
	"time"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

// Representative is the rolled-up form of repeated occurrences of one
// fingerprint within an aggregation window.
type Representative struct {
	Event     *event.Event
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

type openWindow struct {
	rep       *event.Event
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Aggregator folds repeated occurrences of a fingerprint inside a rolling
// window into one representative event carrying a count, instead of silently
// dropping them. Windows close when Flush observes they have aged out.
type Aggregator struct {
	mu     sync.Mutex
	window time.Duration
	open   map[string]*openWindow
}

// New creates an aggregator with the given rolling window
func New(window time.Duration) *Aggregator {
	if window <= 0 {
		window = time.Minute
	}
	return &Aggregator{
		window: window,
		open:   make(map[string]*openWindow),
	}
}

// Observe records an occurrence of a fingerprint. The first event observed
// for a window becomes the representative; later ones only bump the count.
// Returns the representative and the running count.
func (a *Aggregator) Observe(fp string, ev *event.Event, now time.Time) (*event.Event, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, exists := a.open[fp]
	if !exists {
		w = &openWindow{rep: ev, firstSeen: now}
		a.open[fp] = w
	}
	w.count++
	w.lastSeen = now
	return w.rep, w.count
}

// Flush closes windows whose last occurrence is older than the window span
// and returns their representatives.
func (a *Aggregator) Flush(now time.Time) []Representative {
	a.mu.Lock()
	defer a.mu.Unlock()

	var closed []Representative
	for fp, w := range a.open {
		if now.Sub(w.firstSeen) < a.window {
			continue
		}
		closed = append(closed, Representative{
			Event:     w.rep,
			Count:     w.count,
			FirstSeen: w.firstSeen,
			LastSeen:  w.lastSeen,
		})
		delete(a.open, fp)
	}
	return closed
}

// FlushAll closes every open window regardless of age (shutdown path)
func (a *Aggregator) FlushAll() []Representative {
	a.mu.Lock()
	defer a.mu.Unlock()

	closed := make([]Representative, 0, len(a.open))
	for fp, w := range a.open {
		closed = append(closed, Representative{
			Event:     w.rep,
			Count:     w.count,
			FirstSeen: w.firstSeen,
			LastSeen:  w.lastSeen,
		})
		delete(a.open, fp)
	}
	return closed
}

// Open returns the number of open aggregation windows
func (a *Aggregator) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
