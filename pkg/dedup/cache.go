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

package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Entry is the per-fingerprint dedup record. Owned exclusively by the Cache
// and mutated only under its lock.
type Entry struct {
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
	Count       int

	bucketID int64
	lruElem  *list.Element
}

// Stats reports cache occupancy and eviction counters
type Stats struct {
	Entries        int
	Buckets        int
	MaxEntries     int
	Window         time.Duration
	BucketWidth    time.Duration
	LRUEvictions   uint64
	ExpiryDrops    uint64
	Hits           uint64
	Misses         uint64
}

// Cache is a time-bucketed, LRU-bounded deduplication cache.
//
// Time is an explicit parameter on every operation so the cache is
// deterministically testable under simulated time. Expiry is amortized:
// every admission check advances a bucket cursor and drops whole buckets
// older than the window, so there is no background sweep and the critical
// section stays O(1).
//
// A single mutex guards the instance. This is a known scaling limit; the
// pipeline gives each source its own Cache so one source's traffic never
// blocks another's.
type Cache struct {
	mu sync.Mutex

	entries map[string]*Entry
	lru     *list.List // front = most recently touched

	// buckets holds, per bucket id, the fingerprints currently assigned to
	// that bucket. Entries move to the current bucket on every touch, so a
	// bucket older than the window contains only expired entries and can be
	// discarded wholesale.
	buckets   map[int64]map[string]struct{}
	minBucket int64 // oldest bucket not yet dropped
	maxBucket int64 // newest bucket observed

	window      time.Duration
	bucketWidth time.Duration
	maxEntries  int

	lruEvictions uint64
	expiryDrops  uint64
	hits         uint64
	misses       uint64
}

// NewCache creates a dedup cache. bucketWidth defaults to window/10 (clamped
// to at least one second); maxEntries defaults to 10000.
func NewCache(window, bucketWidth time.Duration, maxEntries int) *Cache {
	if window <= 0 {
		window = 60 * time.Second
	}
	if bucketWidth <= 0 {
		bucketWidth = window / 10
	}
	if bucketWidth < time.Second {
		bucketWidth = time.Second
	}
	if bucketWidth > window {
		bucketWidth = window
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		entries:     make(map[string]*Entry),
		lru:         list.New(),
		buckets:     make(map[int64]map[string]struct{}),
		minBucket:   -1,
		maxBucket:   -1,
		window:      window,
		bucketWidth: bucketWidth,
		maxEntries:  maxEntries,
	}
}

// ShouldAdmit reports whether the event carrying this fingerprint is first of
// its kind within the window. Duplicates are rejected with their occurrence
// count; expired fingerprints start a fresh entry with a fresh count.
func (c *Cache) ShouldAdmit(fp string, now time.Time) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucketID := c.bucketFor(now)
	c.advance(bucketID)

	ent, exists := c.entries[fp]
	if exists {
		if now.Sub(ent.LastSeen) < c.window {
			// Duplicate within the window: refresh and reject.
			ent.Count++
			ent.LastSeen = now
			c.assignBucket(ent, fp, bucketID)
			c.lru.MoveToFront(ent.lruElem)
			c.hits++
			return false, ent.Count
		}
		// Window expired: the old count is gone for good, this is a fresh
		// entry.
		ent.FirstSeen = now
		ent.LastSeen = now
		ent.Count = 1
		c.assignBucket(ent, fp, bucketID)
		c.lru.MoveToFront(ent.lruElem)
		c.misses++
		return true, 1
	}

	c.misses++
	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	ent = &Entry{
		Fingerprint: fp,
		FirstSeen:   now,
		LastSeen:    now,
		Count:       1,
		bucketID:    bucketID,
	}
	ent.lruElem = c.lru.PushFront(ent)
	c.entries[fp] = ent
	c.bucketSet(bucketID)[fp] = struct{}{}
	return true, 1
}

// Lookup returns a copy of the entry for a fingerprint, if resident
func (c *Cache) Lookup(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent, ok := c.entries[fp]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Fingerprint: ent.Fingerprint,
		FirstSeen:   ent.FirstSeen,
		LastSeen:    ent.LastSeen,
		Count:       ent.Count,
	}, true
}

// Stats returns current cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:      len(c.entries),
		Buckets:      len(c.buckets),
		MaxEntries:   c.maxEntries,
		Window:       c.window,
		BucketWidth:  c.bucketWidth,
		LRUEvictions: c.lruEvictions,
		ExpiryDrops:  c.expiryDrops,
		Hits:         c.hits,
		Misses:       c.misses,
	}
}

// Reset drops all entries and buckets
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.lru.Init()
	c.buckets = make(map[int64]map[string]struct{})
	c.minBucket = -1
	c.maxBucket = -1
}

// SetMaxEntries updates the LRU cap, evicting down to the new cap if needed
func (c *Cache) SetMaxEntries(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}

func (c *Cache) bucketFor(t time.Time) int64 {
	return t.UnixNano() / int64(c.bucketWidth)
}

// advance moves the bucket cursor forward and discards buckets outside the
// window wholesale. An entry is assigned to the bucket of its last touch, so
// a bucket is only dropped once every entry in it is at least a full window
// stale (one extra bucket of slack covers in-bucket timestamp spread).
func (c *Cache) advance(bucketID int64) {
	if bucketID > c.maxBucket {
		c.maxBucket = bucketID
	}
	if c.minBucket < 0 {
		c.minBucket = bucketID
		return
	}
	bucketsInWindow := int64(c.window / c.bucketWidth)
	cutoff := c.maxBucket - bucketsInWindow - 1
	if cutoff-c.minBucket > 2*bucketsInWindow {
		// Large idle gap: walk the resident buckets instead of stepping the
		// cursor across empty ids.
		for id, set := range c.buckets {
			if id >= cutoff {
				continue
			}
			c.dropBucket(id, set)
		}
		c.minBucket = cutoff
		return
	}
	for c.minBucket < cutoff {
		if set, ok := c.buckets[c.minBucket]; ok {
			c.dropBucket(c.minBucket, set)
		}
		c.minBucket++
	}
}

// dropBucket discards a whole bucket and every entry still assigned to it
func (c *Cache) dropBucket(id int64, set map[string]struct{}) {
	for fp := range set {
		if ent, ok := c.entries[fp]; ok && ent.bucketID == id {
			c.lru.Remove(ent.lruElem)
			delete(c.entries, fp)
			c.expiryDrops++
		}
	}
	delete(c.buckets, id)
}

// assignBucket moves an entry to the current bucket
func (c *Cache) assignBucket(ent *Entry, fp string, bucketID int64) {
	if ent.bucketID == bucketID {
		return
	}
	if old, ok := c.buckets[ent.bucketID]; ok {
		delete(old, fp)
	}
	ent.bucketID = bucketID
	c.bucketSet(bucketID)[fp] = struct{}{}
}

func (c *Cache) bucketSet(bucketID int64) map[string]struct{} {
	set, ok := c.buckets[bucketID]
	if !ok {
		set = make(map[string]struct{})
		c.buckets[bucketID] = set
	}
	return set
}

// evictOldest removes the least-recently-touched entry regardless of its
// bucket. Hitting the cap is expected steady-state behavior under pressure,
// recorded as a counter, not an error.
func (c *Cache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	ent := back.Value.(*Entry)
	c.lru.Remove(back)
	if set, ok := c.buckets[ent.bucketID]; ok {
		delete(set, ent.Fingerprint)
	}
	delete(c.entries, ent.Fingerprint)
	c.lruEvictions++
}
