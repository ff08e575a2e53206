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

package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

// Mode selects how fingerprints are derived
type Mode string

const (
	// ModeContent hashes the full normalized payload
	ModeContent Mode = "content"
	// ModeKey hashes a configured field subset
	ModeKey Mode = "key"
	// ModeHybrid uses key hashing but falls back to content hashing for keys
	// that collide across conflicting payloads beyond the tolerance
	ModeHybrid Mode = "hybrid"
)

// volatileFields are stripped from hashed payloads so bursts of the same
// underlying condition collapse to one fingerprint.
var volatileFields = map[string]struct{}{
	"timestamp":  {},
	"time":       {},
	"eventTime":  {},
	"detectedAt": {},
	"firstSeen":  {},
	"lastSeen":   {},
	"receivedAt": {},
	"uid":        {},
}

// keyFieldsBySource are the identifying detail fields for well-known sources,
// used when no explicit key fields are configured.
var keyFieldsBySource = map[string][]string{
	"trivy":   {"vulnerabilityID", "package"},
	"falco":   {"rule"},
	"kyverno": {"policy"},
	"audit":   {"auditID"},
}

// Config configures a Computer
type Config struct {
	Mode              Mode
	KeyFields         []string // detail fields for key mode; per-source defaults apply when empty
	IncludeTimestamps bool     // keep timestamp-like fields in the hashed payload
	// CollisionTolerance is the number of distinct payloads a single key hash
	// may cover before hybrid mode falls back to content hashing for that key
	CollisionTolerance int
	// maxTrackedKeys bounds the hybrid collision tracker
	MaxTrackedKeys int
}

// Computer derives stable fingerprints from normalized events.
// Fingerprint is deterministic: identical logical events always yield the
// same fingerprint regardless of detail-map field ordering.
type Computer struct {
	cfg Config

	// hybrid collision tracking: key hash -> distinct content hashes seen
	mu        sync.Mutex
	collisions map[string]map[string]struct{}
	degraded  map[string]struct{} // key hashes demoted to content mode
}

// New creates a fingerprint computer
func New(cfg Config) *Computer {
	if cfg.Mode == "" {
		cfg.Mode = ModeContent
	}
	if cfg.CollisionTolerance <= 0 {
		cfg.CollisionTolerance = 2
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = 4096
	}
	return &Computer{
		cfg:       cfg,
		collisions: make(map[string]map[string]struct{}),
		degraded:  make(map[string]struct{}),
	}
}

// Fingerprint returns the fingerprint for an event under the configured mode
func (c *Computer) Fingerprint(e *event.Event) string {
	switch c.cfg.Mode {
	case ModeKey:
		if fp, ok := c.keyFingerprint(e); ok {
			return fp
		}
		// Required fields absent: fall back to whole-object hashing rather
		// than failing the event.
		return c.contentFingerprint(e)
	case ModeHybrid:
		return c.hybridFingerprint(e)
	default:
		return c.contentFingerprint(e)
	}
}

// contentFingerprint hashes the full normalized payload
func (c *Computer) contentFingerprint(e *event.Event) string {
	normalized := c.normalize(e)
	return hashPayload(e.Source, normalized)
}

// keyFingerprint hashes the configured field subset. The second return is
// false when the key fields are absent from the event.
func (c *Computer) keyFingerprint(e *event.Event) (string, bool) {
	fields := c.cfg.KeyFields
	if len(fields) == 0 {
		fields = keyFieldsBySource[e.Source]
	}
	if len(fields) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, e.Source, e.EventType, resourceKey(e.Resource))
	found := false
	for _, f := range fields {
		v, ok := e.Details[f]
		if !ok {
			parts = append(parts, "")
			continue
		}
		found = true
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	if !found {
		return "", false
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return fmt.Sprintf("%s/%x", e.Source, sum[:16]), true
}

// hybridFingerprint prefers the key hash but demotes keys that cover too many
// distinct payloads to content hashing.
func (c *Computer) hybridFingerprint(e *event.Event) string {
	keyFP, ok := c.keyFingerprint(e)
	if !ok {
		return c.contentFingerprint(e)
	}
	contentFP := c.contentFingerprint(e)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, demoted := c.degraded[keyFP]; demoted {
		return contentFP
	}

	seen, exists := c.collisions[keyFP]
	if !exists {
		if len(c.collisions) >= c.cfg.MaxTrackedKeys {
			// Tracker full: drop it wholesale rather than scanning for the
			// oldest entry. Collision counts rebuild quickly.
			c.collisions = make(map[string]map[string]struct{})
		}
		seen = make(map[string]struct{})
		c.collisions[keyFP] = seen
	}
	seen[contentFP] = struct{}{}

	if len(seen) > c.cfg.CollisionTolerance {
		c.degraded[keyFP] = struct{}{}
		delete(c.collisions, keyFP)
		return contentFP
	}
	return keyFP
}

// normalize builds the canonical hashed payload: field order is normalized by
// the JSON encoder (map keys are sorted) and volatile fields are trimmed.
func (c *Computer) normalize(e *event.Event) map[string]interface{} {
	normalized := map[string]interface{}{
		"source":    e.Source,
		"category":  e.Category,
		"eventType": e.EventType,
	}
	if e.Resource != nil {
		normalized["resource"] = map[string]interface{}{
			"kind":      e.Resource.Kind,
			"name":      e.Resource.Name,
			"namespace": e.Resource.Namespace,
		}
	}
	if len(e.Details) > 0 {
		details := make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			if !c.cfg.IncludeTimestamps {
				if _, volatile := volatileFields[k]; volatile {
					continue
				}
			}
			details[k] = v
		}
		if len(details) > 0 {
			normalized["details"] = details
		}
	}
	return normalized
}

// hashPayload serializes to JSON for consistent hashing and returns the
// source-prefixed fingerprint.
func hashPayload(source string, payload map[string]interface{}) string {
	if source == "" {
		source = "unknown"
	}
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		// Fallback: hash a sorted string representation
		jsonBytes = []byte(stableString(payload))
	}
	sum := sha256.Sum256(jsonBytes)
	return fmt.Sprintf("%s/%x", source, sum[:16])
}

// stableString renders a map deterministically for the marshal-failure path
func stableString(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, m[k])
	}
	return b.String()
}

func resourceKey(r *event.ResourceReference) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}
