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

package event

import (
	"time"
)

// ResourceReference identifies the Kubernetes resource an event refers to
type ResourceReference struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Name       string `json:"name,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
}

// Event is a normalized security event handed to the pipeline by a source
// adapter. Events are immutable once constructed; the pipeline only reads them.
type Event struct {
	Source     string                 `json:"source"`
	Category   string                 `json:"category"`
	EventType  string                 `json:"eventType"`
	Severity   float64                `json:"severity"` // 0.0-1.0
	Resource   *ResourceReference     `json:"resource,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DetectedAt time.Time              `json:"detectedAt"`
}

// SeverityLabel maps the numeric severity to the label used on Observations
func (e *Event) SeverityLabel() string {
	switch {
	case e.Severity >= 0.9:
		return "CRITICAL"
	case e.Severity >= 0.7:
		return "HIGH"
	case e.Severity >= 0.4:
		return "MEDIUM"
	case e.Severity >= 0.2:
		return "LOW"
	default:
		return "INFO"
	}
}

// Namespace returns the namespace of the referenced resource, if any
func (e *Event) Namespace() string {
	if e.Resource == nil {
		return ""
	}
	return e.Resource.Namespace
}

// Outcome is the terminal decision kind for a processed event
type Outcome int

const (
	// OutcomeAdmitted means the event survived all stages and was handed downstream
	OutcomeAdmitted Outcome = iota
	// OutcomeDropped means the event was rejected by a stage
	OutcomeDropped
	// OutcomeAggregated means the event was folded into a rolling representative
	OutcomeAggregated
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeDropped:
		return "dropped"
	case OutcomeAggregated:
		return "aggregated"
	default:
		return "dropped"
	}
}

// Reason codes attached to terminal decisions
const (
	ReasonNew              = "new"
	ReasonDuplicate        = "duplicate"
	ReasonAggregated       = "aggregated"
	ReasonRateLimited      = "rate_limited"
	ReasonMalformed        = "malformed"
	ReasonMinPriority      = "min_priority"
	ReasonNamespaceDenied  = "namespace_denied"
	ReasonTypeDenied       = "type_denied"
	ReasonDynamicExcluded  = "dynamic_excluded"
	ReasonDynamicIncluded  = "dynamic_included"
	ReasonShutdown         = "shutdown"
)

// Decision is the single terminal outcome the pipeline emits per input event
type Decision struct {
	Outcome     Outcome
	Stage       string // filter, dedup, ratelimit, pipeline
	Reason      string
	Occurrences int    // dedup occurrence count at decision time
	// Representative carries the rolled-up event for OutcomeAggregated
	Representative *Event
}

// Admitted returns a decision admitting the event as first of its fingerprint
func Admitted(occurrences int) Decision {
	return Decision{Outcome: OutcomeAdmitted, Stage: "dedup", Reason: ReasonNew, Occurrences: occurrences}
}

// Dropped returns a drop decision from the given stage
func Dropped(stage, reason string) Decision {
	return Decision{Outcome: OutcomeDropped, Stage: stage, Reason: reason}
}

// Aggregated returns an aggregation decision carrying the current representative
func Aggregated(rep *Event, occurrences int) Decision {
	return Decision{
		Outcome:        OutcomeAggregated,
		Stage:          "dedup",
		Reason:         ReasonAggregated,
		Occurrences:    occurrences,
		Representative: rep,
	}
}
