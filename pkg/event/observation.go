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
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ToObservation converts an admitted event into the Observation payload handed
// to the persistence collaborator. occurrences carries the dedup count so
// downstream consumers keep recurrence signal.
func ToObservation(e *Event, occurrences int) *unstructured.Unstructured {
	if e == nil {
		return nil
	}

	namespace := e.Namespace()
	if namespace == "" {
		namespace = "default"
	}

	detectedAt := e.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	obs := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "zen.kube-zen.io/v1",
			"kind":       "Observation",
			"metadata": map[string]interface{}{
				"generateName": e.Source + "-",
				"namespace":    namespace,
				"labels": map[string]interface{}{
					"source":   e.Source,
					"category": e.Category,
					"severity": e.SeverityLabel(),
				},
			},
			"spec": map[string]interface{}{
				"source":      e.Source,
				"category":    e.Category,
				"severity":    e.SeverityLabel(),
				"priority":    e.Severity,
				"eventType":   e.EventType,
				"detectedAt":  detectedAt.Format(time.RFC3339),
				"occurrences": int64(occurrences),
			},
		},
	}

	if e.Resource != nil {
		resource := map[string]interface{}{
			"kind": e.Resource.Kind,
			"name": e.Resource.Name,
		}
		if e.Resource.APIVersion != "" {
			resource["apiVersion"] = e.Resource.APIVersion
		}
		if e.Resource.Namespace != "" {
			resource["namespace"] = e.Resource.Namespace
		}
		if err := unstructured.SetNestedMap(obs.Object, resource, "spec", "resource"); err != nil {
			// Resource maps are built from plain strings above, so this cannot
			// fail in practice; keep the event rather than dropping it.
			_ = err
		}
	}

	if len(e.Details) > 0 {
		details := make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			switch v.(type) {
			case string, bool, int64, float64, map[string]interface{}, []interface{}, nil:
				details[k] = v
			default:
				details[k] = fmt.Sprintf("%v", v)
			}
		}
		if err := unstructured.SetNestedMap(obs.Object, details, "spec", "details"); err != nil {
			_ = err
		}
	}

	return obs
}
