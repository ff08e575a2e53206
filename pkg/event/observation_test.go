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
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestSeverityLabel(t *testing.T) {
	cases := []struct {
		severity float64
		want     string
	}{
		{0.95, "CRITICAL"},
		{0.9, "CRITICAL"},
		{0.8, "HIGH"},
		{0.7, "HIGH"},
		{0.5, "MEDIUM"},
		{0.4, "MEDIUM"},
		{0.3, "LOW"},
		{0.2, "LOW"},
		{0.1, "INFO"},
		{0, "INFO"},
	}
	for _, tc := range cases {
		e := &Event{Severity: tc.severity}
		if got := e.SeverityLabel(); got != tc.want {
			t.Errorf("SeverityLabel(%v) = %q, want %q", tc.severity, got, tc.want)
		}
	}
}

func TestToObservation(t *testing.T) {
	detected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &Event{
		Source:    "trivy",
		Category:  "vulnerability",
		EventType: "CVE-2026-1234",
		Severity:  0.95,
		Resource: &ResourceReference{
			APIVersion: "v1",
			Kind:       "Pod",
			Name:       "payments-5f4c",
			Namespace:  "prod",
		},
		Details: map[string]interface{}{
			"package": "openssl",
			"port":    8443, // not a JSON-safe type, must be stringified
		},
		DetectedAt: detected,
	}

	obs := ToObservation(e, 7)
	if obs.GetKind() != "Observation" || obs.GetAPIVersion() != "zen.kube-zen.io/v1" {
		t.Errorf("type meta: %s/%s", obs.GetAPIVersion(), obs.GetKind())
	}
	if obs.GetGenerateName() != "trivy-" {
		t.Errorf("generateName = %q", obs.GetGenerateName())
	}
	if obs.GetNamespace() != "prod" {
		t.Errorf("namespace = %q, want the resource namespace", obs.GetNamespace())
	}

	spec, _, _ := unstructured.NestedMap(obs.Object, "spec")
	if spec["severity"] != "CRITICAL" || spec["source"] != "trivy" {
		t.Errorf("spec: %+v", spec)
	}
	if spec["occurrences"] != int64(7) {
		t.Errorf("occurrences = %v (%T)", spec["occurrences"], spec["occurrences"])
	}
	if spec["detectedAt"] != detected.Format(time.RFC3339) {
		t.Errorf("detectedAt = %v", spec["detectedAt"])
	}

	resource, _, _ := unstructured.NestedStringMap(obs.Object, "spec", "resource")
	if resource["kind"] != "Pod" || resource["namespace"] != "prod" {
		t.Errorf("resource: %+v", resource)
	}

	details, _, _ := unstructured.NestedMap(obs.Object, "spec", "details")
	if details["package"] != "openssl" {
		t.Errorf("details.package = %v", details["package"])
	}
	if details["port"] != "8443" {
		t.Errorf("details.port = %v (%T), want the stringified value", details["port"], details["port"])
	}
}

func TestToObservation_Defaults(t *testing.T) {
	obs := ToObservation(&Event{Source: "falco", EventType: "x"}, 1)
	if obs.GetNamespace() != "default" {
		t.Errorf("namespace = %q, want default for cluster-scoped events", obs.GetNamespace())
	}
	if ToObservation(nil, 1) != nil {
		t.Error("nil event must convert to nil")
	}
}
