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

package config

import (
	stderrors "errors"
	"testing"
	"time"

	pipeerrors "github.com/kube-zen/zen-pipeline/pkg/errors"
	"github.com/kube-zen/zen-pipeline/pkg/filter"
)

func TestParse_FullDocument(t *testing.T) {
	doc := []byte(`
dedupWindow: 90s
dedupMaxEntries: 5000
rateLimitDefaults:
  eventsPerSecond: 50
  burst: 100
optimizationInterval: 5m
sources:
  trivy:
    dedup:
      enabled: true
      window: 10m
      fingerprintMode: key
      keyFields: [vulnerabilityID, package]
    aggregation:
      enabled: true
      window: 60s
    processing:
      order: dedup_first
  falco:
    rateLimit:
      eventsPerSecond: 10
      burst: 20
    processing:
      order: auto
      autoOptimize: true
      thresholds:
        minConfidence: 0.5
`)
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.DedupWindow.Std() != 90*time.Second {
		t.Errorf("dedupWindow = %v, want 90s", cfg.DedupWindow.Std())
	}
	if cfg.OptimizationInterval.Std() != 5*time.Minute {
		t.Errorf("optimizationInterval = %v, want 5m", cfg.OptimizationInterval.Std())
	}

	trivy := cfg.Sources["trivy"]
	if trivy == nil || trivy.Dedup == nil {
		t.Fatal("trivy source missing")
	}
	if trivy.Dedup.Window.Std() != 10*time.Minute {
		t.Errorf("trivy dedup window = %v, want 10m", trivy.Dedup.Window.Std())
	}
	if trivy.Dedup.FingerprintMode != "key" || len(trivy.Dedup.KeyFields) != 2 {
		t.Errorf("trivy fingerprint config: %+v", trivy.Dedup)
	}
	if trivy.Processing.Order != OrderDedupFirst {
		t.Errorf("trivy order = %q", trivy.Processing.Order)
	}

	falco := cfg.Sources["falco"]
	if !falco.Processing.AutoOptimize {
		t.Error("falco autoOptimize should be set")
	}
	if falco.Processing.Thresholds.MinConfidence != 0.5 {
		t.Errorf("falco minConfidence = %v", falco.Processing.Thresholds.MinConfidence)
	}
	// Source name is backfilled from the map key
	if falco.Source != "falco" {
		t.Errorf("falco source name = %q", falco.Source)
	}
}

func TestParse_DurationFromPlainSeconds(t *testing.T) {
	cfg, err := Parse([]byte("dedupWindow: 120\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DedupWindow.Std() != 120*time.Second {
		t.Errorf("dedupWindow = %v, want 2m", cfg.DedupWindow.Std())
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("dedupWimdow: 60s\n")); err == nil {
		t.Error("a typoed top-level key must fail parsing")
	}
	if _, err := Parse([]byte("sources:\n  trivy:\n    dedupp: {}\n")); err == nil {
		t.Error("a typoed nested key must fail parsing")
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"bad duration":         "dedupWindow: soon\n",
		"bad fingerprint mode": "sources:\n  trivy:\n    dedup:\n      fingerprintMode: sha1\n",
		"zero rate":            "sources:\n  trivy:\n    rateLimit:\n      eventsPerSecond: 0\n      burst: 5\n",
		"zero burst":           "sources:\n  trivy:\n    rateLimit:\n      eventsPerSecond: 5\n      burst: 0\n",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestValidate_CategorizesStageErrors(t *testing.T) {
	cases := map[string]struct {
		source *SourceConfig
		want   pipeerrors.ErrorCategory
	}{
		"bad fingerprint mode": {
			source: &SourceConfig{Dedup: &DedupConfig{FingerprintMode: "sha1"}},
			want:   pipeerrors.DEDUP_ERROR,
		},
		"zero rate": {
			source: &SourceConfig{RateLimit: &RateLimitConfig{EventsPerSecond: 0, Burst: 5}},
			want:   pipeerrors.RATE_LIMIT_ERROR,
		},
		"unknown order": {
			source: &SourceConfig{Processing: ProcessingConfig{Order: "sideways"}},
			want:   pipeerrors.PIPELINE_ERROR,
		},
	}
	for name, tc := range cases {
		cfg := &EngineConfig{Sources: map[string]*SourceConfig{"trivy": tc.source}}
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected an error", name)
		}
		var pe *pipeerrors.PipelineError
		if !stderrors.As(err, &pe) {
			t.Fatalf("%s: error %v is not categorized", name, err)
		}
		if pe.Category != tc.want {
			t.Errorf("%s: category = %s, want %s", name, pe.Category, tc.want)
		}
	}
}

func TestParse_EmptyDocumentTakesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DedupWindow.Std() != 60*time.Second {
		t.Errorf("default dedupWindow = %v", cfg.DedupWindow.Std())
	}
	if cfg.Workers != 5 || cfg.ListenAddr != ":8080" {
		t.Errorf("defaults: workers=%d listen=%q", cfg.Workers, cfg.ListenAddr)
	}
}

func TestParseFilterRules(t *testing.T) {
	doc := []byte(`
default:
  static:
    minPriority: 0.2
sources:
  kyverno:
    static:
      excludedNamespaces: [kube-system]
      allowedTypes: [policy_violation]
    dynamic:
      - name: incident-41
        action: include
        priority: 10
        match:
          namespaces: [prod]
`)
	snap, err := ParseFilterRules(doc)
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	if snap.Default == nil || snap.Default.Static.MinPriority != 0.2 {
		t.Errorf("default rules: %+v", snap.Default)
	}
	ky := snap.Sources["kyverno"]
	if len(ky.Static.ExcludedNamespaces) != 1 || len(ky.Dynamic) != 1 {
		t.Errorf("kyverno rules: %+v", ky)
	}
	if ky.Dynamic[0].Action != filter.ActionInclude {
		t.Errorf("dynamic action = %q", ky.Dynamic[0].Action)
	}
}

func TestParseFilterRules_Rejected(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "defaultt: {}\n",
		"bad action":    "default:\n  dynamic:\n    - name: x\n      action: maybe\n",
		"unnamed rule":  "default:\n  dynamic:\n    - action: include\n",
		"fence above 1": "default:\n  static:\n    minPriority: 1.5\n",
	} {
		if _, err := ParseFilterRules([]byte(doc)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestStore_ReloadKeepsLastKnownGood(t *testing.T) {
	initial, err := Parse([]byte("workers: 3\n"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewStore(initial, nil)

	if err := store.Reload([]byte("not: a: config\n")); err == nil {
		t.Fatal("broken reload should error")
	}
	if store.Active().Workers != 3 {
		t.Error("failed reload must keep the previous config active")
	}

	if err := store.Reload([]byte("workers: 7\n")); err != nil {
		t.Fatalf("valid reload: %v", err)
	}
	if store.Active().Workers != 7 {
		t.Error("valid reload should swap the active config")
	}
}
