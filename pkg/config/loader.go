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
	"bytes"
	"io"
	"os"
	"strconv"
	"sync"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/kube-zen/zen-pipeline/pkg/errors"
	"github.com/kube-zen/zen-pipeline/pkg/filter"
)

// Parse decodes an engine configuration document. Unknown fields are
// rejected so typos fail loudly instead of silently taking defaults.
func Parse(data []byte) (*EngineConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &EngineConfig{}
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg.WithDefaults(), nil
		}
		return nil, errors.NewConfigError("engine", "DECODE_FAILED", "decode engine config", err)
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError("engine", "VALIDATION_FAILED", "validate engine config", err)
	}
	return cfg, nil
}

// ParseFile loads and parses an engine configuration file
func ParseFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("engine", "READ_FAILED", "read config file", err)
	}
	cfg, perr := Parse(data)
	if perr != nil {
		return nil, perr
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// ParseFilterRules decodes a filter rule document. Rule documents use the
// Kubernetes YAML dialect so they can be shipped in ConfigMaps alongside
// other manifests.
func ParseFilterRules(data []byte) (*filter.Snapshot, error) {
	snap := &filter.Snapshot{}
	if err := sigsyaml.UnmarshalStrict(data, snap); err != nil {
		return nil, errors.NewConfigError("filter", "DECODE_FAILED", "decode filter rules", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, errors.NewConfigError("filter", "VALIDATION_FAILED", "validate filter rules", err)
	}
	return snap, nil
}

// ParseFilterRulesFile loads and parses a filter rule file
func ParseFilterRulesFile(path string) (*filter.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("filter", "READ_FAILED", "read filter rules file", err)
	}
	return ParseFilterRules(data)
}

// Store holds the active engine configuration and retains the last-known-good
// snapshot across failed reloads. Readers always see a complete, validated
// configuration.
type Store struct {
	mu     sync.RWMutex
	active *EngineConfig
	logger *sdklog.Logger
}

// NewStore seeds the store with an initial validated configuration
func NewStore(initial *EngineConfig, logger *sdklog.Logger) *Store {
	if initial == nil {
		initial = (&EngineConfig{}).WithDefaults()
	}
	return &Store{active: initial, logger: logger}
}

// Active returns the current configuration
func (s *Store) Active() *EngineConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Reload parses and swaps in a new configuration document. On any parse or
// validation failure the previous configuration stays active and the error
// is returned to the caller.
func (s *Store) Reload(data []byte) error {
	cfg, err := Parse(data)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("Rejected config reload, keeping last-known-good",
				sdklog.Operation("config_reload"),
				sdklog.Error(err))
		}
		return err
	}
	s.mu.Lock()
	s.active = cfg
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("Applied config reload",
			sdklog.Operation("config_reload"),
			sdklog.Int("sources", len(cfg.Sources)))
	}
	return nil
}

// applyEnvOverrides lets deployment environments tweak the listen address
// and pool sizing without editing the mounted config document
func applyEnvOverrides(cfg *EngineConfig) {
	if v := os.Getenv("ZEN_PIPELINE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ZEN_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("ZEN_PIPELINE_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
}
