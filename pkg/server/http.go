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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kube-zen/zen-pipeline/pkg/dispatcher"
	"github.com/kube-zen/zen-pipeline/pkg/event"
	"github.com/kube-zen/zen-pipeline/pkg/filter"
	"github.com/kube-zen/zen-pipeline/pkg/optimization"
	"github.com/kube-zen/zen-pipeline/pkg/pipeline"
)

// Server exposes event intake, health probes, Prometheus metrics, and the
// per-source control surface
type Server struct {
	server   *http.Server
	pipe     *pipeline.Pipeline
	disp     *dispatcher.Dispatcher
	engine   *optimization.Engine
	filters  *filter.Engine
	logger   *sdklog.Logger
	limiter  *ClientRateLimiter
	ready    bool
	readyMu  sync.RWMutex
}

// NewServer builds the server and wires all routes
func NewServer(addr string, pipe *pipeline.Pipeline, disp *dispatcher.Dispatcher, engine *optimization.Engine, filters *filter.Engine, limiter *ClientRateLimiter, logger *sdklog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		pipe:    pipe,
		disp:    disp,
		engine:  engine,
		filters: filters,
		logger:  logger,
		limiter: limiter,
	}

	var handler http.Handler = mux
	if limiter != nil {
		handler = limiter.Middleware(mux)
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.registerHandlers(mux)
	return s
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy")
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		s.readyMu.RLock()
		ready := s.ready
		s.readyMu.RUnlock()
		if ready {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "ready")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "not ready")
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/events", s.handleIngest)

	mux.HandleFunc("GET /api/v1/sources/{source}/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/sources/{source}/strategy", s.handleForceStrategy)
	mux.HandleFunc("DELETE /api/v1/sources/{source}/strategy", s.handleClearStrategy)
	mux.HandleFunc("POST /api/v1/sources/{source}/reset", s.handleReset)
	mux.HandleFunc("POST /api/v1/sources/{source}/rules", s.handleAddRule)
}

// handleIngest accepts one normalized event and queues it for processing
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now()
	}

	if err := s.disp.Enqueue(&ev); err != nil {
		s.logger.Warn("Intake queue full, shedding event",
			sdklog.Operation("event_ingest"),
			sdklog.String("source", ev.Source))
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"status":"accepted"}`)
}

// handleStatus reports a source's live pipeline state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	status, ok := s.pipe.Status(source, time.Now())
	if !ok {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	payload := map[string]interface{}{"pipeline": status}
	if s.engine != nil {
		if st, ok := s.engine.States().SnapshotState(source); ok {
			payload["optimization"] = map[string]interface{}{
				"phase":       string(st.Phase),
				"strategy":    st.Current.String(),
				"lastChange":  st.LastChange,
				"transitions": len(st.History),
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type forceStrategyRequest struct {
	Strategy string `json:"strategy"`
}

// handleForceStrategy pins a source to an operator-chosen stage order
func (s *Server) handleForceStrategy(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	var req forceStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	strategy, err := optimization.ParseStrategy(req.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.pipe.ForceStrategy(source, strategy)
	s.logger.Info("Operator forced strategy",
		sdklog.Operation("strategy_force"),
		sdklog.String("source", source),
		sdklog.String("strategy", strategy.String()))
	writeJSON(w, http.StatusOK, map[string]string{"source": source, "strategy": strategy.String()})
}

// handleClearStrategy returns a source to decider control
func (s *Server) handleClearStrategy(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	s.pipe.ClearForce(source)
	writeJSON(w, http.StatusOK, map[string]string{"source": source, "strategy": "auto"})
}

// handleReset drops a source's dedup, window, and aggregation state
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if !s.pipe.ResetSource(source) {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": source, "status": "reset"})
}

type addRuleRequest struct {
	Name       string   `json:"name"`
	Action     string   `json:"action"`
	Priority   float64  `json:"priority"`
	TTLSeconds int64    `json:"ttlSeconds"`
	Namespaces []string `json:"namespaces,omitempty"`
	EventTypes []string `json:"eventTypes,omitempty"`
	MinSeverity *float64 `json:"minSeverity,omitempty"`
	MaxSeverity *float64 `json:"maxSeverity,omitempty"`
}

// handleAddRule installs a TTL-bounded dynamic filter rule for a source
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rule := filter.DynamicRule{
		Name:     req.Name,
		Action:   filter.Action(req.Action),
		Priority: req.Priority,
		Match: filter.Match{
			Namespaces:  req.Namespaces,
			EventTypes:  req.EventTypes,
			MinSeverity: req.MinSeverity,
			MaxSeverity: req.MaxSeverity,
		},
	}
	if req.TTLSeconds > 0 {
		rule.ExpiresAt = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	}

	if err := s.filters.AddDynamicRule(source, rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("Installed dynamic filter rule",
		sdklog.Operation("rule_install"),
		sdklog.String("source", source),
		sdklog.String("rule", rule.Name),
		sdklog.String("action", string(rule.Action)))
	writeJSON(w, http.StatusCreated, map[string]string{"source": source, "rule": rule.Name})
}

// SetReady flips the readiness probe
func (s *Server) SetReady(ready bool) {
	s.readyMu.Lock()
	s.ready = ready
	s.readyMu.Unlock()
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening",
		sdklog.Operation("server_start"),
		sdklog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
