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

package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"

	"github.com/kube-zen/zen-pipeline/internal/kubernetes"
	"github.com/kube-zen/zen-pipeline/internal/lifecycle"
	"github.com/kube-zen/zen-pipeline/pkg/config"
	"github.com/kube-zen/zen-pipeline/pkg/dispatcher"
	"github.com/kube-zen/zen-pipeline/pkg/event"
	"github.com/kube-zen/zen-pipeline/pkg/filter"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
	"github.com/kube-zen/zen-pipeline/pkg/optimization"
	"github.com/kube-zen/zen-pipeline/pkg/pipeline"
	"github.com/kube-zen/zen-pipeline/pkg/server"
	"github.com/kube-zen/zen-pipeline/pkg/sink"
)

// Version, Commit, and BuildDate are set via ldflags during build
var (
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the engine configuration file")
	rulesPath := flag.String("filter-rules", "", "path to the filter rules file")
	namespace := flag.String("namespace", "", "namespace for Observations without a resource namespace")
	dryRun := flag.Bool("dry-run", false, "process events without writing Observations")
	flag.Parse()

	logger := sdklog.NewLogger("zen-pipeline")
	logger.Info("Starting zen-pipeline",
		sdklog.Operation("startup"),
		sdklog.String("version", Version),
		sdklog.String("commit", Commit),
		sdklog.String("build_date", BuildDate))

	cfg, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error(err, "Failed to load configuration",
			sdklog.Operation("startup"))
		os.Exit(1)
	}

	snap, err := loadFilterRules(*rulesPath, logger)
	if err != nil {
		logger.Error(err, "Failed to load filter rules",
			sdklog.Operation("startup"))
		os.Exit(1)
	}
	filters, err := filter.NewEngine(snap)
	if err != nil {
		logger.Error(err, "Failed to build filter engine",
			sdklog.Operation("startup"))
		os.Exit(1)
	}

	m := metrics.NewMetrics()

	var out sink.Sink
	if *dryRun {
		logger.Info("Dry run: Observations will not be written",
			sdklog.Operation("startup"))
		out = sink.NewChannelSink()
	} else {
		clients, err := kubernetes.NewClients()
		if err != nil {
			logger.Error(err, "Failed to initialize Kubernetes client",
				sdklog.Operation("startup"))
			os.Exit(1)
		}
		ns := *namespace
		if ns == "" {
			ns = os.Getenv("POD_NAMESPACE")
		}
		out = sink.NewCRDWriter(clients.Dynamic, ns, logger, m)
	}

	pipe := pipeline.New(cfg, filters, out, m, logger)

	disp := dispatcher.New(cfg.Workers, cfg.QueueSize, func(ctx context.Context, ev *event.Event) error {
		pipe.Process(ctx, ev, time.Now())
		return nil
	})
	disp.Start()

	engine := optimization.NewEngine(pipe, cfg.OptimizationInterval.Std(), logger, nil)

	ctx := lifecycle.SetupSignalHandler()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	limiter := server.NewClientRateLimiter(50, 100,
		server.ParseTrustedProxyCIDRs(os.Getenv("TRUSTED_PROXY_CIDRS")))

	// Periodic housekeeping: close aged aggregation windows, drop expired
	// dynamic rules, forget idle rate limiter state
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				pipe.FlushAggregates(ctx, now)
				filters.PruneExpired(now)
				pipe.PruneLimiters(now)
				limiter.Prune(now)
			}
		}
	}()

	srv := server.NewServer(cfg.ListenAddr, pipe, disp, engine, filters, limiter, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error(err, "HTTP server failed",
				sdklog.Operation("startup"))
		}
	}()
	srv.SetReady(true)

	// Stop accepting requests as soon as the shutdown signal lands so the
	// server goroutine can join the wait group
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error",
				sdklog.Operation("shutdown"),
				sdklog.Error(err))
		}
	}()

	lifecycle.WaitForShutdown(ctx, &wg, func() {
		disp.Stop()
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pipe.Close(flushCtx)
	})
}

func loadConfig(path string, logger *sdklog.Logger) (*config.EngineConfig, error) {
	if path == "" {
		logger.Info("No config file given, using defaults",
			sdklog.Operation("startup"))
		return (&config.EngineConfig{}).WithDefaults(), nil
	}
	return config.ParseFile(path)
}

func loadFilterRules(path string, logger *sdklog.Logger) (*filter.Snapshot, error) {
	if path == "" {
		logger.Info("No filter rules given, allowing all events",
			sdklog.Operation("startup"))
		return &filter.Snapshot{}, nil
	}
	return config.ParseFilterRulesFile(path)
}
