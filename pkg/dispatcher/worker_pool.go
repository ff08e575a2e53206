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

package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

// Package-level logger to avoid repeated allocations
var dispatcherLogger = sdklog.NewLogger("zen-pipeline-dispatcher")

var (
	// QueueDepth tracks the current depth of the intake queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zen_pipeline_dispatcher_queue_depth",
			Help: "Current number of events waiting in the dispatcher queue",
		},
	)

	// WorkersActive tracks workers currently processing an event
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zen_pipeline_dispatcher_workers_active",
			Help: "Current number of workers processing events",
		},
	)

	// EventsDispatched tracks events handed to the pipeline by outcome
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pipeline_dispatcher_events_total",
			Help: "Total number of events dispatched to the pipeline",
		},
		[]string{"status"}, // success, error
	)

	// DispatchDuration tracks per-event handling time
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zen_pipeline_dispatcher_duration_seconds",
			Help:    "Duration of event dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

// Handler processes one event; the dispatcher calls it from worker
// goroutines
type Handler func(ctx context.Context, ev *event.Event) error

// Dispatcher fans events out to a fixed pool of workers over a bounded
// queue. Enqueue never blocks; a full queue sheds load at intake.
type Dispatcher struct {
	workers   int
	queue     chan *event.Event
	queueSize int
	handler   Handler

	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	activeWorkers int64
	stopOnce      sync.Once
}

// New creates a dispatcher with the given pool and queue sizes
func New(workers, queueSize int, handler Handler) *Dispatcher {
	if workers <= 0 {
		workers = 5
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workers:   workers,
		queue:     make(chan *event.Event, queueSize),
		queueSize: queueSize,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	dispatcherLogger.Info("Dispatcher started",
		sdklog.Operation("dispatcher_start"),
		sdklog.Int("workers", d.workers),
		sdklog.Int("queue_size", d.queueSize))
}

// Stop closes the queue and waits for in-flight events to finish
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
		d.cancel()
	})
}

// Enqueue hands an event to the pool without blocking. Returns an error
// when the queue is full.
func (d *Dispatcher) Enqueue(ev *event.Event) error {
	select {
	case d.queue <- ev:
		QueueDepth.Inc()
		return nil
	default:
		return fmt.Errorf("dispatcher queue full (max: %d)", d.queueSize)
	}
}

// EnqueueBlocking hands an event to the pool, waiting for space until the
// context ends
func (d *Dispatcher) EnqueueBlocking(ctx context.Context, ev *event.Event) error {
	select {
	case d.queue <- ev:
		QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueLen returns the current queue occupancy
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// ActiveWorkers returns the number of workers processing an event right now
func (d *Dispatcher) ActiveWorkers() int {
	return int(atomic.LoadInt64(&d.activeWorkers))
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				return
			}

			QueueDepth.Dec()
			atomic.AddInt64(&d.activeWorkers, 1)
			WorkersActive.Inc()

			start := time.Now()
			err := d.dispatch(ev)

			status := "success"
			if err != nil {
				status = "error"
			}
			EventsDispatched.WithLabelValues(status).Inc()
			DispatchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

			atomic.AddInt64(&d.activeWorkers, -1)
			WorkersActive.Dec()

			if err != nil {
				dispatcherLogger.Warn("Event dispatch failed",
					sdklog.Operation("dispatcher_worker"),
					sdklog.ErrorCode("DISPATCH_ERROR"),
					sdklog.Error(err),
					sdklog.Int("worker_id", id))
			}

		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) dispatch(ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()
	return d.handler(ctx, ev)
}
