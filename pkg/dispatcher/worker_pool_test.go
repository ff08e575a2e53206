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
	"testing"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

func TestDispatcher_HandlesEveryEnqueuedEvent(t *testing.T) {
	var handled int64
	d := New(3, 16, func(_ context.Context, _ *event.Event) error {
		atomic.AddInt64(&handled, 1)
		return nil
	})
	d.Start()

	for i := 0; i < 10; i++ {
		if err := d.Enqueue(&event.Event{Source: "trivy", EventType: "x"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	// Stop drains the queue before returning
	d.Stop()

	if n := atomic.LoadInt64(&handled); n != 10 {
		t.Errorf("handled %d events, want 10", n)
	}
}

func TestDispatcher_EnqueueShedsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	d := New(1, 2, func(_ context.Context, _ *event.Event) error {
		once.Do(started.Done)
		<-release
		return nil
	})
	d.Start()

	// First event occupies the single worker; wait until it is actually
	// being handled so the queue capacity is fully ours to fill
	if err := d.Enqueue(&event.Event{Source: "a", EventType: "x"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	started.Wait()

	if err := d.Enqueue(&event.Event{Source: "b", EventType: "x"}); err != nil {
		t.Fatalf("enqueue into empty queue: %v", err)
	}
	if err := d.Enqueue(&event.Event{Source: "c", EventType: "x"}); err != nil {
		t.Fatalf("enqueue into queue with space: %v", err)
	}
	if err := d.Enqueue(&event.Event{Source: "d", EventType: "x"}); err == nil {
		t.Error("enqueue into a full queue should shed the event")
	}

	close(release)
	d.Stop()
}

func TestDispatcher_EnqueueBlockingHonorsContext(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	d := New(1, 1, func(_ context.Context, _ *event.Event) error {
		once.Do(started.Done)
		<-release
		return nil
	})
	d.Start()

	_ = d.Enqueue(&event.Event{Source: "a", EventType: "x"})
	started.Wait()
	_ = d.Enqueue(&event.Event{Source: "b", EventType: "x"}) // fills the queue

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.EnqueueBlocking(ctx, &event.Event{Source: "c", EventType: "x"}); err == nil {
		t.Error("blocking enqueue should fail once the context is done")
	}

	close(release)
	d.Stop()
}

func TestDispatcher_HandlerErrorsDoNotStopWorkers(t *testing.T) {
	var handled int64
	d := New(2, 8, func(_ context.Context, ev *event.Event) error {
		atomic.AddInt64(&handled, 1)
		if ev.Source == "bad" {
			return fmt.Errorf("handler rejected event")
		}
		return nil
	})
	d.Start()

	for _, source := range []string{"bad", "good", "bad", "good"} {
		if err := d.Enqueue(&event.Event{Source: source, EventType: "x"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	d.Stop()

	if n := atomic.LoadInt64(&handled); n != 4 {
		t.Errorf("handled %d events, want all 4 despite errors", n)
	}
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := New(1, 1, func(_ context.Context, _ *event.Event) error { return nil })
	d.Start()
	d.Stop()
	d.Stop()
}
