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

package sink

import (
	"context"
	"sync"

	"github.com/kube-zen/zen-pipeline/pkg/event"
)

// Sink receives events that survived the pipeline
type Sink interface {
	// Write emits one admitted event with its folded occurrence count
	Write(ctx context.Context, ev *event.Event, occurrences int) error
}

// ChannelSink buffers written events in memory. Used in tests and as a
// tap for local debugging.
type ChannelSink struct {
	mu     sync.Mutex
	events []Written
}

// Written is one recorded sink write
type Written struct {
	Event       *event.Event
	Occurrences int
}

// NewChannelSink creates an empty in-memory sink
func NewChannelSink() *ChannelSink {
	return &ChannelSink{}
}

// Write records the event
func (s *ChannelSink) Write(_ context.Context, ev *event.Event, occurrences int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Written{Event: ev, Occurrences: occurrences})
	return nil
}

// Events returns a copy of everything written so far
func (s *ChannelSink) Events() []Written {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Written(nil), s.events...)
}

// Len returns the number of writes
func (s *ChannelSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
