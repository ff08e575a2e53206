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

	sdklog "github.com/kube-zen/zen-sdk/pkg/logging"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/kube-zen/zen-pipeline/pkg/errors"
	"github.com/kube-zen/zen-pipeline/pkg/event"
	"github.com/kube-zen/zen-pipeline/pkg/metrics"
)

// ObservationGVR is the Observation custom resource
var ObservationGVR = schema.GroupVersionResource{
	Group:    "zen.kube-zen.io",
	Version:  "v1",
	Resource: "observations",
}

// CRDWriter writes admitted events as Observation custom resources
type CRDWriter struct {
	client    dynamic.Interface
	namespace string
	logger    *sdklog.Logger
	metrics   *metrics.Metrics
}

// NewCRDWriter creates a writer targeting the given namespace. Events
// carrying a namespaced resource are written to that namespace instead.
func NewCRDWriter(client dynamic.Interface, namespace string, logger *sdklog.Logger, m *metrics.Metrics) *CRDWriter {
	if namespace == "" {
		namespace = "default"
	}
	return &CRDWriter{
		client:    client,
		namespace: namespace,
		logger:    logger,
		metrics:   m,
	}
}

// Write creates one Observation for the event
func (w *CRDWriter) Write(ctx context.Context, ev *event.Event, occurrences int) error {
	obs := event.ToObservation(ev, occurrences)

	ns := w.namespace
	if ev.Resource != nil && ev.Resource.Namespace != "" {
		ns = ev.Resource.Namespace
	}
	obs.SetNamespace(ns)

	created, err := w.client.Resource(ObservationGVR).Namespace(ns).Create(ctx, obs, metav1.CreateOptions{})
	if err != nil {
		w.metrics.SinkFailures.WithLabelValues(metrics.SanitizeLabel(ev.Source), "create_error").Inc()
		w.logger.Error(err, "Failed to write Observation",
			sdklog.Operation("sink_write"),
			sdklog.String("source", ev.Source),
			sdklog.Namespace(ns))
		return errors.NewSinkError(ev.Source, "CREATE_FAILED", "create observation", err)
	}

	w.metrics.SinkWrites.WithLabelValues(metrics.SanitizeLabel(ev.Source)).Inc()
	w.logger.Debug("Wrote Observation",
		sdklog.Operation("sink_write"),
		sdklog.String("source", ev.Source),
		sdklog.String("name", created.GetName()),
		sdklog.Int("occurrences", occurrences))
	return nil
}
