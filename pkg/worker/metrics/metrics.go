/*
Copyright 2024 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's prometheus collectors, all registered on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	invocations         *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	inFlight            prometheus.Gauge
	loadedFunctions     prometheus.Gauge
	pendingCorrelations prometheus.Gauge
	receivedMessages    *prometheus.CounterVec
	sentMessages        prometheus.Counter
}

// NewMetrics creates the collectors. workerID is attached to every metric as a constant label
func NewMetrics(workerID string) (*Metrics, error) {
	labels := prometheus.Labels{
		"worker_id": workerID,
	}

	newMetrics := &Metrics{
		Registry: prometheus.NewRegistry(),
	}

	newMetrics.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nuclio_worker_invocations_total",
		Help:        "Number of handled invocations",
		ConstLabels: labels,
	}, []string{"function", "status"})

	newMetrics.invocationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "nuclio_worker_invocation_duration_seconds",
		Help:        "Time it took to handle an invocation, including marshalling",
		ConstLabels: labels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"function"})

	newMetrics.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "nuclio_worker_in_flight_requests",
		Help:        "Number of requests currently being handled",
		ConstLabels: labels,
	})

	newMetrics.loadedFunctions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "nuclio_worker_loaded_functions",
		Help:        "Number of functions in the registry",
		ConstLabels: labels,
	})

	newMetrics.pendingCorrelations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "nuclio_worker_pending_http_correlations",
		Help:        "Number of HTTP correlation entries not yet released",
		ConstLabels: labels,
	})

	newMetrics.receivedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "nuclio_worker_received_messages_total",
		Help:        "Number of messages received from the host, by kind",
		ConstLabels: labels,
	}, []string{"kind"})

	newMetrics.sentMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "nuclio_worker_sent_messages_total",
		Help:        "Number of messages sent to the host",
		ConstLabels: labels,
	})

	for collectorName, collector := range map[string]prometheus.Collector{
		"invocations":         newMetrics.invocations,
		"invocationDuration":  newMetrics.invocationDuration,
		"inFlight":            newMetrics.inFlight,
		"loadedFunctions":     newMetrics.loadedFunctions,
		"pendingCorrelations": newMetrics.pendingCorrelations,
		"receivedMessages":    newMetrics.receivedMessages,
		"sentMessages":        newMetrics.sentMessages,
	} {
		if err := newMetrics.Registry.Register(collector); err != nil {
			return nil, errors.Wrapf(err, "Failed to register %s", collectorName)
		}
	}

	return newMetrics, nil
}

// ObserveInvocation records a finished invocation
func (m *Metrics) ObserveInvocation(functionName string, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.invocations.WithLabelValues(functionName, status).Inc()
	m.invocationDuration.WithLabelValues(functionName).Observe(duration.Seconds())
}

func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}

	m.inFlight.Inc()
}

func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}

	m.inFlight.Dec()
}

func (m *Metrics) SetLoadedFunctions(count int) {
	if m == nil {
		return
	}

	m.loadedFunctions.Set(float64(count))
}

func (m *Metrics) SetPendingCorrelations(count int) {
	if m == nil {
		return
	}

	m.pendingCorrelations.Set(float64(count))
}

func (m *Metrics) IncReceived(kind string) {
	if m == nil {
		return
	}

	m.receivedMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSent() {
	if m == nil {
		return
	}

	m.sentMessages.Inc()
}
