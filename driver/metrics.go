/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package driver

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports driver activity.
type Metrics struct {
	roots       prometheus.Gauge
	evaluations prometheus.Counter
	changes     prometheus.Counter
	failures    *prometheus.CounterVec
	latency     prometheus.Histogram
}

// NewMetrics makes and registers the collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		roots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swan",
			Subsystem: "driver",
			Name:      "expressions",
			Help:      "Registered expressions",
		}),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "driver",
			Name:      "evaluations_total",
			Help:      "Evaluations of registered expressions",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "driver",
			Name:      "changes_total",
			Help:      "Evaluations that changed a result",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swan",
			Subsystem: "driver",
			Name:      "registration_failures_total",
			Help:      "Failed registrations by kind of error",
		}, []string{"kind"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swan",
			Subsystem: "driver",
			Name:      "evaluation_seconds",
			Help:      "Time to evaluate an expression tree",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.roots, m.evaluations, m.changes, m.failures, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
